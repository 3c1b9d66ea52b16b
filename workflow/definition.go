package workflow

import (
	"sync"
	"time"
)

// WorkflowDefinition 工作流定义entity,可复用的流程模板
// 状态机的形状完全由定义给出,引擎里面不写死任何状态
type WorkflowDefinition struct {
	ID           string
	Name         string
	Category     string
	Version      string
	InitialState string
	States       []*StateDefinition
	Transitions  []*TransitionDefinition
	// BusinessRules 业务规则(必填字段/自动分配等),引擎消费,校验器不关心
	BusinessRules *JSONContext
	IsActive      bool
	UsageCount    int64
	// OrganizationID 为空表示所有租户共享的模板
	OrganizationID string
	CreatedBy      string
	CreatedAt      int64
	UpdatedAt      int64
}

// StateDefinition 状态定义
type StateDefinition struct {
	Name  string `json:"name" validate:"required"`
	Title string `json:"title"`
	// IsInitial 展示用途,真正的起始状态以定义的 initial_state 为准
	IsInitial bool `json:"is_initial"`
	// IsFinal 流转到该状态后实例进入终止状态,不能再流转
	IsFinal bool `json:"is_final"`
	// FinalStatus 进入该终态后实例落库的状态,默认completed
	// 审批拒绝类的终态可以配成failed
	FinalStatus string `json:"final_status" validate:"omitempty,oneof=completed failed"`
	// Metadata 展示相关的扩展信息,引擎不解释
	Metadata map[string]any `json:"metadata"`
}

// TransitionDefinition 流转定义, (from, to, action[, condition]) 一条边
type TransitionDefinition struct {
	From   string `json:"from" validate:"required"`
	To     string `json:"to" validate:"required"`
	Action string `json:"action" validate:"required"`
	// Condition 可选的路由条件,同一个action有多条边时按声明顺序取第一条满足的
	Condition *TransitionCondition `json:"condition"`
}

// GetValidTransitions 返回从 fromState 出发的所有流转
func (d *WorkflowDefinition) GetValidTransitions(fromState string) []*TransitionDefinition {
	ret := make([]*TransitionDefinition, 0)
	for _, t := range d.Transitions {
		if t.From == fromState {
			ret = append(ret, t)
		}
	}
	return ret
}

// ValidateTransition 校验 from->to 是否是定义里面的一条边
// action为空串时只要from/to匹配即可,给辅助检查使用
func (d *WorkflowDefinition) ValidateTransition(fromState string, toState string, action string) bool {
	for _, t := range d.Transitions {
		if t.From != fromState || t.To != toState {
			continue
		}
		if action == "" || t.Action == action {
			return true
		}
	}
	return false
}

// FindState 按名称查找状态定义
func (d *WorkflowDefinition) FindState(name string) (*StateDefinition, bool) {
	for _, s := range d.States {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// IsFinalState 目标状态是否终态
func (d *WorkflowDefinition) IsFinalState(name string) bool {
	s, ok := d.FindState(name)
	return ok && s.IsFinal
}

// FinalInstanceStatus 进入name之后实例应该落库的状态
// 非终态返回false; 终态默认completed,配了final_status=failed时返回failed
func (d *WorkflowDefinition) FinalInstanceStatus(name string) (WorkflowInstanceStatus, bool) {
	s, ok := d.FindState(name)
	if !ok || !s.IsFinal {
		return "", false
	}
	if s.FinalStatus == WorkflowInstanceStatusFailed {
		return WorkflowInstanceStatusFailed, true
	}
	return WorkflowInstanceStatusCompleted, true
}

// ComputeProgress 按状态在列表中的位置计算进度百分比,取值[0,100]
// 当前状态不在列表里时返回false,调用方跳过进度更新(定义被改过的边缘场景)
func (d *WorkflowDefinition) ComputeProgress(currentState string) (int64, bool) {
	total := len(d.States)
	if total <= 1 {
		// 单状态定义,建出来就是终点
		if _, ok := d.FindState(currentState); ok {
			return 100, true
		}
		return 0, false
	}
	for i, s := range d.States {
		if s.Name == currentState {
			progress := int64(float64(i)/float64(total-1)*100 + 0.5)
			if progress > 100 {
				progress = 100
			}
			if progress < 0 {
				progress = 0
			}
			return progress, true
		}
	}
	return 0, false
}

// AvailableActions 当前状态下语法上可用的action集合(不评估条件),去重保序
// GetStatus 返回的 available_actions 就是这个超集
func (d *WorkflowDefinition) AvailableActions(fromState string) []string {
	ret := make([]string, 0)
	seen := make(map[string]struct{})
	for _, t := range d.Transitions {
		if t.From != fromState {
			continue
		}
		if _, ok := seen[t.Action]; ok {
			continue
		}
		seen[t.Action] = struct{}{}
		ret = append(ret, t.Action)
	}
	return ret
}

// definitionCache 定义缓存,带TTL
// 定义改动很少,可以短暂缓存;实例和历史永远查库,流转正确性依赖最新状态
// 注意这是挂在引擎实例上的,不是进程级单例
type definitionCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	// id -> cacheEntry
	entries map[string]*definitionCacheEntry
}

type definitionCacheEntry struct {
	definition *WorkflowDefinition
	expireAt   time.Time
}

func newDefinitionCache(ttl time.Duration) *definitionCache {
	return &definitionCache{
		ttl:     ttl,
		entries: make(map[string]*definitionCacheEntry),
	}
}

func (c *definitionCache) get(id string) (*WorkflowDefinition, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expireAt) {
		return nil, false
	}
	return entry.definition, true
}

func (c *definitionCache) put(id string, definition *WorkflowDefinition) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[id] = &definitionCacheEntry{
		definition: definition,
		expireAt:   time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *definitionCache) invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
