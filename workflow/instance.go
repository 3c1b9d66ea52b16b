package workflow

import "time"

// WorkflowInstance 工作流实例entity,一个业务对象上的一次流程执行
type WorkflowInstance struct {
	ID           int64
	DefinitionID string
	// EntityID/EntityType 实例跟踪的外部业务对象
	EntityID   string
	EntityType string
	Title      string
	// OrganizationID 租户隔离边界,所有实例查询必须带上
	OrganizationID string
	CurrentState   string
	// PreviousState 最近一次流转之前的状态,没有流转过为空
	PreviousState string
	Status        WorkflowInstanceStatus
	// ContextData 业务变量,条件路由和历史快照都从这里取
	ContextData        *JSONContext
	ProgressPercentage int64
	// DueDate 可选,单位秒
	DueDate       *int64
	AssignedTo    string
	AssignedGroup string
	StartedAt     int64
	CompletedAt   *int64
	CreatedBy     string
	// Version 乐观锁版本号,每次写都会递增
	Version   int64
	CreatedAt int64
	UpdatedAt int64
}

// IsOverdue 是否逾期: 设置了due_date且已过期且未完成
func (i *WorkflowInstance) IsOverdue() bool {
	if i.DueDate == nil {
		return false
	}
	return *i.DueDate < time.Now().Unix() && i.Status != WorkflowInstanceStatusCompleted
}

// WorkflowHistoryEntry 历史entity,一次流转(或被拒绝的流转)的审计记录,只增不改
type WorkflowHistoryEntry struct {
	ID         int64
	InstanceID int64
	// FromState 只有创建记录为空
	FromState   string
	ToState     string
	Action      string
	TriggeredBy string
	TriggerType TriggerType
	Comment     string
	// ActionMetadata 调用方附加信息,引擎不解释
	ActionMetadata *JSONContext
	// ContextSnapshot 流转时刻(合并data之后)的上下文拷贝
	ContextSnapshot *JSONContext
	WasSuccessful   bool
	ErrorMessage    string
	DurationMs      int64
	CreatedAt       int64
}

// AIInsight 外部AI分析产出的参考性标注,不参与流转,不影响实例状态
type AIInsight struct {
	ID             int64
	InstanceID     int64
	OrganizationID string
	InsightType    string
	Content        *JSONContext
	// ConfidenceScore 期望落在[0,1],超出不拦截,按数据质量问题处理
	ConfidenceScore float64
	GeneratedBy     string
	CreatedAt       int64
}

// InstanceStatusView GetStatus 返回的状态视图
type InstanceStatusView struct {
	Instance *WorkflowInstance
	// AvailableActions 当前状态下语法上可用的action超集,不评估条件
	AvailableActions []string
	// RecentHistory 最近N条历史,新的在前
	RecentHistory []*WorkflowHistoryEntry
}
