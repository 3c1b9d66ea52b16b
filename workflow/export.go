package workflow

import (
	"context"
	"time"
)

type WorkflowEngine interface {
	/**
	 * @description: 创建工作流定义, 管理员入口
	 *               初始状态必须出现在states里面,状态名不能重复,
	 *               流转边的from/to必须是已知状态
	 * @param ctx context.Context
	 * @param req *CreateDefinitionReq
	 * @return *WorkflowDefinition, error
	 */
	CreateDefinition(ctx context.Context, req *CreateDefinitionReq) (*WorkflowDefinition, error)
	/**
	 * @description: 获取启用状态的定义
	 *               停用或者不存在都返回ErrWorkflowDefinitionNotFound
	 * @param ctx context.Context
	 * @param definitionID string
	 * @return *WorkflowDefinition, error
	 */
	GetActiveDefinition(ctx context.Context, definitionID string) (*WorkflowDefinition, error)
	/**
	 * @description: 启用/停用定义, 停用只挡新实例,存量实例不受影响
	 * @param ctx context.Context
	 * @param definitionID string
	 * @param active bool
	 * @return error
	 */
	SetDefinitionActive(ctx context.Context, definitionID string, active bool) error

	/**
	 * @description: 从定义创建实例
	 *               实例落库/创建历史/定义usage_count自增 三个写在同一个事务里面,
	 *               要么全部成功要么全部失败
	 * @param ctx context.Context
	 * @param req *CreateInstanceReq
	 * @return *WorkflowInstance, error
	 */
	CreateInstance(ctx context.Context, req *CreateInstanceReq) (*WorkflowInstance, error)
	/**
	 * @description: 查询实例状态视图
	 *               available_actions是语法上可用的超集,不评估条件
	 * @param ctx context.Context
	 * @param instanceID int64
	 * @return *InstanceStatusView, error
	 */
	GetStatus(ctx context.Context, instanceID int64) (*InstanceStatusView, error)
	/**
	 * @description: 查询分配给某个用户的实例列表
	 *               必须带organization_id,不同租户的数据绝对不能串
	 * @param ctx context.Context
	 * @param params *ListForUserParams
	 * @return []*WorkflowInstance, error
	 */
	ListForUser(ctx context.Context, params *ListForUserParams) ([]*WorkflowInstance, error)
	/**
	 * @description: 和ListForUser同样的过滤条件,返回总数,给分页用
	 */
	CountInstances(ctx context.Context, params *ListForUserParams) (int64, error)

	/**
	 * @description: 按action推进实例
	 *               同一个实例的流转是串行的(实例锁+乐观锁版本号),
	 *               两个并发流转绝不会同时成功
	 *               流转/合并上下文/进度重算/历史写入在同一个事务里面
	 * @param ctx context.Context
	 * @param req *AdvanceReq
	 * @return *WorkflowInstance, error
	 */
	Advance(ctx context.Context, req *AdvanceReq) (*WorkflowInstance, error)
	/**
	 * @description: 显式修改实例上下文,不触发流转,不写历史
	 * @param ctx context.Context
	 * @param req *SetContextValueReq
	 * @return error
	 */
	SetContextValue(ctx context.Context, req *SetContextValueReq) error
	/**
	 * @description: 暂停实例, active -> paused, 会写一条审计记录
	 */
	PauseInstance(ctx context.Context, req *PauseResumeReq) error
	/**
	 * @description: 恢复实例, paused -> active, 会写一条审计记录
	 */
	ResumeInstance(ctx context.Context, req *PauseResumeReq) error
	/**
	 * @description: 删除实例,级联删除它的历史和insight
	 * @param ctx context.Context
	 * @param instanceID int64
	 * @param organizationID string 租户校验
	 * @return error
	 */
	DeleteInstance(ctx context.Context, instanceID int64, organizationID string) error

	/**
	 * @description: 外部AI分析结果挂到实例上,纯插入
	 *               不读实例状态(存在性检查除外),不影响流转,和Advance没有锁交互
	 * @param ctx context.Context
	 * @param req *AttachInsightReq
	 * @return *AIInsight, error
	 */
	AttachInsight(ctx context.Context, req *AttachInsightReq) (*AIInsight, error)
	/**
	 * @description: 查询实例上的insight列表
	 */
	QueryInsights(ctx context.Context, params *QueryInsightsParams) ([]*AIInsight, error)
}

// WorkflowEngineImpl 工作流引擎
// 依赖全部通过构造函数注入,没有进程级单例
type WorkflowEngineImpl struct {
	repo        WorkflowRepo
	executeLock WorkflowLock
	validator   *TransitionValidator
	defCache    *definitionCache
}

// 定义缓存TTL,定义改动很少,短缓存足够;实例和历史永远查库
const defaultDefinitionCacheTTL = 30 * time.Second

func NewWorkflowEngine(repo WorkflowRepo, executeLock WorkflowLock) WorkflowEngine {
	return &WorkflowEngineImpl{
		repo:        repo,
		executeLock: executeLock,
		validator:   NewTransitionValidator(),
		defCache:    newDefinitionCache(defaultDefinitionCacheTTL),
	}
}

// 指针辅助函数,构造查询/更新参数时用
func String(s string) *string { return &s }
func Bool(b bool) *bool       { return &b }
func Int64(i int64) *int64    { return &i }
