package workflow

import (
	"context"
)

type WorkflowRepo interface {
	CreateWorkflowDefinition(ctx context.Context, definition *WorkflowDefinitionPo) (*WorkflowDefinitionPo, error)
	QueryWorkflowDefinition(ctx context.Context, param *QueryWorkflowDefinitionParams) ([]*WorkflowDefinitionPo, error)
	UpdateWorkflowDefinition(ctx context.Context, param *UpdateWorkflowDefinitionParams) error

	CreateWorkflowInstance(ctx context.Context, workflowInstance *WorkflowInstancePo) (*WorkflowInstancePo, error)
	QueryWorkflowInstance(ctx context.Context, param *QueryWorkflowInstanceParams) ([]*WorkflowInstancePo, error)
	CountWorkflowInstance(ctx context.Context, param *QueryWorkflowInstanceParams) (int64, error)
	// UpdateWorkflowInstance 返回实际命中的行数,乐观锁检查依赖这个返回值
	UpdateWorkflowInstance(ctx context.Context, param *UpdateWorkflowInstanceParams) (int64, error)
	DeleteWorkflowInstance(ctx context.Context, instanceID int64) error

	CreateWorkflowHistory(ctx context.Context, entry *WorkflowHistoryPo) (*WorkflowHistoryPo, error)
	QueryWorkflowHistory(ctx context.Context, param *QueryWorkflowHistoryParams) ([]*WorkflowHistoryPo, error)
	DeleteWorkflowHistoryByInstance(ctx context.Context, instanceID int64) error

	CreateAIInsight(ctx context.Context, insight *AIInsightPo) (*AIInsightPo, error)
	QueryAIInsight(ctx context.Context, param *QueryAIInsightParams) ([]*AIInsightPo, error)
	DeleteAIInsightByInstance(ctx context.Context, instanceID int64) error

	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
