package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/blingmoon/flowstate/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestEngine 创建测试引擎
func setupTestEngine(t *testing.T) workflow.WorkflowEngine {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// 内存库在多个连接下是多个独立的库,并发测试必须固定单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&workflow.WorkflowDefinitionPo{},
		&workflow.WorkflowInstancePo{},
		&workflow.WorkflowHistoryPo{},
		&workflow.AIInsightPo{},
	)
	require.NoError(t, err)

	repo := workflow.NewWorkflowRepo(db)
	lock := workflow.NewLocalWorkflowLock()
	return workflow.NewWorkflowEngine(repo, lock)
}

// createApprovalDefinition 测试通用的审批定义
// submitted -> manager_review -> approved, 金额超过2万走 director_review
func createApprovalDefinition(t *testing.T, engine workflow.WorkflowEngine, definitionID string, orgID string) {
	_, err := engine.CreateDefinition(context.Background(), &workflow.CreateDefinitionReq{
		DefinitionID: definitionID,
		Name:         "审批工作流",
		Category:     "finance",
		InitialState: "submitted",
		States: []*workflow.StateDefinition{
			{Name: "submitted", Title: "已提交"},
			{Name: "manager_review", Title: "主管审核"},
			{Name: "director_review", Title: "总监审核"},
			{Name: "approved", Title: "已批准", IsFinal: true},
		},
		Transitions: []*workflow.TransitionDefinition{
			{From: "submitted", To: "director_review", Action: "review", Condition: &workflow.TransitionCondition{
				Field:    "amount",
				Operator: workflow.ConditionOpGt,
				Value:    20000,
			}},
			{From: "submitted", To: "manager_review", Action: "review"},
			{From: "manager_review", To: "approved", Action: "approve"},
			{From: "director_review", To: "approved", Action: "approve"},
		},
		OrganizationID: orgID,
		CreatedBy:      "admin",
	})
	require.NoError(t, err)
}

// TestDefinitionLifecycle 测试定义的创建/查询/停用
func TestDefinitionLifecycle(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()

	t.Run("创建并查询定义", func(t *testing.T) {
		createApprovalDefinition(t, engine, "def_lifecycle", "")

		definition, err := engine.GetActiveDefinition(ctx, "def_lifecycle")
		require.NoError(t, err)
		assert.Equal(t, "def_lifecycle", definition.ID)
		assert.Equal(t, "submitted", definition.InitialState)
		assert.Len(t, definition.States, 4)
		assert.Len(t, definition.Transitions, 4)
		assert.True(t, definition.IsActive)
	})

	t.Run("非法定义被拒绝", func(t *testing.T) {
		// 初始状态不在states里面
		_, err := engine.CreateDefinition(ctx, &workflow.CreateDefinitionReq{
			DefinitionID: "bad_initial",
			Name:         "bad",
			InitialState: "missing",
			States:       []*workflow.StateDefinition{{Name: "a"}},
			CreatedBy:    "admin",
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowParamInvalid)

		// 状态名重复
		_, err = engine.CreateDefinition(ctx, &workflow.CreateDefinitionReq{
			DefinitionID: "bad_dup",
			Name:         "bad",
			InitialState: "a",
			States:       []*workflow.StateDefinition{{Name: "a"}, {Name: "a"}},
			CreatedBy:    "admin",
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowParamInvalid)

		// 流转边引用未知状态
		_, err = engine.CreateDefinition(ctx, &workflow.CreateDefinitionReq{
			DefinitionID: "bad_edge",
			Name:         "bad",
			InitialState: "a",
			States:       []*workflow.StateDefinition{{Name: "a"}},
			Transitions: []*workflow.TransitionDefinition{
				{From: "a", To: "ghost", Action: "go"},
			},
			CreatedBy: "admin",
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowParamInvalid)
	})

	t.Run("停用后不能创建新实例", func(t *testing.T) {
		createApprovalDefinition(t, engine, "def_deactivate", "")

		err := engine.SetDefinitionActive(ctx, "def_deactivate", false)
		require.NoError(t, err)

		_, err = engine.GetActiveDefinition(ctx, "def_deactivate")
		assert.ErrorIs(t, err, workflow.ErrWorkflowDefinitionNotFound)

		_, err = engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
			DefinitionID:   "def_deactivate",
			EntityID:       "E-1",
			OrganizationID: "org-1",
			CreatedBy:      "alice",
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowDefinitionNotFound)
	})

	t.Run("停用不影响存量实例流转", func(t *testing.T) {
		createApprovalDefinition(t, engine, "def_legacy", "")

		instance, err := engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
			DefinitionID:   "def_legacy",
			EntityID:       "E-2",
			ContextData:    map[string]any{"amount": 100},
			OrganizationID: "org-1",
			CreatedBy:      "alice",
		})
		require.NoError(t, err)

		err = engine.SetDefinitionActive(ctx, "def_legacy", false)
		require.NoError(t, err)

		instance, err = engine.Advance(ctx, &workflow.AdvanceReq{
			InstanceID: instance.ID,
			Action:     "review",
			UserID:     "alice",
		})
		require.NoError(t, err)
		assert.Equal(t, "manager_review", instance.CurrentState)
	})
}

// TestInstanceCreationBasic 测试实例创建
func TestInstanceCreationBasic(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()
	createApprovalDefinition(t, engine, "def_create", "")

	t.Run("创建实例", func(t *testing.T) {
		instance, err := engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
			DefinitionID:   "def_create",
			EntityID:       "EXP-001",
			EntityType:     "expense",
			Title:          "差旅报销",
			ContextData:    map[string]any{"amount": 5000},
			AssignedTo:     "alice",
			OrganizationID: "org-1",
			CreatedBy:      "alice",
		})
		require.NoError(t, err)
		assert.Greater(t, instance.ID, int64(0))
		assert.Equal(t, "submitted", instance.CurrentState)
		assert.Equal(t, workflow.WorkflowInstanceStatusActive, instance.Status)
		assert.Equal(t, int64(0), instance.ProgressPercentage)
		assert.Greater(t, instance.StartedAt, int64(0))

		// 创建历史记录: from为空串, action=create
		view, err := engine.GetStatus(ctx, instance.ID)
		require.NoError(t, err)
		require.Len(t, view.RecentHistory, 1)
		assert.Equal(t, "", view.RecentHistory[0].FromState)
		assert.Equal(t, "submitted", view.RecentHistory[0].ToState)
		assert.Equal(t, workflow.ActionCreate, view.RecentHistory[0].Action)
		assert.True(t, view.RecentHistory[0].WasSuccessful)
	})

	t.Run("usage_count自增", func(t *testing.T) {
		before, err := engine.GetActiveDefinition(ctx, "def_create")
		require.NoError(t, err)

		_, err = engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
			DefinitionID:   "def_create",
			EntityID:       "EXP-002",
			OrganizationID: "org-1",
			CreatedBy:      "alice",
		})
		require.NoError(t, err)

		after, err := engine.GetActiveDefinition(ctx, "def_create")
		require.NoError(t, err)
		assert.Equal(t, before.UsageCount+1, after.UsageCount)
	})

	t.Run("缺少必填参数", func(t *testing.T) {
		_, err := engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
			DefinitionID: "def_create",
			EntityID:     "EXP-003",
			// 缺organization_id
			CreatedBy: "alice",
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowParamInvalid)
	})

	t.Run("定义不存在", func(t *testing.T) {
		_, err := engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
			DefinitionID:   "ghost_def",
			EntityID:       "EXP-004",
			OrganizationID: "org-1",
			CreatedBy:      "alice",
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowDefinitionNotFound)
	})
}

// TestRequiredFieldsRule 测试business_rules里面的required_fields
func TestRequiredFieldsRule(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateDefinition(ctx, &workflow.CreateDefinitionReq{
		DefinitionID: "def_required",
		Name:         "必填字段",
		InitialState: "open",
		States: []*workflow.StateDefinition{
			{Name: "open"},
			{Name: "closed", IsFinal: true},
		},
		Transitions: []*workflow.TransitionDefinition{
			{From: "open", To: "closed", Action: "close"},
		},
		BusinessRules: map[string]any{
			"required_fields": []string{"amount", "order.currency"},
		},
		CreatedBy: "admin",
	})
	require.NoError(t, err)

	// 缺字段被拒绝
	_, err = engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
		DefinitionID:   "def_required",
		EntityID:       "E-1",
		ContextData:    map[string]any{"amount": 100},
		OrganizationID: "org-1",
		CreatedBy:      "alice",
	})
	assert.ErrorIs(t, err, workflow.ErrWorkflowParamInvalid)

	// 嵌套路径字段齐了就通过
	_, err = engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
		DefinitionID: "def_required",
		EntityID:     "E-2",
		ContextData: map[string]any{
			"amount": 100,
			"order":  map[string]any{"currency": "CNY"},
		},
		OrganizationID: "org-1",
		CreatedBy:      "alice",
	})
	assert.NoError(t, err)
}

// TestAdvanceBasic 测试基本流转
func TestAdvanceBasic(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()
	createApprovalDefinition(t, engine, "def_advance", "")

	instance, err := engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
		DefinitionID:   "def_advance",
		EntityID:       "EXP-100",
		ContextData:    map[string]any{"amount": 5000},
		OrganizationID: "org-1",
		CreatedBy:      "alice",
	})
	require.NoError(t, err)

	t.Run("正常流转", func(t *testing.T) {
		updated, err := engine.Advance(ctx, &workflow.AdvanceReq{
			InstanceID: instance.ID,
			Action:     "review",
			UserID:     "alice",
			Comment:    "提交审核",
			Data:       map[string]any{"reviewed_at": 1756600000},
		})
		require.NoError(t, err)
		assert.Equal(t, "manager_review", updated.CurrentState)
		assert.Equal(t, "submitted", updated.PreviousState)
		assert.Equal(t, int64(33), updated.ProgressPercentage)

		// data合并进上下文,原有的key保留
		amount, ok := updated.ContextData.GetInt64("amount")
		assert.True(t, ok)
		assert.Equal(t, int64(5000), amount)
		reviewedAt, ok := updated.ContextData.GetInt64("reviewed_at")
		assert.True(t, ok)
		assert.Equal(t, int64(1756600000), reviewedAt)
	})

	t.Run("非法action被拒绝", func(t *testing.T) {
		_, err := engine.Advance(ctx, &workflow.AdvanceReq{
			InstanceID: instance.ID,
			Action:     "review", // manager_review状态没有review出边
			UserID:     "alice",
		})
		assert.ErrorIs(t, err, workflow.ErrActionNotAvailable)
	})

	t.Run("流转到终态后实例完成", func(t *testing.T) {
		updated, err := engine.Advance(ctx, &workflow.AdvanceReq{
			InstanceID: instance.ID,
			Action:     "approve",
			UserID:     "bob",
		})
		require.NoError(t, err)
		assert.Equal(t, "approved", updated.CurrentState)
		assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, updated.Status)
		assert.Equal(t, int64(100), updated.ProgressPercentage)
		require.NotNil(t, updated.CompletedAt)
		assert.Greater(t, *updated.CompletedAt, int64(0))
	})

	t.Run("终态实例不能再流转", func(t *testing.T) {
		_, err := engine.Advance(ctx, &workflow.AdvanceReq{
			InstanceID: instance.ID,
			Action:     "approve",
			UserID:     "bob",
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowInstanceNotActive)
	})

	t.Run("实例不存在", func(t *testing.T) {
		_, err := engine.Advance(ctx, &workflow.AdvanceReq{
			InstanceID: 99999,
			Action:     "review",
			UserID:     "alice",
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowInstanceNotFound)
	})
}

// TestErrorClassification 测试错误分类辅助函数
func TestErrorClassification(t *testing.T) {
	assert.True(t, workflow.IsRetryableError(workflow.ErrConcurrentModification))
	assert.True(t, workflow.IsRetryableError(workflow.ErrStorageFailure))
	assert.False(t, workflow.IsRetryableError(workflow.ErrActionNotAvailable))
	assert.False(t, workflow.IsRetryableError(nil))

	assert.True(t, workflow.IsSeriousError(workflow.ErrWorkflowDefinitionNotFound))
	assert.False(t, workflow.IsSeriousError(workflow.ErrActionNotAvailable))
	assert.False(t, workflow.IsSeriousError(errors.New("other")))
}
