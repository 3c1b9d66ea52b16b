package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/blingmoon/flowstate/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCompleteApprovalScenario 完整审批场景
// 建定义 -> 建实例 -> 条件路由 -> 审批完成, 全程校验进度/历史/列表
func TestCompleteApprovalScenario(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()

	t.Run("大额报销全流程", func(t *testing.T) {
		createApprovalDefinition(t, engine, "scenario_approval", "")

		instance, err := engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
			DefinitionID:   "scenario_approval",
			EntityID:       "EXP-2026-042",
			EntityType:     "expense",
			Title:          "年度会议费用",
			ContextData:    map[string]any{"amount": 25000, "department": "sales"},
			AssignedTo:     "alice",
			OrganizationID: "org-sales",
			CreatedBy:      "alice",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), instance.ProgressPercentage)

		// 25000 > 20000, 升级到总监审核
		instance, err = engine.Advance(ctx, &workflow.AdvanceReq{
			InstanceID: instance.ID,
			Action:     "review",
			UserID:     "alice",
			Comment:    "请审批",
		})
		require.NoError(t, err)
		assert.Equal(t, "director_review", instance.CurrentState)
		assert.Equal(t, int64(67), instance.ProgressPercentage)

		// 列表里能查到进行中的实例
		instances, err := engine.ListForUser(ctx, &workflow.ListForUserParams{
			UserID:         "alice",
			OrganizationID: "org-sales",
			Status:         workflow.String(workflow.WorkflowInstanceStatusActive),
		})
		require.NoError(t, err)
		require.Len(t, instances, 1)

		instance, err = engine.Advance(ctx, &workflow.AdvanceReq{
			InstanceID: instance.ID,
			Action:     "approve",
			UserID:     "director-bob",
			Comment:    "批准",
			ActionMetadata: map[string]any{
				"ip": "10.0.0.8",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, instance.Status)
		assert.Equal(t, int64(100), instance.ProgressPercentage)

		// 完成之后active列表为空
		instances, err = engine.ListForUser(ctx, &workflow.ListForUserParams{
			UserID:         "alice",
			OrganizationID: "org-sales",
			Status:         workflow.String(workflow.WorkflowInstanceStatusActive),
		})
		require.NoError(t, err)
		assert.Empty(t, instances)

		// 历史完整: create -> review -> approve
		view, err := engine.GetStatus(ctx, instance.ID)
		require.NoError(t, err)
		require.Len(t, view.RecentHistory, 3)
		assert.Equal(t, "approve", view.RecentHistory[0].Action)
		// ActionMetadata原样保存
		ip, ok := view.RecentHistory[0].ActionMetadata.GetString("ip")
		assert.True(t, ok)
		assert.Equal(t, "10.0.0.8", ip)
		// 终态没有可用action
		assert.Empty(t, view.AvailableActions)
	})
}

// TestConcurrentAdvance 并发流转
// 同一个实例的两个并发流转绝不会同时成功
func TestConcurrentAdvance(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()
	createApprovalDefinition(t, engine, "concurrent_def", "")

	instance, err := engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
		DefinitionID:   "concurrent_def",
		EntityID:       "E-RACE",
		ContextData:    map[string]any{"amount": 100},
		OrganizationID: "org-1",
		CreatedBy:      "alice",
	})
	require.NoError(t, err)

	const workers = 10
	var successCount int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Advance(ctx, &workflow.AdvanceReq{
				InstanceID: instance.ID,
				Action:     "review",
				UserID:     "alice",
			})
			if err == nil {
				atomic.AddInt64(&successCount, 1)
				return
			}
			// 失败的要么是没拿到锁/版本冲突(可重试),
			// 要么是先成功的那个已经把状态推走了(action不可用)
			if !workflow.IsRetryableError(err) {
				assert.ErrorIs(t, err, workflow.ErrActionNotAvailable)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successCount)

	// 最终状态只推进了一步
	view, err := engine.GetStatus(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "manager_review", view.Instance.CurrentState)

	// 成功的流转历史只有一条
	successfulReviews := 0
	for _, h := range view.RecentHistory {
		if h.Action == "review" && h.WasSuccessful {
			successfulReviews++
		}
	}
	assert.Equal(t, 1, successfulReviews)
}

// TestConcurrentCreateInstance 并发创建实例, usage_count不丢计数
func TestConcurrentCreateInstance(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()
	createApprovalDefinition(t, engine, "concurrent_create_def", "")

	const workers = 5
	var wg sync.WaitGroup
	var created int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := engine.CreateInstance(ctx, &workflow.CreateInstanceReq{
				DefinitionID:   "concurrent_create_def",
				EntityID:       "E-MULTI",
				OrganizationID: "org-1",
				CreatedBy:      "alice",
			})
			if err == nil {
				atomic.AddInt64(&created, 1)
			}
		}(i)
	}
	wg.Wait()
	require.Greater(t, created, int64(0))

	definition, err := engine.GetActiveDefinition(ctx, "concurrent_create_def")
	require.NoError(t, err)
	assert.Equal(t, created, definition.UsageCount)

	count, err := engine.CountInstances(ctx, &workflow.ListForUserParams{
		UserID:         "",
		OrganizationID: "org-1",
	})
	// UserID必填,这里校验失败是预期行为
	assert.Error(t, err)
	assert.Equal(t, int64(0), count)
}
