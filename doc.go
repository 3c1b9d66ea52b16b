// Package flowstate 提供多租户的工作流状态机引擎。
//
// 围绕"定义 + 实例 + 可审计流转"三个概念构建：定义描述状态机的形状（状态、
// 流转边、可选的路由条件），实例是某个业务对象上的一次流程执行，每次流转
// （包括被拒绝的流转）都会落一条只增不改的历史记录。
//
// 主要特性：
//   - 定义驱动：状态机形状完全由租户配置的定义给出，引擎不写死任何状态
//   - 条件路由：同一个action可以配多条边，按声明顺序取第一条条件满足的
//   - 并发安全：实例锁 + 乐观锁版本号，同一实例的并发流转绝不会同时成功
//   - 完整审计：成功和被拒绝的流转都有历史记录，带上下文快照
//   - 多租户隔离：所有实例查询强制带organization_id
//   - 数据持久化：基于 GORM，可使用 MySQL、PostgreSQL、SQLite 等数据库
//   - AI标注：外部分析结果可以挂到实例上，纯追加，不影响流转
//
// 基础使用示例:
//
//	package main
//
//	import (
//	    "context"
//
//	    "github.com/blingmoon/flowstate/workflow"
//	    "gorm.io/driver/sqlite"
//	    "gorm.io/gorm"
//	)
//
//	func main() {
//	    // 1. 初始化数据库
//	    db, _ := gorm.Open(sqlite.Open("workflow.db"), &gorm.Config{})
//	    db.AutoMigrate(
//	        &workflow.WorkflowDefinitionPo{},
//	        &workflow.WorkflowInstancePo{},
//	        &workflow.WorkflowHistoryPo{},
//	        &workflow.AIInsightPo{},
//	    )
//
//	    // 2. 创建引擎
//	    repo := workflow.NewWorkflowRepo(db)
//	    engine := workflow.NewWorkflowEngine(repo, workflow.NewLocalWorkflowLock())
//
//	    // 3. 创建定义: 提交 -> 审核 -> 完成, 金额超过2万走高层审批
//	    engine.CreateDefinition(context.Background(), &workflow.CreateDefinitionReq{
//	        DefinitionID: "expense_approval",
//	        Name:         "报销审批",
//	        InitialState: "submitted",
//	        States: []*workflow.StateDefinition{
//	            {Name: "submitted"},
//	            {Name: "manager_review"},
//	            {Name: "director_review"},
//	            {Name: "approved", IsFinal: true},
//	        },
//	        Transitions: []*workflow.TransitionDefinition{
//	            {From: "submitted", To: "director_review", Action: "review", Condition: &workflow.TransitionCondition{
//	                Field: "amount", Operator: workflow.ConditionOpGt, Value: 20000,
//	            }},
//	            {From: "submitted", To: "manager_review", Action: "review"},
//	            {From: "manager_review", To: "approved", Action: "approve"},
//	            {From: "director_review", To: "approved", Action: "approve"},
//	        },
//	        CreatedBy: "admin",
//	    })
//
//	    // 4. 创建实例并推进
//	    instance, _ := engine.CreateInstance(context.Background(), &workflow.CreateInstanceReq{
//	        DefinitionID:   "expense_approval",
//	        EntityID:       "EXP-001",
//	        ContextData:    map[string]any{"amount": 25000},
//	        OrganizationID: "org-1",
//	        CreatedBy:      "alice",
//	    })
//	    // amount是25000,条件命中,进入director_review
//	    engine.Advance(context.Background(), &workflow.AdvanceReq{
//	        InstanceID: instance.ID,
//	        Action:     "review",
//	        UserID:     "alice",
//	    })
//	}
//
// 上下文数据流转机制：
//
// 实例的 context_data 是条件路由的数据来源，也是历史快照的内容：
//
//   - 创建实例时传入初始数据,business_rules里面的required_fields会在这时校验
//   - Advance 可以带 data,合并进上下文(只覆盖传入的key),合并发生在条件评估之后
//   - 每条成功的历史记录保存流转时刻(合并之后)的上下文拷贝
//   - SetContextValue 支持嵌套路径写入,不触发流转
//
// 条件评估示例：
//
//	// 条件 {Field: "order.amount", Operator: "gt", Value: 20000}
//	// 对上下文 {"order": {"amount": 25000}} 评估为 true
//	// 字段不存在时评估为 false(not_exists除外),不报错
//
// 并发模型：
//
// 写操作（Advance/SetContextValue/Pause/Resume/Delete）先拿实例锁，
// 更新语句带版本号条件，命中0行返回 ErrConcurrentModification，
// 调用方拿最新状态重试即可。多副本部署时把本地锁换成
// NewRedisWorkflowLock 即可获得跨进程互斥。
package flowstate
