package workflow

import "github.com/pkg/errors"

var (
	// ErrWorkflowDefinitionNotFound 工作流定义不存在或者已经停用
	// 停用的定义不能创建新实例，对调用方来说和不存在是一样的
	ErrWorkflowDefinitionNotFound = errors.New("workflow definition not found")
	ErrWorkflowInstanceNotFound   = errors.New("workflow instance not found")
	// ErrWorkflowInstanceNotActive 实例不是active状态,不能执行流转
	// 场景&应用: 实例已经completed/failed/paused,调用方不应该盲目重试
	ErrWorkflowInstanceNotActive = errors.New("workflow instance not active")
	// ErrActionNotAvailable 当前状态下没有匹配的流转动作(包括条件不满足的情况)
	// 错误信息里面会带上当前状态和请求的action,方便排查
	ErrActionNotAvailable = errors.New("action not available from current state")
	// ErrConcurrentModification 乐观锁冲突,实例在读和写之间被其他请求修改了
	// 场景&应用: 两个请求同时流转同一个实例,调用方可以拿最新状态重试
	ErrConcurrentModification = errors.New("workflow instance concurrently modified")
	// ErrStorageFailure 底层存储不可用,临时错误,调用方可以退避重试
	ErrStorageFailure = errors.New("workflow storage failure")
	// ErrWorkflowParamInvalid 参数校验失败,确定性错误,不要重试
	ErrWorkflowParamInvalid = errors.New("workflow param invalid")
)

// WorkflowInstanceStatus 实例状态
type WorkflowInstanceStatus = string

const (
	WorkflowInstanceStatusActive WorkflowInstanceStatus = "active"
	// 完成, 实例终止状态, 流转到is_final状态后自动进入,不能再流转
	WorkflowInstanceStatusCompleted WorkflowInstanceStatus = "completed"
	// 失败, 实例终止状态, 流转到final_status=failed的终态后进入,不能再流转
	WorkflowInstanceStatusFailed WorkflowInstanceStatus = "failed"
	// 暂停, 非终止状态, 可以通过ResumeInstance恢复成active
	WorkflowInstanceStatusPaused WorkflowInstanceStatus = "paused"
)

// IsTerminalInstanceStatus 是否终止状态,终止后不能再流转也不能恢复
func IsTerminalInstanceStatus(status WorkflowInstanceStatus) bool {
	return status == WorkflowInstanceStatusCompleted || status == WorkflowInstanceStatusFailed
}

func GetWorkflowInstanceStatusText(status WorkflowInstanceStatus) string {
	switch status {
	case WorkflowInstanceStatusActive:
		return "进行中"
	case WorkflowInstanceStatusCompleted:
		return "完成"
	case WorkflowInstanceStatusFailed:
		return "失败"
	case WorkflowInstanceStatusPaused:
		return "暂停"
	}
	return "未知"
}

// TriggerType 流转触发方式,记录在历史里面
type TriggerType = string

const (
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeAutomatic TriggerType = "automatic"
	TriggerTypeScheduled TriggerType = "scheduled"
	TriggerTypeAPI       TriggerType = "api"
)

// 内置的历史action,定义里面的action不要使用这几个名字
const (
	ActionCreate = "create"
	ActionPause  = "pause"
	ActionResume = "resume"
)

// IsRetryableError 是否可重试错误
// 乐观锁冲突和存储故障是临时的,调用方拿最新状态重试即可
// 校验类错误(定义不存在/实例不存在/action不可用)是确定性的,重试没有意义
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	causeErr := errors.Cause(err)
	return errors.Is(causeErr, ErrConcurrentModification) ||
		errors.Is(causeErr, ErrStorageFailure) ||
		errors.Is(causeErr, LockFailedError)
}

// IsSeriousError 用于判断是否是严重错误，如果是严重错误，则打error级别日志，
// 否则打warn级别日志
// 严重错误定义：需要人工介入处理，
// 1. 数据引用断裂,如实例指向的定义不存在
// 2. 存储不可用
func IsSeriousError(err error) bool {
	if err == nil {
		return false
	}
	causeErr := errors.Cause(err)
	return errors.Is(causeErr, ErrWorkflowDefinitionNotFound) ||
		errors.Is(causeErr, ErrStorageFailure)
}
