package workflow

import (
	"github.com/pkg/errors"
)

// TransitionValidator 流转校验器,纯逻辑,不碰存储
// 给定定义/当前状态/请求的action,解析出目标流转边
// 条件路由: 同一个action多条边时,按声明顺序取第一条条件满足(或无条件)的
type TransitionValidator struct {
}

func NewTransitionValidator() *TransitionValidator {
	return &TransitionValidator{}
}

// ResolveTransition 解析目标流转
// 没有匹配的边时返回 ErrActionNotAvailable,错误信息带上当前状态和action
func (v *TransitionValidator) ResolveTransition(
	definition *WorkflowDefinition,
	currentState string,
	action string,
	contextData *JSONContext,
) (*TransitionDefinition, error) {
	if definition == nil {
		return nil, errors.WithMessage(ErrWorkflowDefinitionNotFound, "ResolveTransition definition is nil")
	}

	// 1. 先按 from + action 过滤出候选边
	candidates := make([]*TransitionDefinition, 0)
	for _, t := range definition.GetValidTransitions(currentState) {
		if t.Action == action {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, errors.Wrapf(ErrActionNotAvailable,
			"action %q not available from state %q", action, currentState)
	}

	// 2. 按声明顺序评估条件,第一条满足的胜出
	// 审批链的典型用法: 金额超过阈值走高层审批,否则直接通过
	for _, t := range candidates {
		if t.Condition.Evaluate(contextData) {
			return t, nil
		}
	}
	return nil, errors.Wrapf(ErrActionNotAvailable,
		"action %q from state %q matched %d transition(s) but no condition passed",
		action, currentState, len(candidates))
}
