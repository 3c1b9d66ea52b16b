package workflow

import (
	"strings"
)

// ConditionOperator 条件操作符
// 定义是租户自己写的,这里只开放一个很小的比较文法(字段,操作符,字面量),
// 不做通用表达式求值,避免注入类问题
type ConditionOperator = string

const (
	ConditionOpEq  ConditionOperator = "eq"
	ConditionOpNe  ConditionOperator = "ne"
	ConditionOpGt  ConditionOperator = "gt"
	ConditionOpGte ConditionOperator = "gte"
	ConditionOpLt  ConditionOperator = "lt"
	ConditionOpLte ConditionOperator = "lte"
	// 存在性判断,不需要Value
	ConditionOpExists    ConditionOperator = "exists"
	ConditionOpNotExists ConditionOperator = "not_exists"
)

// TransitionCondition 流转条件, 对实例 context_data 的一次比较
// Field 支持点分路径,例如 "order.contract_value"
type TransitionCondition struct {
	Field    string            `json:"field" validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    any               `json:"value"`
}

// Evaluate 在给定上下文上求值
// 字段不存在时条件为false(not_exists除外),不报错,路由自然落到无条件的边上
func (c *TransitionCondition) Evaluate(contextData *JSONContext) bool {
	if c == nil {
		return true
	}
	keys := strings.Split(c.Field, ".")
	val, exists := contextData.Get(keys...)

	switch c.Operator {
	case ConditionOpExists:
		return exists
	case ConditionOpNotExists:
		return !exists
	}
	if !exists {
		return false
	}

	switch c.Operator {
	case ConditionOpEq:
		return compareValues(val, c.Value) == 0 && isComparable(val, c.Value)
	case ConditionOpNe:
		return isComparable(val, c.Value) && compareValues(val, c.Value) != 0
	case ConditionOpGt:
		return isComparable(val, c.Value) && compareValues(val, c.Value) > 0
	case ConditionOpGte:
		return isComparable(val, c.Value) && compareValues(val, c.Value) >= 0
	case ConditionOpLt:
		return isComparable(val, c.Value) && compareValues(val, c.Value) < 0
	case ConditionOpLte:
		return isComparable(val, c.Value) && compareValues(val, c.Value) <= 0
	}
	// 未知操作符按false处理,不让配置错误放大成任意流转
	return false
}

// toFloat 数字类型统一转float64比较
// json反序列化出来的数字都是float64,定义结构体里面可能是int
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func isComparable(a, b any) bool {
	if _, ok := toFloat(a); ok {
		_, ok2 := toFloat(b)
		return ok2
	}
	if _, ok := a.(string); ok {
		_, ok2 := b.(string)
		return ok2
	}
	if _, ok := a.(bool); ok {
		_, ok2 := b.(bool)
		return ok2
	}
	return false
}

// compareValues 返回 -1/0/1
// 两边都能转数字按数字比较,否则按字符串/布尔相等性比较
func compareValues(a, b any) int {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}

	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb)
	}

	ba, okA := a.(bool)
	bb, okB := b.(bool)
	if okA && okB {
		if ba == bb {
			return 0
		}
		return 1
	}
	// 类型不匹配,调用方先用isComparable判断,这里兜底返回不相等
	return 1
}
