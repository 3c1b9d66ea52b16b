package workflow

import (
	"errors"
	"testing"
)

func TestTransitionCondition_Evaluate(t *testing.T) {
	contextData := NewJSONContext([]byte(`{
		"amount": 25000,
		"approved": true,
		"owner": "alice",
		"order": {"contract_value": 50000}
	}`))

	cases := []struct {
		name      string
		condition *TransitionCondition
		want      bool
	}{
		{"nil条件恒为true", nil, true},
		{"gt命中", &TransitionCondition{Field: "amount", Operator: ConditionOpGt, Value: 20000}, true},
		{"gt不命中", &TransitionCondition{Field: "amount", Operator: ConditionOpGt, Value: 30000}, false},
		{"gte边界", &TransitionCondition{Field: "amount", Operator: ConditionOpGte, Value: 25000}, true},
		{"lt", &TransitionCondition{Field: "amount", Operator: ConditionOpLt, Value: 30000}, true},
		{"lte边界", &TransitionCondition{Field: "amount", Operator: ConditionOpLte, Value: 24999}, false},
		{"eq数字", &TransitionCondition{Field: "amount", Operator: ConditionOpEq, Value: 25000}, true},
		{"eq字符串", &TransitionCondition{Field: "owner", Operator: ConditionOpEq, Value: "alice"}, true},
		{"eq布尔", &TransitionCondition{Field: "approved", Operator: ConditionOpEq, Value: true}, true},
		{"ne", &TransitionCondition{Field: "owner", Operator: ConditionOpNe, Value: "bob"}, true},
		{"嵌套路径", &TransitionCondition{Field: "order.contract_value", Operator: ConditionOpGt, Value: 40000}, true},
		{"exists命中", &TransitionCondition{Field: "owner", Operator: ConditionOpExists}, true},
		{"exists不命中", &TransitionCondition{Field: "missing", Operator: ConditionOpExists}, false},
		{"not_exists命中", &TransitionCondition{Field: "missing", Operator: ConditionOpNotExists}, true},
		{"not_exists不命中", &TransitionCondition{Field: "owner", Operator: ConditionOpNotExists}, false},
		// 字段不存在时比较类条件为false,不报错
		{"字段不存在", &TransitionCondition{Field: "missing", Operator: ConditionOpGt, Value: 1}, false},
		{"嵌套字段不存在", &TransitionCondition{Field: "order.missing", Operator: ConditionOpEq, Value: 1}, false},
		// 类型不匹配按false处理
		{"类型不匹配", &TransitionCondition{Field: "owner", Operator: ConditionOpGt, Value: 100}, false},
		// 未知操作符按false处理
		{"未知操作符", &TransitionCondition{Field: "amount", Operator: "like", Value: 1}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := c.condition.Evaluate(contextData)
			if got != c.want {
				t.Errorf("Evaluate() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestResolveTransition_ConditionalRouting(t *testing.T) {
	// 审批链: submitted状态的review有两条边,按声明顺序取第一条满足的
	definition := &WorkflowDefinition{
		ID:           "test_def",
		InitialState: "submitted",
		States: []*StateDefinition{
			{Name: "submitted"},
			{Name: "manager_review"},
			{Name: "director_review"},
		},
		Transitions: []*TransitionDefinition{
			{From: "submitted", To: "director_review", Action: "review", Condition: &TransitionCondition{
				Field: "amount", Operator: ConditionOpGt, Value: 20000,
			}},
			{From: "submitted", To: "manager_review", Action: "review"},
		},
	}
	v := NewTransitionValidator()

	// 金额25000,第一条命中
	highValue := NewJSONContext([]byte(`{"amount": 25000}`))
	transition, err := v.ResolveTransition(definition, "submitted", "review", highValue)
	if err != nil {
		t.Fatalf("ResolveTransition failed: %v", err)
	}
	if transition.To != "director_review" {
		t.Errorf("Expected director_review, got %s", transition.To)
	}

	// 金额10000,第一条不命中,落到无条件的第二条
	lowValue := NewJSONContext([]byte(`{"amount": 10000}`))
	transition, err = v.ResolveTransition(definition, "submitted", "review", lowValue)
	if err != nil {
		t.Fatalf("ResolveTransition failed: %v", err)
	}
	if transition.To != "manager_review" {
		t.Errorf("Expected manager_review, got %s", transition.To)
	}

	// 不认识的action
	_, err = v.ResolveTransition(definition, "submitted", "reject", highValue)
	if !errors.Is(err, ErrActionNotAvailable) {
		t.Errorf("Expected ErrActionNotAvailable, got %v", err)
	}

	// action存在但所有条件都不满足
	onlyConditional := &WorkflowDefinition{
		ID:           "cond_only",
		InitialState: "a",
		States:       []*StateDefinition{{Name: "a"}, {Name: "b"}},
		Transitions: []*TransitionDefinition{
			{From: "a", To: "b", Action: "go", Condition: &TransitionCondition{
				Field: "flag", Operator: ConditionOpEq, Value: true,
			}},
		},
	}
	_, err = v.ResolveTransition(onlyConditional, "a", "go", NewJSONContext(nil))
	if !errors.Is(err, ErrActionNotAvailable) {
		t.Errorf("Expected ErrActionNotAvailable, got %v", err)
	}
}
