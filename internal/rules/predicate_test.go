package rules

import "testing"

func TestMatch(t *testing.T) {
	t.Parallel()

	fields := Fields{
		"type":     "breaking_news",
		"priority": "critical",
		"urgency":  0.9,
		"count":    3,
		"channels": []string{"push", "email"},
		"tags":     "politics, economy",
	}

	cases := []struct {
		name  string
		conds []Condition
		want  bool
	}{
		{"empty set matches", nil, true},
		{"eq string", []Condition{{Field: "type", Op: OpEq, Value: "breaking_news"}}, true},
		{"eq mismatch", []Condition{{Field: "type", Op: OpEq, Value: "digest"}}, false},
		{"ne", []Condition{{Field: "priority", Op: OpNe, Value: "low"}}, true},
		{"gt float", []Condition{{Field: "urgency", Op: OpGt, Value: 0.7}}, true},
		{"gte int against float", []Condition{{Field: "count", Op: OpGte, Value: 3.0}}, true},
		{"lt fails", []Condition{{Field: "urgency", Op: OpLt, Value: 0.5}}, false},
		{"lte boundary", []Condition{{Field: "count", Op: OpLte, Value: 3}}, true},
		{"in slice", []Condition{{Field: "type", Op: OpIn, Value: []string{"breaking_news", "digest"}}}, true},
		{"in any slice", []Condition{{Field: "count", Op: OpIn, Value: []any{1, 3}}}, true},
		{"contains string slice", []Condition{{Field: "channels", Op: OpContains, Value: "push"}}, true},
		{"contains csv", []Condition{{Field: "tags", Op: OpContains, Value: "economy"}}, true},
		{"contains missing", []Condition{{Field: "channels", Op: OpContains, Value: "sms"}}, false},
		{"missing field fails", []Condition{{Field: "owner", Op: OpEq, Value: "x"}}, false},
		{"numeric op on string fails", []Condition{{Field: "type", Op: OpGt, Value: 1}}, false},
		{"unknown op fails", []Condition{{Field: "type", Op: Operator("regex"), Value: ".*"}}, false},
		{"all conditions must hold", []Condition{
			{Field: "type", Op: OpEq, Value: "breaking_news"},
			{Field: "urgency", Op: OpLt, Value: 0.5},
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(tc.conds, fields); got != tc.want {
				t.Fatalf("Match = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEqualCrossTypeNumbers(t *testing.T) {
	t.Parallel()

	f := Fields{"n": int64(5)}
	if !Match([]Condition{{Field: "n", Op: OpEq, Value: 5.0}}, f) {
		t.Fatalf("int64(5) should equal 5.0")
	}
	if !Match([]Condition{{Field: "n", Op: OpNe, Value: 6}}, f) {
		t.Fatalf("int64(5) should not equal 6")
	}
}
