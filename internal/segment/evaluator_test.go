package segment

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// panicResolver fails the test if a condition on the poisoned attribute is resolved.
type panicResolver struct {
	t        *testing.T
	poisoned string
}

func (r panicResolver) Resolve(c Condition, state UserState) (any, bool) {
	if c.Attribute == r.poisoned {
		r.t.Fatalf("condition on %q must not be evaluated", r.poisoned)
	}
	return StateResolver{}.Resolve(c, state)
}

func userCond(attr string, op Operator, value any) Condition {
	return Condition{Unit: UnitUser, Attribute: attr, Operator: op, Value: value}
}

func TestEvaluateCondition_MissingAttributeNeverMatches(t *testing.T) {
	ops := []Operator{OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpContains}
	e := NewEvaluator()
	state := UserState{UserProperties: map[string]any{"other": 1}}

	for _, op := range ops {
		t.Run(string(op), func(t *testing.T) {
			assert.False(t, e.EvaluateCondition(userCond("plan", op, "pro"), state))
			assert.False(t, e.EvaluateCondition(Condition{Unit: UnitDevice, Attribute: "os", Operator: op, Value: "ios"}, state))
		})
	}
}

func TestEvaluateCondition(t *testing.T) {
	now := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	e := NewEvaluator(WithClock(func() time.Time { return now }))
	state := UserState{
		UserProperties:   map[string]any{"plan": "pro", "age": 31, "tags": []any{"a", "b"}},
		DeviceProperties: map[string]any{"os": "android"},
		EventCounts: []EventIntermediateCount{
			{Dt: "2024-01-01", Name: "purchase", Count: 2},
			{Dt: "2024-01-10", Name: "purchase", Count: 3},
		},
		EventParams: map[string]any{"product": "pro"},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"user equal", userCond("plan", OpEqual, "pro"), true},
		{"user relational", userCond("age", OpGreaterEqual, 18), true},
		{"user contains", userCond("tags", OpContains, "b"), true},
		{"device equal", Condition{Unit: UnitDevice, Attribute: "os", Operator: OpEqual, Value: "android"}, true},
		{"device reads device map only", Condition{Unit: UnitDevice, Attribute: "plan", Operator: OpEqual, Value: "pro"}, false},
		{
			name: "event count",
			cond: Condition{Unit: UnitEvent, Event: "purchase", EventConditionType: CountAll, Operator: OpEqual, Value: 5},
			want: true,
		},
		{
			name: "event count in window",
			cond: Condition{Unit: UnitEvent, Event: "purchase", EventConditionType: CountInWindow, SecondaryValue: 5, Operator: OpEqual, Value: 3},
			want: true,
		},
		{
			name: "event count with string value",
			cond: Condition{Unit: UnitEvent, Event: "purchase", EventConditionType: CountAll, Operator: OpGreater, Value: "4"},
			want: true,
		},
		{
			name: "zero occurrences compare as zero",
			cond: Condition{Unit: UnitEvent, Event: "refund", EventConditionType: CountAll, Operator: OpEqual, Value: 0},
			want: true,
		},
		{
			name: "event condition without type is absent",
			cond: Condition{Unit: UnitEvent, Event: "purchase", Operator: OpGreaterEqual, Value: 0},
			want: false,
		},
		{
			name: "value from event params",
			cond: Condition{Unit: UnitUser, Attribute: "plan", Operator: OpEqual, Value: "product", UseEventParamsAsConditionValue: true},
			want: true,
		},
		{
			name: "missing event param",
			cond: Condition{Unit: UnitUser, Attribute: "plan", Operator: OpNotEqual, Value: "sku", UseEventParamsAsConditionValue: true},
			want: false,
		},
		{"unknown unit", Condition{Unit: "session", Attribute: "plan", Operator: OpEqual, Value: "pro"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.EvaluateCondition(tt.cond, state))
		})
	}
}

func TestEvaluateGroup(t *testing.T) {
	state := UserState{UserProperties: map[string]any{"plan": "pro", "country": "US"}}
	e := NewEvaluator()

	t.Run("empty group is true", func(t *testing.T) {
		got, err := e.EvaluateGroup(ConditionGroup{ConditionOperator: strPtr("AND")}, state)
		require.NoError(t, err)
		assert.True(t, got)

		got, err = e.EvaluateGroup(ConditionGroup{}, state)
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("AND requires every condition", func(t *testing.T) {
		g := ConditionGroup{
			ConditionOperator: strPtr("AND"),
			Conditions:        []Condition{userCond("plan", OpEqual, "pro"), userCond("country", OpEqual, "CA")},
		}
		got, err := e.EvaluateGroup(g, state)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("explicit OR", func(t *testing.T) {
		g := ConditionGroup{
			ConditionOperator: strPtr("or"),
			Conditions:        []Condition{userCond("country", OpEqual, "CA"), userCond("plan", OpEqual, "pro")},
		}
		got, err := e.EvaluateGroup(g, state)
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("AND short-circuits", func(t *testing.T) {
		e := NewEvaluator(WithResolver(panicResolver{t: t, poisoned: "boom"}))
		g := ConditionGroup{
			ConditionOperator: strPtr("AND"),
			Conditions:        []Condition{userCond("plan", OpEqual, "free"), userCond("boom", OpEqual, 1)},
		}
		got, err := e.EvaluateGroup(g, state)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("null operator with one condition", func(t *testing.T) {
		g := ConditionGroup{Conditions: []Condition{userCond("plan", OpEqual, "pro")}}
		got, err := e.EvaluateGroup(g, state)
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("null operator with several conditions is reported", func(t *testing.T) {
		g := ConditionGroup{Conditions: []Condition{userCond("plan", OpEqual, "pro"), userCond("country", OpEqual, "US")}}
		got, err := e.EvaluateGroup(g, state)
		assert.ErrorIs(t, err, ErrAmbiguousCombinator)
		assert.False(t, got)
	})

	t.Run("unknown operator is reported", func(t *testing.T) {
		g := ConditionGroup{ConditionOperator: strPtr("XOR"), Conditions: []Condition{userCond("plan", OpEqual, "pro")}}
		_, err := e.EvaluateGroup(g, state)
		assert.ErrorIs(t, err, ErrUnknownCombinator)
	})
}

func TestEvaluateSegment(t *testing.T) {
	state := UserState{UserProperties: map[string]any{"plan": "pro"}}
	e := NewEvaluator()
	matching := ConditionGroup{ConditionOperator: strPtr("AND"), Conditions: []Condition{userCond("plan", OpEqual, "pro")}}
	failing := ConditionGroup{ConditionOperator: strPtr("AND"), Conditions: []Condition{userCond("plan", OpEqual, "free")}}

	t.Run("empty segment matches nobody", func(t *testing.T) {
		got, err := e.EvaluateSegment(SegmentInfo{GroupOperator: strPtr("OR")}, state)
		require.NoError(t, err)
		assert.False(t, got)

		got, err = e.EvaluateSegment(SegmentInfo{}, state)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("OR matches on any group", func(t *testing.T) {
		got, err := e.EvaluateSegment(SegmentInfo{GroupOperator: strPtr("OR"), Groups: []ConditionGroup{failing, matching}}, state)
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("explicit AND across groups", func(t *testing.T) {
		got, err := e.EvaluateSegment(SegmentInfo{GroupOperator: strPtr("AND"), Groups: []ConditionGroup{matching, failing}}, state)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("OR short-circuits", func(t *testing.T) {
		e := NewEvaluator(WithResolver(panicResolver{t: t, poisoned: "boom"}))
		poisoned := ConditionGroup{ConditionOperator: strPtr("AND"), Conditions: []Condition{userCond("boom", OpEqual, 1)}}
		got, err := e.EvaluateSegment(SegmentInfo{GroupOperator: strPtr("OR"), Groups: []ConditionGroup{matching, poisoned}}, state)
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("null operator with one group uses that group", func(t *testing.T) {
		got, err := e.EvaluateSegment(SegmentInfo{Groups: []ConditionGroup{failing}}, state)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("null operator with several groups is reported", func(t *testing.T) {
		_, err := e.EvaluateSegment(SegmentInfo{Groups: []ConditionGroup{matching, failing}}, state)
		assert.ErrorIs(t, err, ErrAmbiguousCombinator)
	})

	t.Run("group configuration error propagates", func(t *testing.T) {
		bad := ConditionGroup{Conditions: []Condition{userCond("plan", OpEqual, "pro"), userCond("plan", OpEqual, "pro")}}
		_, err := e.EvaluateSegment(SegmentInfo{GroupOperator: strPtr("OR"), Groups: []ConditionGroup{failing, bad}}, state)
		assert.ErrorIs(t, err, ErrAmbiguousCombinator)
	})
}

func TestEvaluateCampaigns_FromJSON(t *testing.T) {
	raw := `[
		{"id": "c1", "triggering_event": "page_view", "segment_info": {"group_operator": "OR", "groups": [
			{"condition_operator": "AND", "conditions": [{"unit": "user", "attribute": "plan", "operator": "=", "value": "pro"}]}
		]}},
		{"id": "c2", "segment_info": {"group_operator": null, "groups": [
			{"condition_operator": "AND", "conditions": []},
			{"condition_operator": "AND", "conditions": []}
		]}},
		{"id": "c3", "segment_info": {"group_operator": "OR", "groups": []}}
	]`
	var campaigns []Campaign
	require.NoError(t, json.Unmarshal([]byte(raw), &campaigns))

	e := NewEvaluator()

	got, err := e.EvaluateCampaigns(campaigns, UserState{UserProperties: map[string]any{"plan": "pro"}})
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousCombinator))
	assert.Contains(t, err.Error(), "campaign c2")

	got, _ = e.EvaluateCampaigns(campaigns, UserState{UserProperties: map[string]any{"plan": "free"}})
	assert.Empty(t, got)
}
