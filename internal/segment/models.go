package segment

import (
	"encoding/json"
	"time"
)

// Unit selects the data source a condition reads from.
type Unit string

const (
	UnitUser   Unit = "user"
	UnitDevice Unit = "device"
	UnitEvent  Unit = "event"
)

type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "<>"
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpContains     Operator = "@>"
)

// ValueType disambiguates how an untyped condition value is compared.
type ValueType string

const (
	ValueTypeInt  ValueType = "INT"
	ValueTypeText ValueType = "TEXT"
	ValueTypeBool ValueType = "BOOL"
)

// EventConditionType selects the aggregation mode for event conditions.
type EventConditionType string

const (
	CountAll      EventConditionType = "count X"
	CountInWindow EventConditionType = "count X in Y days"
)

// Combinators used by groups and segments.
const (
	CombinatorAnd = "AND"
	CombinatorOr  = "OR"
)

// Condition is one atomic targeting predicate.
type Condition struct {
	Unit                           Unit               `json:"unit"`
	Operator                       Operator           `json:"operator"`
	Value                          any                `json:"value"`
	Attribute                      string             `json:"attribute,omitempty"`
	Event                          string             `json:"event,omitempty"`
	EventConditionType             EventConditionType `json:"event_condition_type,omitempty"`
	SecondaryValue                 any                `json:"secondary_value,omitempty"`
	ValueType                      ValueType          `json:"valueType,omitempty"`
	ComparisonParameter            string             `json:"comparison_parameter,omitempty"`
	UseEventParamsAsConditionValue bool               `json:"useEventParamsAsConditionValue,omitempty"`
}

type ConditionGroup struct {
	Conditions        []Condition `json:"conditions"`
	ConditionOperator *string     `json:"condition_operator"`
}

type SegmentInfo struct {
	Groups        []ConditionGroup `json:"groups"`
	GroupOperator *string          `json:"group_operator"`
}

// Campaign as received from the remote fetch. Never mutated by evaluation.
type Campaign struct {
	ID              string          `json:"id"`
	TriggeringEvent string          `json:"triggering_event"`
	SegmentInfo     SegmentInfo     `json:"segment_info"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Whitelist       []string        `json:"whitelist,omitempty"`
	Status          string          `json:"status,omitempty"` // "ACTIVE" | "INACTIVE"
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EventIntermediateCount is the number of times an event fired on one day.
type EventIntermediateCount struct {
	Dt    string `json:"dt"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// UserState is the read-only snapshot presented to one evaluation pass.
type UserState struct {
	UserProperties   map[string]any           `json:"user_properties,omitempty"`
	DeviceProperties map[string]any           `json:"device_properties,omitempty"`
	EventCounts      []EventIntermediateCount `json:"event_counts,omitempty"`
	// EventParams carries the parameters of the event that triggered evaluation.
	EventParams map[string]any `json:"event_params,omitempty"`
}
