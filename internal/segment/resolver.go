package segment

import "time"

// Resolver produces the left operand of a condition. The bool is false when
// the attribute or event metric is absent; absent data never matches.
type Resolver interface {
	Resolve(c Condition, state UserState) (any, bool)
}

// StateResolver reads user and device properties directly and aggregates
// event history relative to Now.
type StateResolver struct {
	Now func() time.Time
}

func (r StateResolver) Resolve(c Condition, state UserState) (any, bool) {
	switch c.Unit {
	case UnitUser:
		return lookup(state.UserProperties, c.Attribute)
	case UnitDevice:
		return lookup(state.DeviceProperties, c.Attribute)
	case UnitEvent:
		if c.Event == "" || c.EventConditionType == "" {
			return nil, false
		}
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		n, ok := Aggregate(c.Event, c.EventConditionType, c.SecondaryValue, state.EventCounts, now())
		if !ok {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}

func lookup(props map[string]any, attribute string) (any, bool) {
	if props == nil || attribute == "" {
		return nil, false
	}
	v, ok := props[attribute]
	return v, ok
}
