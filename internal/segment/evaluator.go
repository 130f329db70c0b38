package segment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAmbiguousCombinator is returned when a null combinator joins more
	// than one child. Defaulting to AND or OR would change who is targeted.
	ErrAmbiguousCombinator = errors.New("null combinator with multiple children")
	ErrUnknownCombinator   = errors.New("unknown combinator")
)

// Evaluator walks campaign targeting trees. It holds no per-user state and is
// safe for concurrent use.
type Evaluator struct {
	resolver Resolver
}

type Option func(*Evaluator)

// WithClock sets the instant windowed event counts are measured from.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.resolver = StateResolver{Now: now} }
}

func WithResolver(r Resolver) Option {
	return func(e *Evaluator) { e.resolver = r }
}

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{resolver: StateResolver{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateCondition never fails: missing data or mismatched types resolve to false.
func (e *Evaluator) EvaluateCondition(c Condition, state UserState) bool {
	left, ok := e.resolver.Resolve(c, state)
	if !ok {
		return false
	}

	right := c.Value
	if c.UseEventParamsAsConditionValue {
		key, isKey := right.(string)
		if !isKey {
			return false
		}
		if right, ok = lookup(state.EventParams, key); !ok {
			return false
		}
	}

	vt := c.ValueType
	if vt == "" && c.Unit == UnitEvent {
		vt = ValueTypeInt
	}
	return Apply(c.Operator, left, right, vt, c.ComparisonParameter)
}

// EvaluateGroup folds conditions in declaration order. An empty group is true.
func (e *Evaluator) EvaluateGroup(g ConditionGroup, state UserState) (bool, error) {
	op, err := combinator(g.ConditionOperator, len(g.Conditions), CombinatorAnd)
	if err != nil {
		return false, fmt.Errorf("condition group: %w", err)
	}
	if len(g.Conditions) == 0 {
		return true, nil
	}

	for _, c := range g.Conditions {
		matched := e.EvaluateCondition(c, state)
		if op == CombinatorAnd && !matched {
			return false, nil
		}
		if op == CombinatorOr && matched {
			return true, nil
		}
	}
	return op == CombinatorAnd, nil
}

// EvaluateSegment folds groups in declaration order. An empty segment matches nobody.
func (e *Evaluator) EvaluateSegment(s SegmentInfo, state UserState) (bool, error) {
	op, err := combinator(s.GroupOperator, len(s.Groups), CombinatorOr)
	if err != nil {
		return false, fmt.Errorf("segment: %w", err)
	}
	if len(s.Groups) == 0 {
		return false, nil
	}

	for i, g := range s.Groups {
		matched, err := e.EvaluateGroup(g, state)
		if err != nil {
			return false, fmt.Errorf("group %d: %w", i, err)
		}
		if op == CombinatorOr && matched {
			return true, nil
		}
		if op == CombinatorAnd && !matched {
			return false, nil
		}
	}
	return op == CombinatorAnd, nil
}

// EvaluateCampaigns returns the campaigns whose segment matches, in input
// order. Misconfigured campaigns never match and are reported in the joined error.
func (e *Evaluator) EvaluateCampaigns(campaigns []Campaign, state UserState) ([]Campaign, error) {
	var (
		out  []Campaign
		errs []error
	)
	for _, c := range campaigns {
		matched, err := e.EvaluateSegment(c.SegmentInfo, state)
		if err != nil {
			errs = append(errs, fmt.Errorf("campaign %s: %w", c.ID, err))
			continue
		}
		if matched {
			out = append(out, c)
		}
	}
	return out, errors.Join(errs...)
}

// combinator normalises a declared operator. A null operator is only
// unambiguous with at most one child, in which case fallback applies.
func combinator(declared *string, children int, fallback string) (string, error) {
	if declared == nil || strings.TrimSpace(*declared) == "" {
		if children > 1 {
			return "", ErrAmbiguousCombinator
		}
		return fallback, nil
	}
	switch op := strings.ToUpper(strings.TrimSpace(*declared)); op {
	case CombinatorAnd, CombinatorOr:
		return op, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownCombinator, *declared)
	}
}
