package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"campaign-sdk/internal/cache"
	"campaign-sdk/internal/observability"
	"campaign-sdk/internal/segment"
)

const statusActive = "ACTIVE"

// CampaignSource supplies the active campaign list.
type CampaignSource interface {
	LoadActiveCampaigns(ctx context.Context) ([]segment.Campaign, error)
}

type MatchRequest struct {
	Event string // lower-cased before lookup; empty evaluates every campaign
	State segment.UserState
}

// Indexes for fast candidate narrowing
type snapshot struct {
	Campaigns []segment.Campaign // backing array; indexes reference this

	ByTrigger map[string][]int
	Agnostic  []int // campaigns without a triggering event
}

// CampaignEngine exposes read-only, lock-free match operations over the
// campaign list of the last successful fetch.
type CampaignEngine struct {
	snap cache.Snapshot[snapshot]
	eval *segment.Evaluator
}

func NewEngine(eval *segment.Evaluator) *CampaignEngine {
	if eval == nil {
		eval = segment.NewEvaluator()
	}
	return &CampaignEngine{eval: eval}
}

// BuildSnapshot loads active campaigns and swaps them in.
func (e *CampaignEngine) BuildSnapshot(ctx context.Context, src CampaignSource) error {
	rows, err := src.LoadActiveCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("load campaigns: %w", err)
	}
	e.Replace(rows)
	return nil
}

// Replace atomically substitutes the campaign list. Inactive campaigns are dropped.
func (e *CampaignEngine) Replace(campaigns []segment.Campaign) {
	var cs []segment.Campaign
	for _, c := range campaigns {
		if c.Status != "" && !strings.EqualFold(c.Status, statusActive) {
			continue
		}
		cs = append(cs, c)
	}
	e.snap.Store(buildIndexes(cs))
	log.Info().Int("campaigns", len(cs)).Int("received", len(campaigns)).Msg("campaign snapshot replaced")
}

func buildIndexes(cs []segment.Campaign) snapshot {
	s := snapshot{Campaigns: cs, ByTrigger: map[string][]int{}, Agnostic: []int{}}
	for i, c := range cs {
		trigger := normalizeEvent(c.TriggeringEvent)
		if trigger == "" {
			s.Agnostic = append(s.Agnostic, i)
			continue
		}
		s.ByTrigger[trigger] = append(s.ByTrigger[trigger], i)
	}
	return s
}

// Evaluator is the segment evaluator matches run through.
func (e *CampaignEngine) Evaluator() *segment.Evaluator { return e.eval }

// Campaigns returns the current list.
func (e *CampaignEngine) Campaigns() []segment.Campaign {
	s, _ := e.snap.Load()
	return slices.Clone(s.Campaigns)
}

// Match returns the campaigns triggered by req.Event whose segment matches
// req.State, ordered by ID. Misconfigured campaigns are skipped and reported
// in the returned error alongside any matches.
func (e *CampaignEngine) Match(_ context.Context, req MatchRequest) ([]segment.Campaign, error) {
	s, _ := e.snap.Load()

	var idx []int
	if event := normalizeEvent(req.Event); event == "" {
		idx = rangeIndices(len(s.Campaigns))
	} else {
		idx = append(slices.Clone(s.ByTrigger[event]), s.Agnostic...)
		slices.Sort(idx)
	}

	cand := make([]segment.Campaign, 0, len(idx))
	for _, i := range idx {
		cand = append(cand, s.Campaigns[i])
	}

	out, err := e.eval.EvaluateCampaigns(cand, req.State)
	if err != nil {
		log.Warn().Err(err).Str("event", req.Event).Msg("campaign targeting misconfigured")
		observability.Evaluations.WithLabelValues("config_error").Inc()
	}
	observability.Evaluations.WithLabelValues("match").Add(float64(len(out)))
	observability.Evaluations.WithLabelValues("no_match").Add(float64(len(cand) - len(out)))

	// deterministic order
	slices.SortFunc(out, func(a, b segment.Campaign) int { return strings.Compare(a.ID, b.ID) })
	log.Debug().Str("event", req.Event).Int("candidates", len(cand)).Int("matches", len(out)).Msg("campaigns matched")
	return out, err
}

func normalizeEvent(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func rangeIndices(n int) []int {
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = i
	}
	return out
}
