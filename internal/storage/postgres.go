package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"campaign-sdk/internal/config"
	"campaign-sdk/internal/observability"
	"campaign-sdk/internal/segment"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables and the change-notification trigger.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// LoadActiveCampaigns loads all active campaigns with their targeting
func (s *Store) LoadActiveCampaigns(ctx context.Context) ([]segment.Campaign, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, triggering_event, segment_info, payload, whitelist, status, created_at, updated_at
		FROM campaigns
		WHERE status = 'ACTIVE'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []segment.Campaign
	for rows.Next() {
		var (
			c           segment.Campaign
			segmentInfo []byte
			payload     []byte
		)
		if err := rows.Scan(&c.ID, &c.TriggeringEvent, &segmentInfo, &payload, &c.Whitelist, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = appendCampaign(out, c, segmentInfo, payload)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// LoadUserState merges the stored profile with the per-day event counts.
// An unknown user yields an empty state, not an error.
func (s *Store) LoadUserState(ctx context.Context, projectID, userID string) (segment.UserState, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		state      segment.UserState
		userProps  []byte
		deviceProp []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_properties, device_properties
		FROM user_profiles
		WHERE project_id = $1 AND user_id = $2
	`, projectID, userID).Scan(&userProps, &deviceProp)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return state, fmt.Errorf("query profile: %w", err)
	}
	if state.UserProperties, err = decodeProperties(userProps); err != nil {
		return state, fmt.Errorf("user properties: %w", err)
	}
	if state.DeviceProperties, err = decodeProperties(deviceProp); err != nil {
		return state, fmt.Errorf("device properties: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT to_char(dt, 'YYYY-MM-DD'), name, count
		FROM event_counts
		WHERE project_id = $1 AND user_id = $2
		ORDER BY dt, name
	`, projectID, userID)
	if err != nil {
		return state, fmt.Errorf("query event counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ec segment.EventIntermediateCount
		if err := rows.Scan(&ec.Dt, &ec.Name, &ec.Count); err != nil {
			return state, fmt.Errorf("scan event count: %w", err)
		}
		state.EventCounts = append(state.EventCounts, ec)
	}
	return state, rows.Err()
}

// RecordEvent increments the day bucket of name for the user.
func (s *Store) RecordEvent(ctx context.Context, projectID, userID, name string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_counts (project_id, user_id, dt, name, count)
		VALUES ($1, $2, $3::date, $4, 1)
		ON CONFLICT (project_id, user_id, dt, name)
		DO UPDATE SET count = event_counts.count + 1
	`, projectID, userID, at.UTC().Format("2006-01-02"), name)
	if err != nil {
		return fmt.Errorf("record event %q: %w", name, err)
	}
	return nil
}

// SetUserProperties merges props into the stored user properties.
func (s *Store) SetUserProperties(ctx context.Context, projectID, userID string, props map[string]any) error {
	return s.mergeProfile(ctx, "user_properties", projectID, userID, props)
}

// SetDeviceProperties merges props into the stored device properties.
func (s *Store) SetDeviceProperties(ctx context.Context, projectID, userID string, props map[string]any) error {
	return s.mergeProfile(ctx, "device_properties", projectID, userID, props)
}

func (s *Store) mergeProfile(ctx context.Context, column, projectID, userID string, props map[string]any) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encode %s: %w", column, err)
	}
	// column is one of two constants above, never caller input
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_profiles (project_id, user_id, `+column+`)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (project_id, user_id)
		DO UPDATE SET `+column+` = user_profiles.`+column+` || EXCLUDED.`+column,
		projectID, userID, string(raw))
	if err != nil {
		return fmt.Errorf("merge %s: %w", column, err)
	}
	return nil
}

func (s *Store) ListenChannel() string {
	return "tg_data_change"
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}

// appendCampaign decodes the jsonb columns of one row. A row whose targeting
// cannot be decoded is logged and left out so the rest of the list still loads.
func appendCampaign(out []segment.Campaign, c segment.Campaign, segmentInfo, payload []byte) []segment.Campaign {
	si, err := decodeSegmentInfo(segmentInfo)
	if err != nil {
		log.Error().Err(err).Str("campaign_id", c.ID).Msg("skipping campaign with undecodable segment_info")
		observability.Evaluations.WithLabelValues("config_error").Inc()
		return out
	}
	c.SegmentInfo = si
	if len(payload) > 0 {
		c.Payload = json.RawMessage(payload)
	}
	return append(out, c)
}

func decodeSegmentInfo(raw []byte) (segment.SegmentInfo, error) {
	var si segment.SegmentInfo
	if len(raw) == 0 {
		return si, nil
	}
	if err := json.Unmarshal(raw, &si); err != nil {
		return si, fmt.Errorf("decode segment_info: %w", err)
	}
	return si, nil
}

func decodeProperties(raw []byte) (map[string]any, error) {
	props := map[string]any{}
	if len(raw) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, err
	}
	return props, nil
}
