// v2
// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/Rlpzx/auto-riego/internal/zone"
)

// Postgres keeps one JSONB document per zone. Merge leans on the JSONB `||`
// operator, which has exactly the shallow-merge semantics the store contract
// asks for: listed keys overwrite, everything else is preserved.
type Postgres struct {
	db  *sql.DB
	log *slog.Logger
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS zone_states (
    zone_id    TEXT PRIMARY KEY,
    state      JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func NewPostgres(ctx context.Context, dsn string, log *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	log.Info("postgres ready")
	return &Postgres{db: db, log: log}, nil
}

func (p *Postgres) Get(ctx context.Context, zoneID string) (zone.State, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT state FROM zone_states WHERE zone_id = $1`, zoneID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return zone.DefaultState(), nil
	}
	if err != nil {
		return zone.State{}, fmt.Errorf("query zone %s: %w", zoneID, err)
	}
	return rawToState(raw)
}

func (p *Postgres) Merge(ctx context.Context, zoneID string, fields map[string]any) (zone.State, error) {
	if err := rejectControlFields(fields); err != nil {
		return zone.State{}, err
	}
	return p.apply(ctx, zoneID, fields, false)
}

func (p *Postgres) SetValve(ctx context.Context, zoneID, valve, reason string, manualOverride bool) error {
	fields := valveFields(valve, reason, manualOverride)
	clearReason := reason == ""
	if clearReason {
		delete(fields, "reason")
	}
	_, err := p.apply(ctx, zoneID, fields, clearReason)
	return err
}

func (p *Postgres) apply(ctx context.Context, zoneID string, fields map[string]any, clearReason bool) (zone.State, error) {
	patch := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		patch[k] = v
	}
	patch["lastUpdated"] = nowStamp()
	raw, err := json.Marshal(patch)
	if err != nil {
		return zone.State{}, fmt.Errorf("encode patch: %w", err)
	}
	merge := `zone_states.state || EXCLUDED.state`
	if clearReason {
		merge = `(zone_states.state || EXCLUDED.state) - 'reason'`
	}
	query := fmt.Sprintf(`
INSERT INTO zone_states (zone_id, state, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (zone_id) DO UPDATE
SET state = %s, updated_at = now()
RETURNING state`, merge)
	var out []byte
	if err := p.db.QueryRowContext(ctx, query, zoneID, raw).Scan(&out); err != nil {
		return zone.State{}, fmt.Errorf("merge zone %s: %w", zoneID, err)
	}
	return rawToState(out)
}

func (p *Postgres) All(ctx context.Context) (map[string]zone.State, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT zone_id, state FROM zone_states`)
	if err != nil {
		return nil, fmt.Errorf("query zones: %w", err)
	}
	defer rows.Close()
	out := map[string]zone.State{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		st, err := rawToState(raw)
		if err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

func rawToState(raw []byte) (zone.State, error) {
	st := zone.DefaultState()
	if err := json.Unmarshal(raw, &st); err != nil {
		return zone.State{}, fmt.Errorf("decode zone state: %w", err)
	}
	if st.Valve == "" {
		st.Valve = zone.ValveOff
	}
	return st, nil
}
