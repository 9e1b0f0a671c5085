package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Load is one row of load history.
type Load struct {
	ID        uuid.UUID     `json:"id"`
	Source    string        `json:"source"`
	Total     int           `json:"total"`
	Loaded    int           `json:"loaded"`
	Failed    int           `json:"failed"`
	Persisted int           `json:"persisted"`
	Exported  int           `json:"exported"`
	Warning   string        `json:"warning,omitempty"`
	ClientIP  string        `json:"clientIp,omitempty"`
	UserAgent string        `json:"userAgent,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"-"`
}

const insertLoadSQL = `
INSERT INTO patient_loads
	(id, source, total_rows, loaded, failed, persisted, exported, warning, client_ip, user_agent, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
	persisted   = EXCLUDED.persisted,
	exported    = EXCLUDED.exported,
	warning     = EXCLUDED.warning,
	duration_ms = EXCLUDED.duration_ms`

// RecordLoad inserts or updates a load history row.
func (s *Store) RecordLoad(ctx context.Context, l Load) error {
	_, err := s.pool.Exec(ctx, insertLoadSQL,
		ToPgUUID(l.ID),
		l.Source,
		l.Total,
		l.Loaded,
		l.Failed,
		l.Persisted,
		l.Exported,
		ToPgText(l.Warning),
		ToPgText(l.ClientIP),
		ToPgText(l.UserAgent),
		l.StartedAt,
		l.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record load %s: %w", l.ID, err)
	}
	return nil
}

// RecentLoads returns up to limit loads, newest first.
func (s *Store) RecentLoads(ctx context.Context, limit int) ([]Load, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, total_rows, loaded, failed, persisted, exported,
		       warning, client_ip, user_agent, started_at, duration_ms
		FROM patient_loads
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query loads: %w", err)
	}
	defer rows.Close()

	var out []Load
	for rows.Next() {
		var (
			l               Load
			id              pgtype.UUID
			warning, ip, ua pgtype.Text
			durationMs      int64
		)
		if err := rows.Scan(&id, &l.Source, &l.Total, &l.Loaded, &l.Failed, &l.Persisted, &l.Exported,
			&warning, &ip, &ua, &l.StartedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan load: %w", err)
		}
		l.ID = uuid.UUID(id.Bytes)
		l.Warning = warning.String
		l.ClientIP = ip.String
		l.UserAgent = ua.String
		l.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loads: %w", err)
	}
	return out, nil
}

// PruneLoads deletes history rows started before cutoff. Patients from
// those loads keep their data and lose the load reference.
func (s *Store) PruneLoads(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM patient_loads WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune loads: %w", err)
	}
	return tag.RowsAffected(), nil
}
