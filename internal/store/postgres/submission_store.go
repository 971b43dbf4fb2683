package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

const submissionColumns = `id, session_id, account, side, cycle, status_code, outcome,
	power, price, delivery_start, delivery_end, expiry_time,
	country_code, location_ids, response_body, created_at`

// SubmissionStore implements domain.SubmissionStore: one row per completed
// submission cycle.
type SubmissionStore struct {
	pool *pgxpool.Pool
}

// NewSubmissionStore creates a SubmissionStore on pool.
func NewSubmissionStore(pool *pgxpool.Pool) *SubmissionStore {
	return &SubmissionStore{pool: pool}
}

// Insert journals sub. Re-inserting the same ID is a no-op.
func (s *SubmissionStore) Insert(ctx context.Context, sub domain.Submission) error {
	locations := sub.LocationIDs
	if locations == nil {
		locations = []string{}
	}
	const query = `
		INSERT INTO submissions (` + submissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		sub.ID, sub.SessionID, sub.Account, string(sub.Side), sub.Cycle,
		sub.StatusCode, sub.Outcome, sub.Power, sub.Price,
		sub.DeliveryStart, sub.DeliveryEnd, sub.ExpiryTime,
		sub.CountryCode, locations, sub.ResponseBody, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert submission %s: %w", sub.ID, err)
	}
	return nil
}

// ListBySession returns a session's submissions in cycle order.
func (s *SubmissionStore) ListBySession(ctx context.Context, sessionID string) ([]domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE session_id = $1 ORDER BY cycle, created_at`
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list submissions of session %s: %w", sessionID, err)
	}
	return collectSubmissions(rows)
}

// ListRecent returns submissions newest first. An empty side matches both.
func (s *SubmissionStore) ListRecent(ctx context.Context, side domain.Side, opts domain.ListOpts) ([]domain.Submission, error) {
	var f filter
	if side != "" {
		f.add("side = $%d", string(side))
	}
	f.timeRange("created_at", opts)
	query, args := f.build(`SELECT `+submissionColumns+` FROM submissions`, "created_at DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent submissions: %w", err)
	}
	return collectSubmissions(rows)
}

// CountByOutcome tallies submissions since the given time by outcome.
func (s *SubmissionStore) CountByOutcome(ctx context.Context, since time.Time) (map[string]int64, error) {
	const query = `SELECT outcome, COUNT(*) FROM submissions WHERE created_at >= $1 GROUP BY outcome`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan submission count: %w", err)
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count submissions rows: %w", err)
	}
	return counts, nil
}

func collectSubmissions(rows pgx.Rows) ([]domain.Submission, error) {
	defer rows.Close()
	var out []domain.Submission
	for rows.Next() {
		var sub domain.Submission
		var side string
		if err := rows.Scan(
			&sub.ID, &sub.SessionID, &sub.Account, &side, &sub.Cycle,
			&sub.StatusCode, &sub.Outcome, &sub.Power, &sub.Price,
			&sub.DeliveryStart, &sub.DeliveryEnd, &sub.ExpiryTime,
			&sub.CountryCode, &sub.LocationIDs, &sub.ResponseBody, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan submission: %w", err)
		}
		sub.Side = domain.Side(side)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: submission rows: %w", err)
	}
	return out, nil
}

var _ domain.SubmissionStore = (*SubmissionStore)(nil)
