package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// execQuerier is the subset of pgxpool.Pool the store uses.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ValidationStore keeps every change of validator verdict. As a
// domain.StatsSink it inserts a row only when the verdict for a symbol
// differs from the previous one it saw, the first verdict included.
type ValidationStore struct {
	db execQuerier

	mu   sync.Mutex
	last map[string]string
}

// NewValidationStore creates a ValidationStore backed by the client's pool.
func NewValidationStore(c *Client) *ValidationStore {
	return newValidationStore(c.Pool())
}

func newValidationStore(db execQuerier) *ValidationStore {
	return &ValidationStore{db: db, last: make(map[string]string)}
}

// Name labels the store's failures in sink metrics.
func (s *ValidationStore) Name() string { return "postgres" }

// Write implements domain.StatsSink.
func (s *ValidationStore) Write(ctx context.Context, stats domain.BookStats) error {
	from, changed := s.transition(stats.Symbol, stats.Validation)
	if !changed {
		return nil
	}
	if err := s.Record(ctx, from, stats); err != nil {
		// Forget the verdict so the next cycle retries the insert.
		s.mu.Lock()
		if from == "" {
			delete(s.last, stats.Symbol)
		} else {
			s.last[stats.Symbol] = from
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *ValidationStore) transition(symbol, verdict string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.last[symbol]
	s.last[symbol] = verdict
	return prev, !seen || prev != verdict
}

// Record inserts one transition from the verdict from to stats.Validation.
func (s *ValidationStore) Record(ctx context.Context, from string, stats domain.BookStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("postgres: marshal stats: %w", err)
	}
	const query = `
		INSERT INTO validation_events
			(run_id, symbol, from_state, to_state, best_bid, best_ask, spread_pct, latency_ms, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.db.Exec(ctx, query,
		stats.RunID, stats.Symbol, from, stats.Validation,
		stats.BestBid, stats.BestAsk, stats.SpreadPct, stats.LatencyMs, statsJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: record validation %s: %w", stats.Symbol, err)
	}
	return nil
}

// buildListQuery returns the history query for opts, newest first.
func buildListQuery(opts domain.ListOpts) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, run_id, symbol, from_state, to_state, best_bid, best_ask,
		spread_pct, latency_ms, stats, created_at FROM validation_events WHERE 1=1`)
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Symbol != "" {
		sb.WriteString(" AND symbol = " + arg(opts.Symbol))
	}
	if opts.Since != nil {
		sb.WriteString(" AND created_at >= " + arg(*opts.Since))
	}
	if opts.Until != nil {
		sb.WriteString(" AND created_at <= " + arg(*opts.Until))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		sb.WriteString(" OFFSET " + arg(opts.Offset))
	}
	return sb.String(), args
}

// List returns recorded transitions matching opts.
func (s *ValidationStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ValidationRecord, error) {
	query, args := buildListQuery(opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list validation events: %w", err)
	}
	defer rows.Close()

	var out []domain.ValidationRecord
	for rows.Next() {
		var r domain.ValidationRecord
		var statsJSON []byte
		if err := rows.Scan(&r.ID, &r.RunID, &r.Symbol, &r.From, &r.To, &r.BestBid, &r.BestAsk,
			&r.SpreadPct, &r.LatencyMs, &statsJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan validation event: %w", err)
		}
		if len(statsJSON) > 0 {
			if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal stats: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list validation events rows: %w", err)
	}
	return out, nil
}

var _ domain.StatsSink = (*ValidationStore)(nil)
