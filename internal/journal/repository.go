// Package journal persists router events and the last known router state
// in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/meshgate/internal/borderrouter"
)

// Kind groups journal events.
type Kind string

const (
	KindConnection Kind = "connection"
	KindRetry      Kind = "retry"
	KindGiveUp     Kind = "give_up"
	KindLifecycle  Kind = "lifecycle"
)

// timeFormat is fixed width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Event is one journal entry. Payload is CBOR produced by EncodeConnection or
// EncodeRetry, or nil.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which events List returns.
type Filter struct {
	Kind   Kind      // optional
	Reason string    // optional
	Since  time.Time // optional: only events at or after Since
	Limit  int       // default 50, max 500
	Offset int
}

// ListResult is one page of events, newest first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the journal storage operations.
type Repository interface {
	Create(ctx context.Context, ev *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	SaveState(ctx context.Context, s borderrouter.Snapshot) error
	LoadState(ctx context.Context) (borderrouter.Snapshot, error)
}

// SQLiteRepository stores the journal in the router_events and router_state
// tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository on an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an event. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO router_events (id, kind, reason, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.Reason, ev.Payload,
		ev.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting journal event: %w", err)
	}
	return nil
}

// List returns events matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Reason != "" {
		conditions = append(conditions, "reason = ?")
		args = append(args, filter.Reason)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeFormat))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM router_events %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal events: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT id, kind, reason, payload, created_at FROM router_events %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var kind, createdAt string
		if err := rows.Scan(&ev.ID, &kind, &ev.Reason, &ev.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal event: %w", err)
		}
		ev.Kind = Kind(kind)
		t, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
		}
		ev.CreatedAt = t
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// SaveState replaces the stored router snapshot.
func (r *SQLiteRepository) SaveState(ctx context.Context, s borderrouter.Snapshot) error {
	payload, err := encodeSnapshot(s)
	if err != nil {
		return fmt.Errorf("encoding router state: %w", err)
	}
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO router_state (id, snapshot, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		payload, at.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("saving router state: %w", err)
	}
	return nil
}

// LoadState returns the last saved snapshot, or ErrNoState.
func (r *SQLiteRepository) LoadState(ctx context.Context) (borderrouter.Snapshot, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, "SELECT snapshot FROM router_state WHERE id = 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return borderrouter.Snapshot{}, ErrNoState
	}
	if err != nil {
		return borderrouter.Snapshot{}, fmt.Errorf("loading router state: %w", err)
	}
	return decodeSnapshot(payload)
}
