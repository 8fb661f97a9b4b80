package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"plant-debugger/api/internal/diagnose"
)

var ErrNotFound = sql.ErrNoRows

// SessionRepo persists diagnosis session snapshots as JSON blobs keyed by
// session id.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

// EnsureSchema creates the sessions table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const q = `
create table if not exists sessions (
    session_id text primary key,
    state_json jsonb not null,
    updated_at timestamptz not null default now()
)`
	_, err := db.ExecContext(ctx, q)
	if err != nil {
		return fmt.Errorf("ensure sessions schema: %w", err)
	}
	return nil
}

func (r *SessionRepo) Save(ctx context.Context, st diagnose.SessionState) error {
	js, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	const q = `
insert into sessions (session_id, state_json, updated_at)
values ($1, $2, now())
on conflict (session_id)
do update set state_json = excluded.state_json, updated_at = now()`
	_, err = r.DB.ExecContext(ctx, q, st.ID, js)
	return err
}

// Load reads the snapshot back. maxAge > 0 treats older rows as not found.
func (r *SessionRepo) Load(ctx context.Context, sessionID string, maxAge time.Duration) (*diagnose.SessionState, error) {
	const q = `
select state_json, updated_at
from sessions
where session_id = $1`
	row := r.DB.QueryRowContext(ctx, q, sessionID)

	var (
		js []byte
		ts time.Time
	)
	if err := row.Scan(&js, &ts); err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(ts) > maxAge {
		return nil, ErrNotFound
	}
	var st diagnose.SessionState
	if err := json.Unmarshal(js, &st); err != nil {
		// broken blob behaves like a missing row
		return nil, ErrNotFound
	}
	return &st, nil
}

func (r *SessionRepo) Clear(ctx context.Context, sessionID string) error {
	const q = `delete from sessions where session_id = $1`
	_, err := r.DB.ExecContext(ctx, q, sessionID)
	return err
}
