// Package progress tracks the state of the indexing pipeline: whether a
// run is active, how far it has gotten, and the last errors observed
// (§4.9). State survives restarts by periodic persistence to the
// progress_snapshots table.
package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"
)

const maxErrors = 100

// Snapshot is a read-only copy of the tracker's state, safe to hand to
// callers outside the lock.
type Snapshot struct {
	IsRunning      bool
	StartedAt      *int64
	ProcessedCount int
	TotalCount     int
	CurrentFile    string
	Errors         []string
}

// Tracker guards the process-wide indexing state behind a single mutex,
// copying snapshots out under the lock (§5).
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
	db   *sql.DB
}

// New builds a Tracker. db is used for periodic persistence and the boot
// recompute of processed_count; pass nil to run without persistence
// (used in tests).
func New(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// Boot recomputes processed_count from the images table and restores the
// last persisted snapshot's error list, per the "survives restarts"
// requirement.
func (t *Tracker) Boot(ctx context.Context) error {
	if t.db == nil {
		return nil
	}
	var count int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count); err != nil {
		return err
	}

	var isRunning int
	var startedAt sql.NullInt64
	var totalCount int
	var currentFile string
	var errorsJSON string
	row := t.db.QueryRowContext(ctx, `SELECT is_running, started_at, total_count, current_file, errors_json FROM progress_snapshots WHERE id = 1`)
	err := row.Scan(&isRunning, &startedAt, &totalCount, &currentFile, &errorsJSON)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.ProcessedCount = count
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	// A restart always finds indexing not actually running; is_running is
	// reset so /index/status doesn't lie about a process that died
	// mid-run.
	t.snap.IsRunning = false
	t.snap.TotalCount = totalCount
	t.snap.CurrentFile = currentFile
	var errs []string
	if err := json.Unmarshal([]byte(errorsJSON), &errs); err == nil {
		t.snap.Errors = errs
	}
	return nil
}

// Start marks a run as active with the given expected total.
func (t *Tracker) Start(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().Unix()
	t.snap = Snapshot{IsRunning: true, StartedAt: &now, TotalCount: total}
}

// Stop marks the run as no longer active; processed/total/errors are
// left intact for the final /index/status read.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.IsRunning = false
}

// SetCurrentFile records the file currently being processed.
func (t *Tracker) SetCurrentFile(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.CurrentFile = name
}

// IncrementProcessed advances the processed counter by one.
func (t *Tracker) IncrementProcessed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.ProcessedCount++
}

// AddError appends an error message, capping the retained list at the
// last 100 entries (§4.9).
func (t *Tracker) AddError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Errors = append(t.snap.Errors, msg)
	if len(t.snap.Errors) > maxErrors {
		t.snap.Errors = t.snap.Errors[len(t.snap.Errors)-maxErrors:]
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.snap
	s.Errors = append([]string(nil), t.snap.Errors...)
	return s
}

// IsRunning reports whether a run is currently active.
func (t *Tracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.IsRunning
}

// Persist writes the current snapshot to progress_snapshots, replacing
// the single row.
func (t *Tracker) Persist(ctx context.Context) error {
	if t.db == nil {
		return nil
	}
	s := t.Snapshot()
	errorsJSON, err := json.Marshal(s.Errors)
	if err != nil {
		return err
	}
	var startedAt sql.NullInt64
	if s.StartedAt != nil {
		startedAt = sql.NullInt64{Int64: *s.StartedAt, Valid: true}
	}
	_, err = t.db.ExecContext(ctx, `INSERT INTO progress_snapshots
		(id, is_running, started_at, processed_count, total_count, current_file, errors_json)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_running=excluded.is_running, started_at=excluded.started_at,
			processed_count=excluded.processed_count, total_count=excluded.total_count,
			current_file=excluded.current_file, errors_json=excluded.errors_json`,
		s.IsRunning, startedAt, s.ProcessedCount, s.TotalCount, s.CurrentFile, string(errorsJSON))
	return err
}

// RunPeriodicPersist persists the snapshot every interval until ctx is
// done, and once more on the way out so the final state isn't lost.
func (t *Tracker) RunPeriodicPersist(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Persist(ctx)
		case <-ctx.Done():
			t.Persist(context.Background())
			return
		}
	}
}
