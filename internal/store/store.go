package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so text comparison of timestamps matches time order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// ErrWorkerActive is returned when a second worker loop tries to attach to the same store
var ErrWorkerActive = errors.New("a worker loop is already active for this store")

// Store is the durable job table. All state transitions go through its
// transactional methods; nothing else holds authoritative job state.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time

	// mu serializes read-modify-write transactions inside this process.
	// Postgres additionally takes a table lock so other processes are excluded too.
	mu       sync.Mutex
	lockStmt string

	workerActive atomic.Bool
}

// Option customizes a Store
type Option func(*Store)

// WithClock overrides the time source used for created/started/completed stamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store over an open database handle. Call Init before use.
func New(db *sqlx.DB, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
	if db.DriverName() == "postgres" {
		s.lockStmt = "LOCK TABLE jobs IN SHARE ROW EXCLUSIVE MODE"
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AcquireWorkerLease reserves the single worker slot of this store.
// The returned release func frees it and is safe to call more than once.
func (s *Store) AcquireWorkerLease() (func(), error) {
	if !s.workerActive.CompareAndSwap(false, true) {
		return nil, ErrWorkerActive
	}
	var once sync.Once
	return func() {
		once.Do(func() { s.workerActive.Store(false) })
	}, nil
}

// withTx runs fn in one exclusive transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError("begin transaction", err)
	}
	defer tx.Rollback()

	if s.lockStmt != "" {
		if _, err := tx.ExecContext(ctx, s.lockStmt); err != nil {
			return storageError("lock jobs table", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit transaction", err)
	}
	return nil
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// normalizeTime drops the precision timeLayout cannot hold
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizeOptionalTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	normalized := normalizeTime(*t)
	return &normalized
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageFailure, err)
}

// classify maps driver errors onto the domain taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConstraintViolation, err)
	}
	return storageError(op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
