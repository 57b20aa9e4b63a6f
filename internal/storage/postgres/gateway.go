// Package postgres is the only part of the core that knows it's talking
// to Postgres. It implements storage.Gateway on top of database/sql and
// github.com/lib/pq, using the latter for its LISTEN/NOTIFY-backed
// pq.Listener as the "lazy, ordered stream of strings" the core's
// notification primitive requires.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/Patryk27/free-churro-scheduler/internal/errs"
	"github.com/Patryk27/free-churro-scheduler/internal/retry"
	"github.com/Patryk27/free-churro-scheduler/internal/storage"
	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

// Options configures the pooled *sql.DB behind a Gateway. Mirrors the
// teacher's own MySQLOptions shape, generalized to a single DSN string
// since lib/pq already parses Postgres connection URLs for us.
type Options struct {
	DSN string

	MaxOpenConnections    int
	MaxIdleConnections    int
	MaxConnectionLifeTime time.Duration

	// QueryTimeout bounds every Gateway call that doesn't get an explicit
	// deadline from the caller's own ctx. Defaults to 10s per the core's
	// resource model.
	QueryTimeout time.Duration

	// ConnectRetryInterval and ConnectRetryAttempts bound how hard Connect
	// tries before giving up - a supervisor or worker started just before
	// the database finishes coming up shouldn't have to be relaunched by
	// its process manager.
	ConnectRetryInterval time.Duration
	ConnectRetryAttempts int64
}

func (o Options) withDefaults() Options {
	if o.MaxOpenConnections == 0 {
		o.MaxOpenConnections = 10
	}
	if o.MaxIdleConnections == 0 {
		o.MaxIdleConnections = 5
	}
	if o.MaxConnectionLifeTime == 0 {
		o.MaxConnectionLifeTime = time.Hour
	}
	if o.QueryTimeout == 0 {
		o.QueryTimeout = 10 * time.Second
	}
	if o.ConnectRetryInterval == 0 {
		o.ConnectRetryInterval = 1 * time.Second
	}
	if o.ConnectRetryAttempts == 0 {
		o.ConnectRetryAttempts = 5
	}
	return o
}

// Gateway implements storage.Gateway against a Postgres database.
type Gateway struct {
	db      *sql.DB
	dsn     string
	timeout time.Duration
}

var _ storage.Gateway = (*Gateway)(nil)

// Connect opens the connection pool and verifies it with a ping, retrying
// at a fixed interval if the database isn't reachable yet. The DSN is
// retained (not just the *sql.DB) because Subscribe needs to open its own
// dedicated connections for LISTEN - pq.Listener manages those separately
// from the pool used for ordinary queries.
func Connect(ctx context.Context, opts Options) (*Gateway, error) {
	opts = opts.withDefaults()

	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: couldn't open connection pool: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConnections)
	db.SetMaxIdleConns(opts.MaxIdleConnections)
	db.SetConnMaxLifetime(opts.MaxConnectionLifeTime)

	if err := pingWithRetry(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: couldn't connect to the database: %w", err)
	}

	return &Gateway{db: db, dsn: opts.DSN, timeout: opts.QueryTimeout}, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB, opts Options) error {
	strategy := &retry.FixedInterval{Interval: opts.ConnectRetryInterval, Max: opts.ConnectRetryAttempts}

	for {
		pingCtx, cancel := context.WithTimeout(ctx, opts.QueryTimeout)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		wait, ok := strategy.Next()
		if !ok {
			return err
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

// DB exposes the underlying connection pool for callers outside this
// package that need raw access - currently only the "init" subcommand,
// to apply the schema before any Gateway method assumes it exists.
func (g *Gateway) DB() *sql.DB {
	return g.db
}

func (g *Gateway) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) CreateTask(ctx context.Context, def []byte, scheduledAt *time.Time) (uuid.UUID, error) {
	qctx, cancel := g.ctx(ctx)
	defer cancel()

	id := uuid.New()
	now := time.Now().UTC()

	tx, err := g.db.BeginTx(qctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("postgres: couldn't begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(qctx, `
		insert into tasks (id, def, worker_id, status, created_at, updated_at, scheduled_at)
		values ($1, $2, null, 'pending', $3, $3, $4)
	`, id, json.RawMessage(def), now, scheduledAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("postgres: couldn't insert task: %w", err)
	}

	if err := notify(qctx, tx, "supervisor", fmt.Sprintf("new_task:%s", id)); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("postgres: couldn't commit transaction: %w", err)
	}

	return id, nil
}

func (g *Gateway) ListPendingScheduled(ctx context.Context) ([]storage.ScheduledTask, error) {
	qctx, cancel := g.ctx(ctx)
	defer cancel()

	rows, err := g.db.QueryContext(qctx, `
		select id, scheduled_at
		  from tasks
		 where status = 'pending'
		   and scheduled_at is not null
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: couldn't list scheduled tasks: %w", err)
	}
	defer rows.Close()

	var out []storage.ScheduledTask
	for rows.Next() {
		var st storage.ScheduledTask
		if err := rows.Scan(&st.ID, &st.ScheduledAt); err != nil {
			return nil, fmt.Errorf("postgres: couldn't scan scheduled task: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (g *Gateway) ListPendingASAP(ctx context.Context) ([]uuid.UUID, error) {
	qctx, cancel := g.ctx(ctx)
	defer cancel()

	rows, err := g.db.QueryContext(qctx, `
		select id
		  from tasks
		 where status = 'pending'
		   and (scheduled_at is null or scheduled_at <= now())
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: couldn't list asap tasks: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: couldn't scan asap task: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (g *Gateway) UpsertWorker(ctx context.Context, id uuid.UUID) error {
	qctx, cancel := g.ctx(ctx)
	defer cancel()

	tx, err := g.db.BeginTx(qctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: couldn't begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	_, err = tx.ExecContext(qctx, `
		insert into workers (id, last_heard_at)
		values ($1, $2)
		on conflict (id) do update set last_heard_at = $2
	`, id, now)
	if err != nil {
		return fmt.Errorf("postgres: couldn't upsert worker: %w", err)
	}

	if err := notify(qctx, tx, "supervisor", fmt.Sprintf("heartbeat:%s", id)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: couldn't commit transaction: %w", err)
	}

	return nil
}

func (g *Gateway) AssignTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error) {
	qctx, cancel := g.ctx(ctx)
	defer cancel()

	tx, err := g.db.BeginTx(qctx, nil)
	if err != nil {
		return false, fmt.Errorf("postgres: couldn't begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(qctx, `
		update tasks
		   set worker_id = $1,
		       status = 'dispatched',
		       updated_at = $2
		 where id = $3
		   and status = 'pending'
	`, workerID, time.Now().UTC(), taskID)
	if err != nil {
		return false, fmt.Errorf("postgres: couldn't assign task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: couldn't read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := notify(qctx, tx, fmt.Sprintf("worker:%s", workerID), fmt.Sprintf("dispatch:%s", taskID)); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("postgres: couldn't commit transaction: %w", err)
	}

	return true, nil
}

func (g *Gateway) BeginTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error) {
	qctx, cancel := g.ctx(ctx)
	defer cancel()

	res, err := g.db.ExecContext(qctx, `
		update tasks
		   set status = 'running',
		       updated_at = $1
		 where id = $2
		   and worker_id = $3
		   and status = 'dispatched'
	`, time.Now().UTC(), taskID, workerID)
	if err != nil {
		return false, fmt.Errorf("postgres: couldn't begin task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: couldn't read rows affected: %w", err)
	}

	return n > 0, nil
}

func (g *Gateway) FinishTask(ctx context.Context, taskID uuid.UUID, status task.Status) error {
	qctx, cancel := g.ctx(ctx)
	defer cancel()

	res, err := g.db.ExecContext(qctx, `
		update tasks
		   set status = $1,
		       updated_at = $2
		 where id = $3
		   and status = 'running'
	`, string(status), time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("postgres: couldn't finish task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: couldn't read rows affected: %w", err)
	}
	if n == 0 {
		return errs.ErrTaskNotRunning
	}

	return nil
}

func (g *Gateway) ListDispatchedTo(ctx context.Context, workerID uuid.UUID) ([]uuid.UUID, error) {
	qctx, cancel := g.ctx(ctx)
	defer cancel()

	rows, err := g.db.QueryContext(qctx, `
		select id
		  from tasks
		 where status = 'dispatched'
		   and worker_id = $1
	`, workerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: couldn't list dispatched tasks: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: couldn't scan dispatched task: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (g *Gateway) FindTask(ctx context.Context, id uuid.UUID) (task.Task, error) {
	tasks, err := g.findTasks(ctx, &id, nil)
	if err != nil {
		return task.Task{}, err
	}
	if len(tasks) == 0 {
		return task.Task{}, errs.ErrTaskNotFound
	}
	return tasks[0], nil
}

func (g *Gateway) FindTasks(ctx context.Context, filter storage.Filter) ([]task.Task, error) {
	return g.findTasks(ctx, nil, filter.Status)
}

func (g *Gateway) findTasks(ctx context.Context, id *uuid.UUID, status *task.Status) ([]task.Task, error) {
	qctx, cancel := g.ctx(ctx)
	defer cancel()

	var statusText *string
	if status != nil {
		s := string(*status)
		statusText = &s
	}

	rows, err := g.db.QueryContext(qctx, `
		select id, def, worker_id, status, created_at, updated_at, scheduled_at
		  from tasks
		 where ($1::uuid is null or id = $1)
		   and ($2::task_status is null or status = $2::task_status)
		 order by created_at asc
	`, id, statusText)
	if err != nil {
		return nil, fmt.Errorf("postgres: couldn't find tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		var (
			t        task.Task
			def      []byte
			workerID uuid.NullUUID
			status   string
		)

		if err := rows.Scan(&t.ID, &def, &workerID, &status, &t.CreatedAt, &t.UpdatedAt, &t.ScheduledAt); err != nil {
			return nil, fmt.Errorf("postgres: couldn't scan task: %w", err)
		}

		t.Def = json.RawMessage(def)
		t.Status = task.Status(status)
		if workerID.Valid {
			t.WorkerID = &workerID.UUID
		}

		out = append(out, t)
	}
	return out, rows.Err()
}

func (g *Gateway) DeleteTask(ctx context.Context, id uuid.UUID) error {
	qctx, cancel := g.ctx(ctx)
	defer cancel()

	_, err := g.db.ExecContext(qctx, `delete from tasks where id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: couldn't delete task: %w", err)
	}
	return nil
}

func notify(ctx context.Context, tx *sql.Tx, channel, payload string) error {
	_, err := tx.ExecContext(ctx, `select pg_notify($1, $2)`, channel, payload)
	if err != nil {
		return fmt.Errorf("postgres: couldn't publish notification: %w", err)
	}
	return nil
}
