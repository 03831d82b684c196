package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/graphserve-ai/graphserve/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schedule runs a task repeatedly at a fixed interval.
type Schedule struct {
	ID              uuid.UUID `json:"id"`
	Task            Task      `json:"task"`
	IntervalSeconds int       `json:"interval_seconds"`
	Enabled         bool      `json:"enabled"`
	NextRunAt       time.Time `json:"next_run_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Interval returns the schedule interval as a duration.
func (s *Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// ScheduleStore persists schedules in Postgres.
type ScheduleStore struct {
	pool      DBPool
	tableName string
}

// NewScheduleStore creates a schedule store using the given table,
// defaulting to "graph_schedules".
func NewScheduleStore(pool DBPool, tableName string) *ScheduleStore {
	if tableName == "" {
		tableName = "graph_schedules"
	}
	return &ScheduleStore{pool: pool, tableName: tableName}
}

// InitSchema creates the schedules table if it doesn't exist.
func (s *ScheduleStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			task JSONB NOT NULL,
			interval_seconds INTEGER NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT true,
			next_run_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_%s_next_run_at ON %s (next_run_at) WHERE enabled;
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schedules table: %w", err)
	}
	return nil
}

// CreateSchedule inserts the schedule. The interval must be positive.
// A zero NextRunAt means one interval from now.
func (s *ScheduleStore) CreateSchedule(ctx context.Context, schedule *Schedule) error {
	if schedule.IntervalSeconds <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %d", schedule.IntervalSeconds)
	}
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	if schedule.NextRunAt.IsZero() {
		schedule.NextRunAt = time.Now().Add(schedule.Interval())
	}

	task, err := json.Marshal(schedule.Task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, task, interval_seconds, enabled, next_run_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, s.tableName)
	err = s.pool.QueryRow(ctx, query,
		schedule.ID, task, schedule.IntervalSeconds, schedule.Enabled, schedule.NextRunAt).
		Scan(&schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// GetSchedule returns the schedule with the given ID.
func (s *ScheduleStore) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	query := fmt.Sprintf(`
		SELECT id, task, interval_seconds, enabled, next_run_at, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to load schedule: %w", err)
		}
		return nil, fmt.Errorf("%w: schedule %s", store.ErrNotFound, id)
	}
	return scanSchedule(rows)
}

// ScheduleList is a paginated schedule listing with the total count.
type ScheduleList struct {
	Count    int        `json:"count"`
	Response []Schedule `json:"response"`
}

// ListSchedules returns schedules ordered by next run time, with the
// total count.
func (s *ScheduleStore) ListSchedules(ctx context.Context, limit, offset int) (*ScheduleList, error) {
	if limit <= 0 {
		limit = 10
	}

	var count int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.tableName)
	if err := s.pool.QueryRow(ctx, countQuery).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count schedules: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, task, interval_seconds, enabled, next_run_at, created_at, updated_at
		FROM %s
		ORDER BY next_run_at
		LIMIT $1 OFFSET $2
	`, s.tableName)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	list := &ScheduleList{Count: count, Response: []Schedule{}}
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		list.Response = append(list.Response, *schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	return list, nil
}

// UpdateSchedule updates the task, interval, enabled flag and next run
// time of the schedule.
func (s *ScheduleStore) UpdateSchedule(ctx context.Context, schedule *Schedule) error {
	if schedule.IntervalSeconds <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %d", schedule.IntervalSeconds)
	}

	task, err := json.Marshal(schedule.Task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET task = $2, interval_seconds = $3, enabled = $4, next_run_at = $5, updated_at = now()
		WHERE id = $1
	`, s.tableName)
	tag, err := s.pool.Exec(ctx, query,
		schedule.ID, task, schedule.IntervalSeconds, schedule.Enabled, schedule.NextRunAt)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", store.ErrNotFound, schedule.ID)
	}
	return nil
}

// DeleteSchedule removes the schedule.
func (s *ScheduleStore) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tableName)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", store.ErrNotFound, id)
	}
	return nil
}

// Due returns the enabled schedules whose next run time is at or
// before now, soonest first.
func (s *ScheduleStore) Due(ctx context.Context, now time.Time) ([]Schedule, error) {
	query := fmt.Sprintf(`
		SELECT id, task, interval_seconds, enabled, next_run_at, created_at, updated_at
		FROM %s
		WHERE enabled AND next_run_at <= $1
		ORDER BY next_run_at
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load due schedules: %w", err)
	}
	defer rows.Close()

	var due []Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, *schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due schedules: %w", err)
	}
	return due, nil
}

// MarkRun advances the schedule's next run time by one interval from
// the given run time.
func (s *ScheduleStore) MarkRun(ctx context.Context, id uuid.UUID, ranAt time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET next_run_at = $2 + interval_seconds * interval '1 second', updated_at = now()
		WHERE id = $1
	`, s.tableName)
	tag, err := s.pool.Exec(ctx, query, id, ranAt)
	if err != nil {
		return fmt.Errorf("failed to mark schedule run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", store.ErrNotFound, id)
	}
	return nil
}

func scanSchedule(rows pgx.Rows) (*Schedule, error) {
	var schedule Schedule
	var task []byte

	err := rows.Scan(&schedule.ID, &task, &schedule.IntervalSeconds, &schedule.Enabled,
		&schedule.NextRunAt, &schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}
	if err := json.Unmarshal(task, &schedule.Task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &schedule, nil
}
