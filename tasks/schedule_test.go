package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphserve-ai/graphserve/log"
	"github.com/graphserve-ai/graphserve/store"
)

func newScheduleStore(t *testing.T) (*ScheduleStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewScheduleStore(mock, ""), mock
}

func TestCreateScheduleRejectsNonPositiveInterval(t *testing.T) {
	s, mock := newScheduleStore(t)

	err := s.CreateSchedule(context.Background(), &Schedule{
		Task:            Task{GraphName: "echo"},
		IntervalSeconds: 0,
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be positive")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScheduleDefaultsNextRun(t *testing.T) {
	s, mock := newScheduleStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO graph_schedules")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 60, true, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	schedule := &Schedule{
		Task:            Task{GraphName: "echo", Input: map[string]any{"messages": []any{}}},
		IntervalSeconds: 60,
		Enabled:         true,
	}
	err := s.CreateSchedule(context.Background(), schedule)
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, schedule.ID)
	assert.WithinDuration(t, time.Now().Add(time.Minute), schedule.NextRunAt, 5*time.Second)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScheduleNotFound(t *testing.T) {
	s, mock := newScheduleStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM graph_schedules")).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "task", "interval_seconds", "enabled", "next_run_at", "created_at", "updated_at",
		}))

	_, err := s.GetSchedule(context.Background(), id)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSchedulesEnvelope(t *testing.T) {
	s, mock := newScheduleStore(t)
	now := time.Now()
	task, _ := json.Marshal(Task{GraphName: "echo"})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM graph_schedules")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY next_run_at")).
		WithArgs(10, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "task", "interval_seconds", "enabled", "next_run_at", "created_at", "updated_at",
		}).AddRow(uuid.New(), task, 60, true, now, now, now))

	list, err := s.ListSchedules(context.Background(), 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, 4, list.Count)
	require.Len(t, list.Response, 1)
	assert.Equal(t, "echo", list.Response[0].Task.GraphName)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDueReturnsOnlyDueSchedules(t *testing.T) {
	s, mock := newScheduleStore(t)
	now := time.Now()
	task, _ := json.Marshal(Task{GraphName: "echo"})

	mock.ExpectQuery(regexp.QuoteMeta("WHERE enabled AND next_run_at <= $1")).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "task", "interval_seconds", "enabled", "next_run_at", "created_at", "updated_at",
		}).
			AddRow(uuid.New(), task, 30, true, now.Add(-time.Minute), now, now).
			AddRow(uuid.New(), task, 60, true, now.Add(-time.Second), now, now))

	due, err := s.Due(context.Background(), now)
	assert.NoError(t, err)
	require.Len(t, due, 2)
	assert.True(t, due[0].NextRunAt.Before(due[1].NextRunAt))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunNotFound(t *testing.T) {
	s, mock := newScheduleStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE graph_schedules")).
		WithArgs(id, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkRun(context.Background(), id, now)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSchedule(t *testing.T) {
	s, mock := newScheduleStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM graph_schedules")).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := s.DeleteSchedule(context.Background(), id)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulerRunsDueTask(t *testing.T) {
	scheduleStore, mock := newScheduleStore(t)
	svc := newTaskService(t, flakyCompile(0))
	runner, _ := newTestRunner(svc, 3)
	scheduler := NewScheduler(scheduleStore, runner, SchedulerOptions{Logger: &log.NoOpLogger{}})

	now := time.Now()
	id := uuid.New()
	task, _ := json.Marshal(Task{GraphName: "job"})

	mock.ExpectQuery(regexp.QuoteMeta("WHERE enabled AND next_run_at <= $1")).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "task", "interval_seconds", "enabled", "next_run_at", "created_at", "updated_at",
		}).AddRow(id, task, 60, true, now.Add(-time.Second), now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE graph_schedules")).
		WithArgs(id, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	scheduler.runDue(context.Background(), now)

	assert.NoError(t, mock.ExpectationsWereMet())
}
