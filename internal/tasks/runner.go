package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reservo_app_echo/internal/models"
)

const (
	runStatusSuccess         = "success"
	runStatusFailure         = "failure"
	runStatusHandlerNotFound = "handler_not_found"
)

// defaultClaimLease must outlast one worker tick so a claimed task is not picked up twice.
const defaultClaimLease = 15 * time.Minute

// TaskStore claims due tasks and records the outcome of each run
type TaskStore interface {
	// ClaimDue returns the due tasks and pushes their due time to now+lease, so other
	// workers skip them until the run settles or the lease runs out.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.ScheduledTask, error)
	RecordAttempt(ctx context.Context, history models.ScheduledTaskHistory) error
	Settle(ctx context.Context, taskID uint, updates map[string]interface{}) error
}

type GormTaskStore struct {
	db *gorm.DB
}

func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{db: db}
}

func (s *GormTaskStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.ScheduledTask, error) {
	var due []models.ScheduledTask
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).
			Order("due ASC").
			Limit(limit).
			Find(&due).Error
		if err != nil || len(due) == 0 {
			return err
		}

		ids := make([]uint, 0, len(due))
		for _, t := range due {
			ids = append(ids, t.ID)
		}
		return tx.Model(&models.ScheduledTask{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"due": now.Add(lease), "last_run": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

func (s *GormTaskStore) RecordAttempt(ctx context.Context, history models.ScheduledTaskHistory) error {
	return s.db.WithContext(ctx).Create(&history).Error
}

func (s *GormTaskStore) Settle(ctx context.Context, taskID uint, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&models.ScheduledTask{}).Where("id = ?", taskID).Updates(updates).Error
}

// Create inserts a task built by one of the task definitions
func (s *GormTaskStore) Create(ctx context.Context, task *models.ScheduledTask) error {
	return s.db.WithContext(ctx).Create(task).Error
}

// Runner executes due scheduled tasks through the registry
type Runner struct {
	store    TaskStore
	registry *Registry
	logger   *zap.Logger
	batch    int
	lease    time.Duration
	now      func() time.Time
}

func NewRunner(store TaskStore, registry *Registry, logger *zap.Logger) *Runner {
	return &Runner{
		store:    store,
		registry: registry,
		logger:   logger,
		batch:    defaultBatchSize,
		lease:    defaultClaimLease,
		now:      time.Now,
	}
}

// RunDue claims and executes every task that is due and returns how many were run.
// Tasks are settled with their original due time, so recurring cadence is unaffected by the claim.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	due, err := r.store.ClaimDue(ctx, r.now(), r.lease, r.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due tasks: %w", err)
	}
	if len(due) == 0 {
		r.logger.Debug("no pending tasks found")
		return 0, nil
	}

	r.logger.Info("processing due tasks", zap.Int("count", len(due)))

	ran := 0
	for _, task := range due {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		r.execute(ctx, task)
		ran++
	}
	return ran, nil
}

func (r *Runner) execute(ctx context.Context, task models.ScheduledTask) {
	log := r.logger.With(zap.String("task_name", task.TaskName), zap.Uint("task_id", task.ID))

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Error("task handler not found, marking as failure")
		now := r.now()
		r.record(ctx, log, models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          runStatusHandlerNotFound,
			AttemptNumber:   1,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "handler not found"},
		})
		r.settle(ctx, log, task.ID, map[string]interface{}{
			"status":     models.ScheduledTaskStatusFailure,
			"last_run":   now,
			"last_error": "handler not found",
		})
		return
	}

	maxAttempt := task.MaxAttempt
	if maxAttempt < 1 {
		maxAttempt = 1
	}

	var runErr error
	for attempt := 1; attempt <= maxAttempt; attempt++ {
		start := r.now()
		result, err := handler(ctx, task)
		runtime := r.now().Sub(start)

		history := models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           start,
			RuntimeMs:       int(runtime.Milliseconds()),
			Status:          runStatusSuccess,
			AttemptNumber:   attempt,
			Arguments:       task.Arguments,
			Result:          result,
		}
		if err != nil {
			history.Status = runStatusFailure
			history.Result = map[string]interface{}{"error": err.Error()}
		}
		r.record(ctx, log, history)

		runErr = err
		if err == nil {
			log.Info("task completed", zap.Int("attempt", attempt), zap.Duration("runtime", runtime))
			break
		}
		log.Warn("task attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if isPermanent(err) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}
	}

	r.settle(ctx, log, task.ID, task.Settle(r.now(), runErr))
}

func (r *Runner) record(ctx context.Context, log *zap.Logger, history models.ScheduledTaskHistory) {
	if err := r.store.RecordAttempt(ctx, history); err != nil {
		log.Error("failed to record task history", zap.Error(err))
	}
}

func (r *Runner) settle(ctx context.Context, log *zap.Logger, taskID uint, updates map[string]interface{}) {
	if err := r.store.Settle(ctx, taskID, updates); err != nil {
		log.Error("failed to update scheduled task", zap.Error(err))
	}
}
