package models

import (
	"time"

	"github.com/teambition/rrule-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScheduledTaskStatus represents the status of a scheduled task
type ScheduledTaskStatus string

const (
	ScheduledTaskStatusActive   ScheduledTaskStatus = "active"
	ScheduledTaskStatusDone     ScheduledTaskStatus = "done"
	ScheduledTaskStatusFailure  ScheduledTaskStatus = "failure"
	ScheduledTaskStatusDisabled ScheduledTaskStatus = "disabled"
)

// ScheduledTaskType represents the type of scheduled task
type ScheduledTaskType string

const (
	ScheduledTaskTypeOneTime   ScheduledTaskType = "onetime"
	ScheduledTaskTypeRecurring ScheduledTaskType = "recurring"
)

// ScheduledTask is a unit of background work picked up by the worker: expiry sweeps,
// receipt reconciliation, recurring charges and receipt delivery.
type ScheduledTask struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	TaskName          string              `gorm:"type:varchar(100);not null" json:"task_name"`
	Arguments         datatypes.JSONMap   `gorm:"type:jsonb" json:"arguments"`
	LastRun           *time.Time          `json:"last_run"`
	LastError         string              `gorm:"type:text" json:"last_error,omitempty"`
	Due               time.Time           `gorm:"index:idx_scheduled_tasks_status_due,priority:2,where:deleted_at IS NULL" json:"due"`
	RecurringInterval *string             `gorm:"type:text" json:"recurring_interval"` // RFC 5545 RRULE
	Status            ScheduledTaskStatus `gorm:"type:varchar(20);index:idx_scheduled_tasks_status_due,priority:1,where:deleted_at IS NULL" json:"status"`
	TaskType          ScheduledTaskType   `gorm:"type:varchar(20);default:'onetime'" json:"task_type"`
	MaxAttempt        int                 `gorm:"default:3" json:"max_attempt"`
}

// NextDue returns the first occurrence of the RRULE strictly after now.
// The zero time is returned for one-time tasks or when the rule is exhausted or invalid.
func (t ScheduledTask) NextDue(now time.Time) time.Time {
	if t.TaskType != ScheduledTaskTypeRecurring || t.RecurringInterval == nil || *t.RecurringInterval == "" {
		return time.Time{}
	}

	rule, err := rrule.StrToRRule(*t.RecurringInterval)
	if err != nil {
		return time.Time{}
	}
	rule.DTStart(t.Due)
	return rule.After(now, false)
}

// Settle computes the column updates after a run finished with runErr
func (t ScheduledTask) Settle(now time.Time, runErr error) map[string]interface{} {
	updates := map[string]interface{}{
		"last_run":   now,
		"last_error": "",
	}

	if runErr != nil {
		updates["last_error"] = runErr.Error()
		updates["status"] = ScheduledTaskStatusFailure
		if t.TaskType == ScheduledTaskTypeOneTime {
			return updates
		}
	} else if t.TaskType == ScheduledTaskTypeOneTime {
		updates["status"] = ScheduledTaskStatusDone
		return updates
	}

	// Recurring tasks keep their cadence even after a failed run
	next := t.NextDue(now)
	if next.IsZero() {
		if runErr == nil {
			updates["status"] = ScheduledTaskStatusDone
		}
		return updates
	}
	updates["status"] = ScheduledTaskStatusActive
	updates["due"] = next
	return updates
}

// ScheduledTaskHistory tracks every attempt made for a scheduled task
type ScheduledTaskHistory struct {
	ID              uint      `gorm:"primarykey" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	ScheduledTaskID uint      `gorm:"index" json:"scheduled_task_id"`

	TaskName      string            `gorm:"type:varchar(100)" json:"task_name"`
	RunAt         time.Time         `json:"run_at"`
	RuntimeMs     int               `json:"runtime_ms"`
	Status        string            `gorm:"type:varchar(50)" json:"status"`
	AttemptNumber int               `json:"attempt_number"`
	Arguments     datatypes.JSONMap `gorm:"type:jsonb" json:"arguments"`
	Result        datatypes.JSONMap `gorm:"type:jsonb" json:"result"`
}
