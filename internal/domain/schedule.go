package domain

import "time"

// ScheduleStatus enumerates the states of a scheduled deployment trigger.
type ScheduleStatus string

const (
	SchedulePending    ScheduleStatus = "pending"
	ScheduleQueued     ScheduleStatus = "queued"
	ScheduleProcessing ScheduleStatus = "processing"
	ScheduleCompleted  ScheduleStatus = "completed"
	ScheduleFailed     ScheduleStatus = "failed"
	ScheduleCancelled  ScheduleStatus = "cancelled"
)

// RecurrencePattern is the cadence by which a completed recurring schedule
// re-arms itself.
type RecurrencePattern string

const (
	RecurDaily   RecurrencePattern = "daily"
	RecurWeekly  RecurrencePattern = "weekly"
	RecurMonthly RecurrencePattern = "monthly"
)

// ScheduledDeployment is a future or recurring deployment trigger.
// QueueJobID is non-empty only while status is queued; the dispatcher and the
// worker contend on that pair, so transitions touching it must be atomic.
type ScheduledDeployment struct {
	ID                string
	ProjectID         string
	EnvironmentID     string
	UserID            string
	ScheduledAt       time.Time
	Status            ScheduleStatus
	QueueJobID        string
	IsRecurring       bool
	RecurrencePattern RecurrencePattern
	LastRunAt         *time.Time
	NextRunAt         *time.Time
	Description       string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ScheduleRunUpdate records the outcome of one schedule firing.
type ScheduleRunUpdate struct {
	ScheduleID  string
	Status      ScheduleStatus
	LastRunAt   time.Time
	NextRunAt   *time.Time
	ScheduledAt *time.Time
}
