package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// JobName identifies what a worker does with a queued job.
type JobName string

const (
	JobNameExecute JobName = "execute"
	JobNameResume  JobName = "resume"
)

// Job is a unit of work on the job queue.
type Job struct {
	ID          string         `json:"id"`
	Name        JobName        `json:"name"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// RepeatableJob is a job template fired on a cron pattern under a stable key.
type RepeatableJob struct {
	Key       string    `json:"key"`
	Pattern   string    `json:"pattern"`
	Job       Job       `json:"job"`
	NextRunAt time.Time `json:"next_run_at"`
}

// ErrInvalidCronPattern is returned when a repeatable pattern cannot be parsed.
var ErrInvalidCronPattern = errors.New("invalid cron pattern")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun computes the first firing of pattern strictly after from.
func NextRun(pattern string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(pattern)
	if err != nil {
		return time.Time{}, errors.Join(ErrInvalidCronPattern, err)
	}

	return schedule.Next(from), nil
}
