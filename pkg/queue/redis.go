// Package queue provides the Redis-backed job queue shared by the API and the workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/metrics"
	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix       = "aflow"
	DefaultConcurrency  = 4
	DefaultPollInterval = time.Second
	DefaultBlockTimeout = time.Second
	DefaultLeaseTTL     = 30 * time.Second
)

var (
	// ErrRepeatableNotFound is returned when no repeatable job is registered under a key.
	ErrRepeatableNotFound = errors.New("repeatable job not found")
	// ErrJobNotInFlight is returned when a job is not held by this consumer.
	ErrJobNotInFlight = errors.New("job is not in flight")
)

// Handler processes one dequeued job.
type Handler func(ctx context.Context, job *models.Job) error

// RedisQueue keeps ready jobs in a list, delayed jobs in a sorted set scored by
// due time and repeatable jobs in a hash keyed by their stable key.
//
// A dequeued job moves to the consumer's processing list and leaves it only
// once its handler returned. Every consumer holds a lease it renews on each
// promoter tick; the jobs of a consumer whose lease expired are moved back to
// the ready list by the surviving consumers, so delivery is at least once.
type RedisQueue struct {
	client redis.UniversalClient
	logger *slog.Logger

	prefix     string
	consumerID string
	waitKey    string
	delayedKey string
	repeatKey  string

	leaseTTL     time.Duration
	concurrency  int
	pollInterval time.Duration
	blockTimeout time.Duration
	now          func() time.Time
	enqueued     *prometheus.CounterVec
}

type Option func(*RedisQueue)

func WithPrefix(prefix string) Option {
	return func(q *RedisQueue) {
		q.prefix = prefix
		q.waitKey = prefix + ":wait"
		q.delayedKey = prefix + ":delayed"
		q.repeatKey = prefix + ":repeat"
	}
}

// WithConsumerID names the consumer owning this queue's in-flight jobs. A
// restarted consumer with the same ID takes its leftover jobs back.
func WithConsumerID(id string) Option {
	return func(q *RedisQueue) {
		if id != "" {
			q.consumerID = id
		}
	}
}

// WithLeaseTTL sets how long a consumer is considered alive after its last renewal.
func WithLeaseTTL(d time.Duration) Option {
	return func(q *RedisQueue) {
		if d > 0 {
			q.leaseTTL = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(q *RedisQueue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(q *RedisQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func WithBlockTimeout(d time.Duration) Option {
	return func(q *RedisQueue) {
		if d > 0 {
			q.blockTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *RedisQueue) {
		q.now = now
	}
}

// WithMetrics counts enqueued jobs by name.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *RedisQueue) {
		q.enqueued = m.JobsEnqueued
	}
}

func NewRedisQueue(logger *slog.Logger, client redis.UniversalClient, opts ...Option) *RedisQueue {
	q := &RedisQueue{
		client:       client,
		logger:       logger.With("module", "redis_queue"),
		concurrency:  DefaultConcurrency,
		pollInterval: DefaultPollInterval,
		blockTimeout: DefaultBlockTimeout,
		leaseTTL:     DefaultLeaseTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}

	WithPrefix(DefaultPrefix)(q)

	for _, opt := range opts {
		opt(q)
	}

	if q.consumerID == "" {
		q.consumerID = uuid.NewString()
	}

	q.logger = q.logger.With("consumer_id", q.consumerID)

	return q
}

func (q *RedisQueue) consumersKey() string {
	return q.prefix + ":consumers"
}

func (q *RedisQueue) leaseKey(consumerID string) string {
	return q.prefix + ":lease:" + consumerID
}

func (q *RedisQueue) processingKey(consumerID string) string {
	return q.prefix + ":processing:" + consumerID
}

// Connect opens a client from a redis:// URL and verifies it answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Enqueue makes the job ready immediately, or after delay when it is positive.
func (q *RedisQueue) Enqueue(ctx context.Context, job *models.Job, delay time.Duration) error {
	err := q.stamp(job)
	if err != nil {
		return err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	if delay <= 0 {
		err = q.client.RPush(ctx, q.waitKey, data).Err()
	} else {
		due := q.now().Add(delay)
		err = q.client.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due.UnixMilli()), Member: data}).Err()
	}

	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	if q.enqueued != nil {
		q.enqueued.WithLabelValues(string(job.Name)).Inc()
	}

	q.logger.DebugContext(ctx, "Job enqueued", "job_id", job.ID, "name", job.Name, "workflow_id", job.WorkflowID, "delay", delay)

	return nil
}

// UpsertRepeatable registers job to fire on pattern under key, replacing any
// previous registration with the same key.
func (q *RedisQueue) UpsertRepeatable(ctx context.Context, key, pattern string, job models.Job) error {
	next, err := models.NextRun(pattern, q.now())
	if err != nil {
		return fmt.Errorf("failed to register repeatable job %s: %w", key, err)
	}

	data, err := json.Marshal(models.RepeatableJob{Key: key, Pattern: pattern, Job: job, NextRunAt: next})
	if err != nil {
		return fmt.Errorf("failed to marshal repeatable job %s: %w", key, err)
	}

	err = q.client.HSet(ctx, q.repeatKey, key, data).Err()
	if err != nil {
		return fmt.Errorf("failed to register repeatable job %s: %w", key, err)
	}

	return nil
}

// Repeatables lists registered repeatable jobs ordered by key.
func (q *RedisQueue) Repeatables(ctx context.Context) ([]*models.RepeatableJob, error) {
	entries, err := q.client.HGetAll(ctx, q.repeatKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list repeatable jobs: %w", err)
	}

	repeatables, broken := decodeRepeatables(entries)
	for key, err := range broken {
		q.logger.WarnContext(ctx, "Skipping undecodable repeatable job", "key", key, "error", err)
	}

	return repeatables, nil
}

func (q *RedisQueue) GetRepeatable(ctx context.Context, key string) (*models.RepeatableJob, error) {
	data, err := q.client.HGet(ctx, q.repeatKey, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrRepeatableNotFound, key)
		}

		return nil, fmt.Errorf("failed to get repeatable job %s: %w", key, err)
	}

	var repeatable models.RepeatableJob

	err = json.Unmarshal([]byte(data), &repeatable)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal repeatable job %s: %w", key, err)
	}

	return &repeatable, nil
}

// RemoveRepeatable deletes the registration and reports whether one existed.
func (q *RedisQueue) RemoveRepeatable(ctx context.Context, key string) (bool, error) {
	removed, err := q.client.HDel(ctx, q.repeatKey, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove repeatable job %s: %w", key, err)
	}

	return removed > 0, nil
}

// Promote moves delayed jobs that are due into the ready list and fires every
// repeatable job whose next run is not after now. Both moves run in WATCH
// transactions, so concurrent promoters never fire the same occurrence twice.
// It returns the number of jobs made ready.
func (q *RedisQueue) Promote(ctx context.Context, now time.Time) (int, error) {
	delayed, err := q.promoteDelayed(ctx, now)
	if err != nil {
		return delayed, err
	}

	repeated, err := q.fireRepeatables(ctx, now)

	return delayed + repeated, err
}

func (q *RedisQueue) promoteDelayed(ctx context.Context, now time.Time) (int, error) {
	moved := 0

	err := q.client.Watch(ctx, func(tx *redis.Tx) error {
		members, err := tx.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(now.UnixMilli(), 10),
		}).Result()
		if err != nil {
			return err
		}

		if len(members) == 0 {
			return nil
		}

		values := make([]any, len(members))
		for i, member := range members {
			values[i] = member
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, q.delayedKey, values...)
			pipe.RPush(ctx, q.waitKey, values...)

			return nil
		})
		if err != nil {
			return err
		}

		moved = len(members)

		return nil
	}, q.delayedKey)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}

	return moved, nil
}

func (q *RedisQueue) fireRepeatables(ctx context.Context, now time.Time) (int, error) {
	fired := 0

	err := q.client.Watch(ctx, func(tx *redis.Tx) error {
		entries, err := tx.HGetAll(ctx, q.repeatKey).Result()
		if err != nil {
			return err
		}

		repeatables, broken := decodeRepeatables(entries)

		updates := make([]any, 0)
		jobs := make([]any, 0)
		drop := make([]string, 0, len(broken))

		for key, err := range broken {
			q.logger.WarnContext(ctx, "Dropping undecodable repeatable job", "key", key, "error", err)
			drop = append(drop, key)
		}

		for _, repeatable := range repeatables {
			if repeatable.NextRunAt.After(now) {
				continue
			}

			job := repeatable.Job
			job.ID = ""
			job.EnqueuedAt = time.Time{}

			err := q.stamp(&job)
			if err != nil {
				return err
			}

			jobData, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("failed to marshal job for %s: %w", repeatable.Key, err)
			}

			// Missed occurrences collapse into this single firing.
			next, err := models.NextRun(repeatable.Pattern, now)
			if err != nil {
				q.logger.WarnContext(ctx, "Dropping repeatable job with invalid pattern", "key", repeatable.Key, "error", err)
				drop = append(drop, repeatable.Key)

				continue
			}

			repeatable.NextRunAt = next

			repeatData, err := json.Marshal(repeatable)
			if err != nil {
				return fmt.Errorf("failed to marshal repeatable job %s: %w", repeatable.Key, err)
			}

			updates = append(updates, repeatable.Key, repeatData)
			jobs = append(jobs, jobData)
		}

		if len(jobs) == 0 && len(drop) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(drop) > 0 {
				pipe.HDel(ctx, q.repeatKey, drop...)
			}

			if len(jobs) > 0 {
				pipe.HSet(ctx, q.repeatKey, updates...)
				pipe.RPush(ctx, q.waitKey, jobs...)
			}

			return nil
		})
		if err != nil {
			return err
		}

		fired = len(jobs)

		return nil
	}, q.repeatKey)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to fire repeatable jobs: %w", err)
	}

	return fired, nil
}

// Dequeue blocks up to timeout for a ready job and moves it to this
// consumer's processing list, where it stays until Ack. It returns nil, nil
// when none arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	processing := q.processingKey(q.consumerID)

	data, err := q.client.BLMove(ctx, q.waitKey, processing, "LEFT", "RIGHT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to pop job from queue: %w", err)
	}

	var job models.Job

	err = json.Unmarshal([]byte(data), &job)
	if err != nil {
		_ = q.client.LRem(ctx, processing, 1, data).Err()

		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// Ack releases a job taken by Dequeue once it has been handled.
func (q *RedisQueue) Ack(ctx context.Context, job *models.Job) error {
	data, err := q.inFlight(ctx, job.ID)
	if err != nil {
		return err
	}

	err = q.client.LRem(ctx, q.processingKey(q.consumerID), 1, data).Err()
	if err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}

	return nil
}

// UpdateInFlight replaces the in-flight copy of a job with job, matched by ID.
// A job taken back from a dead consumer is redelivered as last updated.
func (q *RedisQueue) UpdateInFlight(ctx context.Context, job *models.Job) error {
	previous, err := q.inFlight(ctx, job.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	processing := q.processingKey(q.consumerID)

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processing, 1, previous)
		pipe.RPush(ctx, processing, data)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update in-flight job %s: %w", job.ID, err)
	}

	return nil
}

func (q *RedisQueue) inFlight(ctx context.Context, jobID string) (string, error) {
	entries, err := q.client.LRange(ctx, q.processingKey(q.consumerID), 0, -1).Result()
	if err != nil {
		return "", fmt.Errorf("failed to list in-flight jobs: %w", err)
	}

	for _, entry := range entries {
		var ref struct {
			ID string `json:"id"`
		}

		if json.Unmarshal([]byte(entry), &ref) == nil && ref.ID == jobID {
			return entry, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrJobNotInFlight, jobID)
}

// Heartbeat renews this consumer's lease and registers it for reaping.
func (q *RedisQueue) Heartbeat(ctx context.Context) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.leaseKey(q.consumerID), q.now().Format(time.RFC3339Nano), q.leaseTTL)
		pipe.SAdd(ctx, q.consumersKey(), q.consumerID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to renew consumer lease: %w", err)
	}

	return nil
}

// Reap moves the in-flight jobs of every consumer whose lease expired back to
// the ready list and forgets the consumer. It returns the number of jobs moved.
func (q *RedisQueue) Reap(ctx context.Context) (int, error) {
	consumers, err := q.client.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list consumers: %w", err)
	}

	requeued := 0

	for _, consumer := range consumers {
		if consumer == q.consumerID {
			continue
		}

		alive, err := q.client.Exists(ctx, q.leaseKey(consumer)).Result()
		if err != nil {
			return requeued, fmt.Errorf("failed to check consumer %s: %w", consumer, err)
		}

		if alive > 0 {
			continue
		}

		moved, err := q.requeue(ctx, consumer)
		requeued += moved

		if err != nil {
			return requeued, err
		}

		err = q.client.SRem(ctx, q.consumersKey(), consumer).Err()
		if err != nil {
			return requeued, fmt.Errorf("failed to forget consumer %s: %w", consumer, err)
		}

		if moved > 0 {
			q.logger.WarnContext(ctx, "Requeued jobs of expired consumer", "expired_consumer", consumer, "count", moved)
		}
	}

	return requeued, nil
}

// requeue moves every entry of a consumer's processing list to the ready list.
// Each move is atomic, so concurrent reapers never duplicate an entry.
func (q *RedisQueue) requeue(ctx context.Context, consumerID string) (int, error) {
	moved := 0

	for {
		err := q.client.LMove(ctx, q.processingKey(consumerID), q.waitKey, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}

		if err != nil {
			return moved, fmt.Errorf("failed to requeue jobs of consumer %s: %w", consumerID, err)
		}

		moved++
	}
}

// Run starts the promoter and the consumer pool and blocks until ctx is done.
// Jobs left in flight by an earlier run of the same consumer are made ready
// first. Handler errors and panics are logged and the job is acknowledged;
// only a consumer that dies mid-job gets its job redelivered.
func (q *RedisQueue) Run(ctx context.Context, handler Handler) error {
	err := q.Heartbeat(ctx)
	if err != nil {
		return err
	}

	recovered, err := q.requeue(ctx, q.consumerID)
	if err != nil {
		return err
	}

	if recovered > 0 {
		q.logger.WarnContext(ctx, "Requeued jobs left in flight by a previous run", "count", recovered)
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		q.promote(ctx)
	}()

	for worker := range q.concurrency {
		wg.Add(1)

		go func() {
			defer wg.Done()
			q.consume(ctx, worker, handler)
		}()
	}

	q.logger.InfoContext(ctx, "Job queue started", "concurrency", q.concurrency)

	wg.Wait()

	q.release(context.WithoutCancel(ctx))

	q.logger.InfoContext(ctx, "Job queue stopped")

	return nil
}

// release gives up the lease of a consumer that stopped with nothing in flight.
func (q *RedisQueue) release(ctx context.Context) {
	pending, err := q.client.LLen(ctx, q.processingKey(q.consumerID)).Result()
	if err != nil || pending > 0 {
		return
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, q.leaseKey(q.consumerID))
		pipe.SRem(ctx, q.consumersKey(), q.consumerID)

		return nil
	})
	if err != nil {
		q.logger.WarnContext(ctx, "Failed to release consumer lease", "error", err)
	}
}

func (q *RedisQueue) promote(ctx context.Context) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := q.Heartbeat(ctx)
			if err != nil && ctx.Err() == nil {
				q.logger.ErrorContext(ctx, "Error renewing consumer lease", "error", err)
			}

			_, err = q.Reap(ctx)
			if err != nil && ctx.Err() == nil {
				q.logger.ErrorContext(ctx, "Error reaping expired consumers", "error", err)
			}

			moved, err := q.Promote(ctx, q.now())
			if err != nil {
				if ctx.Err() == nil {
					q.logger.ErrorContext(ctx, "Error promoting jobs", "error", err)
				}

				continue
			}

			if moved > 0 {
				q.logger.DebugContext(ctx, "Promoted jobs", "count", moved)
			}
		}
	}
}

func (q *RedisQueue) consume(ctx context.Context, worker int, handler Handler) {
	logger := q.logger.With("consumer", worker)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := q.Dequeue(ctx, q.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			logger.ErrorContext(ctx, "Error dequeuing job", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}

			continue
		}

		if job == nil {
			continue
		}

		q.handle(ctx, logger, handler, job)
	}
}

func (q *RedisQueue) handle(ctx context.Context, logger *slog.Logger, handler Handler, job *models.Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Job handler panicked", "job_id", job.ID, "panic", r)
		}
	}()

	defer func() {
		err := q.Ack(context.WithoutCancel(ctx), job)
		if err != nil {
			logger.ErrorContext(ctx, "Error acknowledging job", "job_id", job.ID, "error", err)
		}
	}()

	err := handler(ctx, job)
	if err != nil {
		logger.ErrorContext(ctx, "Error processing job", "job_id", job.ID, "name", job.Name, "workflow_id", job.WorkflowID, "error", err)
	}
}

func (q *RedisQueue) stamp(job *models.Job) error {
	if job.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate job ID: %w", err)
		}

		job.ID = id.String()
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}

	return nil
}

// decodeRepeatables returns the decodable entries ordered by key and the
// decoding error of every other entry.
func decodeRepeatables(entries map[string]string) ([]*models.RepeatableJob, map[string]error) {
	repeatables := make([]*models.RepeatableJob, 0, len(entries))
	broken := make(map[string]error)

	for key, data := range entries {
		var repeatable models.RepeatableJob

		err := json.Unmarshal([]byte(data), &repeatable)
		if err != nil {
			broken[key] = fmt.Errorf("failed to unmarshal repeatable job %s: %w", key, err)

			continue
		}

		repeatables = append(repeatables, &repeatable)
	}

	sort.Slice(repeatables, func(i, j int) bool {
		return repeatables[i].Key < repeatables[j].Key
	})

	return repeatables, broken
}
