package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"docconvert/config"
	"docconvert/logger"
	"docconvert/models"

	"github.com/redis/go-redis/v9"
)

const (
	staleJobAge = 5 * time.Minute
	// busyRetryDelay is how long a start job for a locked record waits
	// before it goes back on the pending queue.
	busyRetryDelay = 30 * time.Second
)

type recordStore interface {
	GetConversion(ctx context.Context, id int64) (*models.ConversionRecord, error)
	PendingConversions(ctx context.Context, converter string) ([]*models.ConversionRecord, error)
}

type lifecycle interface {
	Start(ctx context.Context, rec *models.ConversionRecord) error
	Poll(ctx context.Context, rec *models.ConversionRecord) error
}

type Pool struct {
	config      *config.Config
	redisClient redis.Cmdable
	records     recordStore
	manager     lifecycle
	locks       *RecordLocks
	retryDelay  time.Duration
}

func NewPool(cfg *config.Config, redisClient redis.Cmdable, records recordStore, manager lifecycle) *Pool {
	return &Pool{
		config:      cfg,
		redisClient: redisClient,
		records:     records,
		manager:     manager,
		locks:       NewRecordLocks(redisClient, cfg.LockPrefix, cfg.LockTimeout()),
		retryDelay:  busyRetryDelay,
	}
}

// StartWorker consumes start requests the host pushes on the pending queue.
func (p *Pool) StartWorker(ctx context.Context, workerID int) {
	ctx = logger.WithWorker(ctx, workerID)
	log := logger.WithContext(ctx)
	log.Info("starting worker")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		default:
			// Atomic pop from pending and push to processing
			result, err := p.redisClient.BRPopLPush(
				ctx,
				p.config.PendingQueue,
				p.config.ProcessingQueue,
				30*time.Second,
			).Result()

			if err == redis.Nil {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Error("redis error", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}

			var job models.ConversionJob
			if err := json.Unmarshal([]byte(result), &job); err != nil {
				log.Warn("dropping malformed job", "error", err)
				p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, result)
				continue
			}

			p.processJob(ctx, &job, result)
		}
	}
}

func (p *Pool) processJob(ctx context.Context, job *models.ConversionJob, jobJSON string) {
	ctx = logger.WithConversion(ctx, job.ConversionID)
	log := logger.WithContext(ctx)

	held, release, ok, err := p.locks.Hold(ctx, job.ConversionID)
	if err != nil || !ok {
		// Someone else holds the record. Take the job off the processing
		// queue now and put it back after a delay, so the workers do not
		// spin on it while the holder is busy.
		log.Info("conversion busy, retrying start later", "delay", p.retryDelay, "error", err)
		p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)
		time.AfterFunc(p.retryDelay, func() {
			if err := p.redisClient.LPush(context.Background(), p.config.PendingQueue, jobJSON).Err(); err != nil {
				logger.WithContext(ctx).Error("failed to requeue start job", "error", err)
			}
		})
		return
	}
	defer release()
	defer p.redisClient.LRem(context.Background(), p.config.ProcessingQueue, 1, jobJSON)

	rec, err := p.records.GetConversion(held, job.ConversionID)
	if err != nil {
		log.Error("failed to load conversion", "error", err)
		return
	}

	err = p.manager.Start(held, rec)
	switch {
	case errors.Is(err, models.ErrNotPending):
		log.Info("conversion already started", "status", rec.Status)
	case err != nil:
		log.Error("failed to start conversion", "error", err)
	default:
		log.Info("conversion started", "status", rec.Status)
	}
}

// PollLoop is the scheduled poll driver: every interval it polls all
// conversions that have not settled yet.
func (p *Pool) PollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollEvery())
	defer ticker.Stop()

	logger.WithContext(ctx).Info("starting poll loop", "interval", p.config.PollEvery())

	p.PollPending(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.WithContext(ctx).Info("poll loop shutting down")
			return
		case <-ticker.C:
			p.PollPending(ctx)
		}
	}
}

// PollPending polls every unsettled conversion with at most WorkerCount in
// flight. A failing record never stops the others.
func (p *Pool) PollPending(ctx context.Context) {
	records, err := p.records.PendingConversions(ctx, p.config.ConverterName)
	if err != nil {
		logger.WithContext(ctx).Error("failed to list pending conversions", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	logger.WithContext(ctx).Info("processing pending conversions", "count", len(records))

	workers := p.config.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			p.pollOne(ctx, id)
		}(rec.ID)
	}
	wg.Wait()
}

func (p *Pool) pollOne(ctx context.Context, id int64) {
	ctx = logger.WithConversion(ctx, id)
	log := logger.WithContext(ctx)

	held, release, ok, err := p.locks.Hold(ctx, id)
	if err != nil {
		log.Error("failed to lock conversion", "error", err)
		return
	}
	if !ok {
		log.Debug("conversion busy, skipping this round")
		return
	}
	defer release()

	// Reload under the lock; the listing may be stale by now.
	rec, err := p.records.GetConversion(held, id)
	if err != nil {
		log.Error("failed to load conversion", "error", err)
		return
	}
	if err := p.manager.Poll(held, rec); err != nil {
		log.Error("failed to poll conversion", "error", err)
		return
	}
	log.Debug("conversion polled", "status", rec.Status)
}

func (p *Pool) RecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(staleJobAge)
	defer ticker.Stop()

	logger.WithContext(ctx).Info("starting stale job recovery loop")

	for {
		select {
		case <-ctx.Done():
			logger.WithContext(ctx).Info("recovery loop shutting down")
			return
		case <-ticker.C:
			p.recoverStaleJobs(ctx)
		}
	}
}

// recoverStaleJobs puts start jobs abandoned in the processing queue back
// on the pending queue. Start ignores records that already left pending, so
// a job that did run is harmless when replayed.
func (p *Pool) recoverStaleJobs(ctx context.Context) {
	jobs, err := p.redisClient.LRange(ctx, p.config.ProcessingQueue, 0, -1).Result()
	if err != nil {
		logger.WithContext(ctx).Error("failed to get processing queue", "error", err)
		return
	}

	recovered := 0
	for _, jobJSON := range jobs {
		var job models.ConversionJob
		if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
			p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)
			continue
		}
		if time.Since(job.EnqueuedAt) <= staleJobAge {
			continue
		}

		job.EnqueuedAt = time.Now()
		requeued, _ := json.Marshal(job)
		p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)
		p.redisClient.LPush(ctx, p.config.PendingQueue, requeued)
		recovered++
	}

	if recovered > 0 {
		logger.WithContext(ctx).Info("recovered stale jobs", "count", recovered)
	}
}
