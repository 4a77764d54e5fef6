package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/bugreport-api/pkg/config"
	"github.com/noah-isme/bugreport-api/pkg/jobs"
	"github.com/noah-isme/bugreport-api/pkg/storage"
)

const blobDeleteQueue = "blob.delete"

type blobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// BlobJanitor deletes attachment blobs after their rows are gone. Failed
// deletions are retried on a background queue; a missing blob counts as deleted.
type BlobJanitor struct {
	store   blobDeleter
	queue   *jobs.Queue[string]
	metrics *MetricsService
	logger  *zap.Logger
}

// NewBlobJanitor wires the janitor and its retry queue. Call Start before use.
func NewBlobJanitor(store blobDeleter, cfg config.JobsConfig, metrics *MetricsService, logger *zap.Logger) *BlobJanitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &BlobJanitor{store: store, metrics: metrics, logger: logger}
	j.queue = jobs.NewQueue[string](blobDeleteQueue, j.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	j.queue.OnDeadLetter(func(job jobs.Job[string], err error) {
		metrics.RecordBlobAbandoned()
		logger.Error("blob left behind", zap.String("path", job.Payload), zap.Error(err))
	})
	return j
}

// Start launches the retry workers.
func (j *BlobJanitor) Start(ctx context.Context) {
	j.queue.Start(ctx)
}

// Stop halts the retry workers.
func (j *BlobJanitor) Stop() {
	j.queue.Stop()
}

// Pending reports queued retries.
func (j *BlobJanitor) Pending() int {
	return j.queue.Pending()
}

// Remove deletes each path now and schedules failures for retry.
func (j *BlobJanitor) Remove(ctx context.Context, paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		err := j.delete(ctx, path)
		if err == nil {
			continue
		}
		j.logger.Warn("blob delete failed, scheduling retry", zap.String("path", path), zap.Error(err))
		j.metrics.RecordBlobRetry()
		if qerr := j.queue.Enqueue(jobs.Job[string]{ID: path, Payload: path, Attempt: 1}); qerr != nil {
			j.logger.Error("blob retry not scheduled", zap.String("path", path), zap.Error(qerr))
		}
	}
}

func (j *BlobJanitor) handle(ctx context.Context, job jobs.Job[string]) error {
	return j.delete(ctx, job.Payload)
}

func (j *BlobJanitor) delete(ctx context.Context, path string) error {
	err := j.store.Delete(ctx, path)
	if err == nil || errors.Is(err, storage.ErrObjectNotFound) {
		return nil
	}
	return err
}
