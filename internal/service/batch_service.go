package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/assessment-stats-api/internal/models"
	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
	"github.com/noah-isme/assessment-stats-api/pkg/jobs"
)

const batchJobType = "batch_recalculation"

// Aggregator runs a single aggregation.
type Aggregator interface {
	Aggregate(ctx context.Context, req AggregationRequest) (*models.AggregationReport, *Run, error)
}

// BatchJobStatus is the lifecycle of a queued recalculation.
type BatchJobStatus string

const (
	BatchJobQueued    BatchJobStatus = "QUEUED"
	BatchJobRunning   BatchJobStatus = "RUNNING"
	BatchJobCompleted BatchJobStatus = "COMPLETED"
	BatchJobFailed    BatchJobStatus = "FAILED"
)

// BatchFailure is one failed run of a recalculation.
type BatchFailure struct {
	Level    models.AggregationLevel `json:"level"`
	SchoolID string                  `json:"school_id,omitempty"`
	Error    string                  `json:"error"`
}

// BatchSummary reports the outcome of recalculating a whole batch.
type BatchSummary struct {
	BatchCode string         `json:"batch_code"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Failures  []BatchFailure `json:"failures,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
}

// BatchJob is the tracked state of a queued recalculation.
type BatchJob struct {
	ID         string         `json:"id"`
	BatchCode  string         `json:"batch_code"`
	Status     BatchJobStatus `json:"status"`
	Summary    *BatchSummary  `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// BatchServiceConfig sizes the recalculation workers.
type BatchServiceConfig struct {
	Concurrency int
	QueueSize   int
	MaxRetries  int
}

// BatchService recalculates every aggregation of a batch, either inline or
// through its job queue.
type BatchService struct {
	aggregator Aggregator
	reader     ScoreReader
	queue      *jobs.Queue
	logger     *zap.Logger
	cfg        BatchServiceConfig

	mu      sync.RWMutex
	batches map[string]*BatchJob
}

// NewBatchService builds the service and its queue. Call Start before
// enqueueing.
func NewBatchService(aggregator Aggregator, reader ScoreReader, logger *zap.Logger, cfg BatchServiceConfig) *BatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	s := &BatchService{
		aggregator: aggregator,
		reader:     reader,
		logger:     logger,
		cfg:        cfg,
		batches:    make(map[string]*BatchJob),
	}
	s.queue = jobs.NewQueue("batch-recalculation", s.handleJob, jobs.QueueConfig{
		Workers:    1,
		BufferSize: cfg.QueueSize,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the queue workers.
func (s *BatchService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *BatchService) Stop() {
	s.queue.Stop()
}

// RecalculateBatch runs the REGIONAL aggregation and one SCHOOL aggregation
// per school of the batch with bounded parallelism. Each run is an
// independent upsert, so one failure does not stop the others.
func (s *BatchService) RecalculateBatch(ctx context.Context, batchCode string) (*BatchSummary, error) {
	if batchCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch_code is required")
	}
	exists, err := s.reader.BatchExists(ctx, batchCode)
	if err != nil {
		return nil, persistenceError(err, "failed to check batch")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown batch_code %s", batchCode))
	}
	schools, err := s.reader.ListSchools(ctx, batchCode)
	if err != nil {
		return nil, persistenceError(err, "failed to list schools")
	}

	requests := make([]AggregationRequest, 0, len(schools)+1)
	requests = append(requests, AggregationRequest{BatchCode: batchCode})
	for _, school := range schools {
		requests = append(requests, AggregationRequest{BatchCode: batchCode, SchoolID: school.SchoolID})
	}

	start := time.Now()
	summary := &BatchSummary{BatchCode: batchCode, Total: len(requests)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, req := range requests {
		req := req
		g.Go(func() error {
			_, _, err := s.aggregator.Aggregate(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				key := req.Key()
				summary.Failures = append(summary.Failures, BatchFailure{Level: key.Level, SchoolID: key.SchoolID, Error: err.Error()})
				return nil
			}
			summary.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(summary.Failures, func(i, j int) bool {
		if summary.Failures[i].Level != summary.Failures[j].Level {
			return summary.Failures[i].Level == models.AggregationLevelRegional
		}
		return summary.Failures[i].SchoolID < summary.Failures[j].SchoolID
	})
	summary.Failed = len(summary.Failures)
	summary.Duration = time.Since(start)

	s.logger.Info("batch recalculated",
		zap.String("batch_code", batchCode),
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// Enqueue schedules a recalculation and returns the tracked job.
func (s *BatchService) Enqueue(batchCode string) (*BatchJob, error) {
	if batchCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch_code is required")
	}
	job := &BatchJob{
		ID:         uuid.NewString(),
		BatchCode:  batchCode,
		Status:     BatchJobQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.batches[job.ID] = job
	s.mu.Unlock()

	if err := s.queue.TryEnqueue(jobs.Job{ID: job.ID, Type: batchJobType, Payload: batchCode}); err != nil {
		s.mu.Lock()
		delete(s.batches, job.ID)
		s.mu.Unlock()
		return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "recalculation queue unavailable")
	}
	return s.Job(job.ID)
}

// Job returns a copy of a tracked job.
func (s *BatchService) Job(id string) (*BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.batches[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "batch job not found")
	}
	clone := *job
	return &clone, nil
}

func (s *BatchService) handleJob(ctx context.Context, job jobs.Job) error {
	batchCode, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	s.update(job.ID, func(j *BatchJob) { j.Status = BatchJobRunning })

	summary, err := s.RecalculateBatch(ctx, batchCode)
	finished := time.Now().UTC()
	s.update(job.ID, func(j *BatchJob) {
		j.FinishedAt = &finished
		j.Summary = summary
		if err != nil {
			j.Status = BatchJobFailed
			j.Error = err.Error()
			return
		}
		j.Status = BatchJobCompleted
		if summary.Failed > 0 {
			j.Status = BatchJobFailed
			j.Error = fmt.Sprintf("%d of %d aggregations failed", summary.Failed, summary.Total)
		}
	})
	return err
}

func (s *BatchService) update(id string, fn func(*BatchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.batches[id]; ok {
		fn(job)
	}
}
