package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/digkill/msai-studio/internal/alert"
	"github.com/digkill/msai-studio/internal/models"
	"github.com/digkill/msai-studio/internal/repository"
	"github.com/digkill/msai-studio/internal/storage"
)

var errDownloadTooLarge = errors.New("download exceeds size limit")

// ObjectStore persists archived outputs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	UserKey(userID, kind, contentType string) string
}

type ArchiveConfig struct {
	MaxAttempts int
	Workers     int
	MaxBytes    int64
	BatchSize   int
	StaleAfter  time.Duration
}

// ArchiveService copies workflow outputs into the owner's storage folder in
// the background. Jobs move pending -> running -> done, or back to pending
// on failure until MaxAttempts is reached.
type ArchiveService struct {
	cfg    ArchiveConfig
	jobs   *repository.ArchiveRepository
	store  ObjectStore
	client *http.Client
	alerts alert.Notifier
	log    zerolog.Logger
	wake   chan struct{}
	sem    chan struct{}
}

func NewArchiveService(cfg ArchiveConfig, jobs *repository.ArchiveRepository, store ObjectStore, alerts alert.Notifier, log zerolog.Logger) *ArchiveService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 200 << 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	return &ArchiveService{
		cfg:    cfg,
		jobs:   jobs,
		store:  store,
		client: &http.Client{Timeout: 2 * time.Minute},
		alerts: alerts,
		log:    log,
		wake:   make(chan struct{}, 1),
		sem:    make(chan struct{}, cfg.Workers),
	}
}

// Enqueue records one pending job per URL and nudges the worker.
func (s *ArchiveService) Enqueue(ctx context.Context, userID string, generationID int64, urls []string) (int, error) {
	queued := 0
	for _, u := range urls {
		job := &models.ArchiveJob{UserID: userID, GenerationID: generationID, SourceURL: u}
		if err := s.jobs.Create(ctx, job); err != nil {
			return queued, fmt.Errorf("queue archive job: %w", err)
		}
		queued++
	}
	if queued > 0 {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return queued, nil
}

// Start processes newly queued jobs until ctx is done.
func (s *ArchiveService) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				if _, err := s.ProcessPending(ctx, s.cfg.BatchSize); err != nil {
					s.log.Error().Err(err).Msg("process archive jobs")
				}
			}
		}
	}()
}

// Sweep returns abandoned running jobs to the queue and processes a batch.
func (s *ArchiveService) Sweep(ctx context.Context) error {
	released, err := s.jobs.ReleaseStale(ctx, time.Now().Add(-s.cfg.StaleAfter))
	if err != nil {
		return err
	}
	if released > 0 {
		s.log.Warn().Int64("released", released).Msg("released stale archive jobs")
	}
	_, err = s.ProcessPending(ctx, s.cfg.BatchSize)
	return err
}

// ProcessPending runs up to limit pending jobs with bounded concurrency and
// returns how many this call completed.
func (s *ArchiveService) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.jobs.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for _, job := range pending {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return done, ctx.Err()
		}
		wg.Add(1)
		go func(job models.ArchiveJob) {
			defer wg.Done()
			defer func() { <-s.sem }()
			if s.processJob(ctx, job) {
				mu.Lock()
				done++
				mu.Unlock()
			}
		}(job)
	}
	wg.Wait()
	return done, nil
}

func (s *ArchiveService) processJob(ctx context.Context, job models.ArchiveJob) bool {
	claimed, err := s.jobs.Claim(ctx, job.ID)
	if err != nil {
		s.log.Error().Err(err).Int64("job_id", job.ID).Msg("claim archive job")
		return false
	}
	if !claimed {
		return false
	}

	logger := s.log.With().Int64("job_id", job.ID).Str("user_id", job.UserID).Logger()

	storedURL, err := s.copy(ctx, job)
	if err != nil {
		status, markErr := s.jobs.MarkAttemptFailed(ctx, job.ID, err.Error(), s.cfg.MaxAttempts)
		if markErr != nil {
			logger.Error().Err(markErr).Msg("record archive failure")
			return false
		}
		logger.Warn().Err(err).Str("status", string(status)).Msg("archive attempt failed")
		if status == models.ArchiveFailed {
			s.alerts.Alert(ctx, fmt.Sprintf("archive job %d for user %s gave up: %v", job.ID, job.UserID, err))
		}
		return false
	}

	if err := s.jobs.MarkDone(ctx, job.ID, storedURL); err != nil {
		logger.Error().Err(err).Msg("mark archive job done")
		return false
	}
	logger.Info().Str("stored_url", storedURL).Msg("output archived")
	return true
}

func (s *ArchiveService) copy(ctx context.Context, job models.ArchiveJob) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.SourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download output: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read output: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxBytes {
		return "", errDownloadTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}
	key := s.store.UserKey(job.UserID, storage.KindOutputs, contentType)
	return s.store.Put(ctx, key, data, contentType)
}

func (s *ArchiveService) ListForUser(ctx context.Context, userID string) ([]models.ArchiveJob, error) {
	return s.jobs.ListByUser(ctx, userID)
}
