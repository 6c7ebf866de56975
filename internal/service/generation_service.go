package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/digkill/msai-studio/internal/alert"
	"github.com/digkill/msai-studio/internal/fal"
	"github.com/digkill/msai-studio/internal/models"
	"github.com/digkill/msai-studio/internal/repository"
)

var (
	ErrUnknownWorkflow = errors.New("unknown workflow")
	ErrInputRequired   = errors.New("input media url is required")
	ErrInvalidInputURL = errors.New("input must be an http(s) url")
	ErrStoryRequired   = errors.New("story is required")
	ErrWorkflowFailed  = errors.New("workflow failed")
)

// WorkflowRunner executes a hosted workflow and returns its raw result.
// Errors may carry the queue request id, see fal.RequestIDOf.
type WorkflowRunner interface {
	Run(ctx context.Context, app string, input map[string]any) (*fal.Result, error)
}

// ArchiveQueue accepts output URLs for background copying.
type ArchiveQueue interface {
	Enqueue(ctx context.Context, userID string, generationID int64, urls []string) (int, error)
}

type GenerationInput struct {
	ImageURL  string `json:"imageUrl"`
	ImageURL2 string `json:"imageUrl2"`
	Story     string `json:"story"`
}

type GenerationResult struct {
	Workflow     string          `json:"workflow"`
	Cost         int             `json:"cost"`
	GenerationID int64           `json:"generation_id"`
	Result       json.RawMessage `json:"result"`
	Archive      string          `json:"archive"`
	Warnings     []string        `json:"warnings,omitempty"`
}

const (
	ArchiveQueued  = "queued"
	ArchiveNothing = "none"
	ArchiveSkipped = "skipped"
)

type GenerationService struct {
	log         zerolog.Logger
	ledger      *LedgerService
	generations *repository.GenerationRepository
	runner      WorkflowRunner
	archive     ArchiveQueue
	alerts      alert.Notifier
	timeout     time.Duration
}

func NewGenerationService(
	log zerolog.Logger,
	ledger *LedgerService,
	generations *repository.GenerationRepository,
	runner WorkflowRunner,
	archive ArchiveQueue,
	alerts alert.Notifier,
	timeout time.Duration,
) *GenerationService {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &GenerationService{
		log:         log,
		ledger:      ledger,
		generations: generations,
		runner:      runner,
		archive:     archive,
		alerts:      alerts,
		timeout:     timeout,
	}
}

// Run charges the workflow cost, invokes it and returns its result. The cost
// is reserved before dispatch and refunded if the workflow fails, so a failed
// attempt leaves the balance unchanged.
func (s *GenerationService) Run(ctx context.Context, userID, slug string, in GenerationInput) (*GenerationResult, error) {
	wf, ok := models.WorkflowBySlug(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, slug)
	}
	input, err := buildInput(wf, in)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Spend(ctx, userID, wf.Cost); err != nil {
		return nil, err
	}

	logger := s.log.With().Str("user_id", userID).Str("workflow", wf.Slug).Int("cost", wf.Cost).Logger()
	logger.Info().Msg("dispatching workflow")

	// The call outlives an abandoned client request; only the timeout stops it.
	detached := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithTimeout(detached, s.timeout)
	defer cancel()

	started := time.Now()
	result, runErr := s.runner.Run(runCtx, wf.App, input)
	if runErr != nil {
		logger.Error().Err(runErr).Dur("elapsed", time.Since(started)).Msg("workflow failed")
		s.logAttempt(detached, userID, wf, models.GenerationFailed, fal.RequestIDOf(runErr), runErr.Error())
		if err := s.ledger.Refund(detached, userID, wf.Cost); err != nil {
			logger.Error().Err(err).Msg("refund after workflow failure failed")
			s.alerts.Alert(detached, fmt.Sprintf("refund of %d credits to user %s after failed %s failed: %v", wf.Cost, userID, wf.Slug, err))
		}
		return nil, fmt.Errorf("%w: %v", ErrWorkflowFailed, runErr)
	}

	logger.Info().Str("request_id", result.RequestID).Dur("elapsed", time.Since(started)).Msg("workflow completed")
	out := &GenerationResult{Workflow: wf.Slug, Cost: wf.Cost, Result: result.Output, Archive: ArchiveNothing}
	out.GenerationID = s.logAttempt(detached, userID, wf, models.GenerationSucceeded, result.RequestID, "")

	urls := fal.OutputURLs(result.Output)
	switch {
	case len(urls) == 0:
	case s.archive == nil:
		out.Archive = ArchiveSkipped
	default:
		if _, err := s.archive.Enqueue(detached, userID, out.GenerationID, urls); err != nil {
			logger.Warn().Err(err).Msg("queue outputs for archive")
			out.Archive = ArchiveSkipped
			out.Warnings = append(out.Warnings, "outputs could not be queued for saving to your files")
		} else {
			out.Archive = ArchiveQueued
		}
	}
	return out, nil
}

func (s *GenerationService) ListForUser(ctx context.Context, userID string, limit int) ([]models.GenerationLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.generations.ListByUser(ctx, userID, limit)
}

func (s *GenerationService) logAttempt(ctx context.Context, userID string, wf models.Workflow, status models.GenerationStatus, requestID, reason string) int64 {
	entry := &models.GenerationLog{
		UserID:    userID,
		Workflow:  wf.Slug,
		Cost:      wf.Cost,
		Status:    status,
		RequestID: requestID,
		Error:     reason,
	}
	if err := s.generations.Log(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("workflow", wf.Slug).Msg("write generation log")
		return 0
	}
	return entry.ID
}

// buildInput validates the request against the workflow's input shape.
func buildInput(wf models.Workflow, in GenerationInput) (map[string]any, error) {
	image, err := mediaURL("imageUrl", in.ImageURL)
	if err != nil {
		return nil, err
	}
	input := map[string]any{"image_url": image}

	switch wf.Shape {
	case models.InputDualImage:
		second, err := mediaURL("imageUrl2", in.ImageURL2)
		if err != nil {
			return nil, err
		}
		input["image_url_2"] = second
	case models.InputImageStory:
		story := strings.TrimSpace(in.Story)
		if story == "" {
			return nil, ErrStoryRequired
		}
		input["story"] = story
	}
	return input, nil
}

func mediaURL(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: %s", ErrInputRequired, field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidInputURL, field)
	}
	return raw, nil
}
