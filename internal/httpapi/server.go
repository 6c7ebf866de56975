package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/digkill/msai-studio/internal/auth"
	"github.com/digkill/msai-studio/internal/fal"
	"github.com/digkill/msai-studio/internal/models"
	"github.com/digkill/msai-studio/internal/service"
	"github.com/digkill/msai-studio/internal/storage"
)

// Relayer forwards poll requests to the workflow provider.
type Relayer interface {
	Relay(ctx context.Context, rawURL string) (*fal.RelayResponse, error)
}

// FileStore holds user uploads and archived outputs.
type FileStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	List(ctx context.Context, prefix string) ([]storage.Object, error)
	UserKey(userID, kind, contentType string) string
	UserPrefix(userID string) string
}

type Config struct {
	Addr              string
	WriteTimeout      time.Duration
	UploadMaxBytes    int64
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// TrustProxy resolves client addresses from X-Forwarded-For and
	// X-Real-IP. Leave off unless a proxy in front overwrites them.
	TrustProxy bool
}

type Services struct {
	Tokens      *auth.Issuer
	Users       *service.UserService
	Ledger      *service.LedgerService
	Plans       *service.PlanService
	Payments    *service.PaymentService
	Generations *service.GenerationService
	Archive     *service.ArchiveService
	Promos      *service.PromoService
	Relay       Relayer
	Files       FileStore
}

type Server struct {
	cfg    Config
	log    zerolog.Logger
	svc    Services
	router *chi.Mux
}

func NewServer(cfg Config, log zerolog.Logger, svc Services) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 16 * time.Minute
	}
	if cfg.UploadMaxBytes <= 0 {
		cfg.UploadMaxBytes = 25 << 20
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	s := &Server{cfg: cfg, log: log, svc: svc, router: r}
	// Each group counts separately so login attempts never eat into a
	// client's generation allowance.
	signupLimit := rateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)
	loginLimit := rateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)
	runLimit := rateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/payment-success", s.handleStripeWebhook)
		r.Post("/run-fal/webhook/stripe", s.handleStripeWebhook)
		r.Get("/plans", s.handleListActivePlans)

		r.With(signupLimit).Post("/signup", s.handleSignup)
		r.With(loginLimit).Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/me", s.handleMe)
			r.Patch("/me", s.handleUpdateMe)
			r.Get("/me/purchases", s.handleMyPurchases)
			r.Get("/me/generations", s.handleMyGenerations)
			r.Get("/me/archive", s.handleMyArchive)
			r.Post("/checkout", s.handleCheckout)
			r.Post("/promo/redeem", s.handleRedeemPromo)
			r.Post("/uploads", s.handleUpload)
			r.Get("/files", s.handleListFiles)
			r.Get("/poll", s.handlePoll)

			r.Group(func(r chi.Router) {
				r.Use(runLimit)
				for _, wf := range models.Workflows {
					r.Post("/run-fal-"+wf.Slug, s.handleRunWorkflow(wf.Slug))
				}
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/get-all-users", s.handleListUsers)
				r.Get("/get-user-payments/{id}", s.handleUserPayments)
				r.Post("/admin/users/{id}/credits", s.handleAdjustCredits)
				r.Route("/admin/plans", func(r chi.Router) {
					r.Get("/", s.handleListPlans)
					r.Post("/", s.handleCreatePlan)
					r.Put("/{id}", s.handleUpdatePlan)
					r.Delete("/{id}", s.handleDeletePlan)
				})
				r.Route("/admin/promo-codes", func(r chi.Router) {
					r.Get("/", s.handleListPromos)
					r.Post("/", s.handleCreatePromo)
					r.Put("/{id}", s.handleUpdatePromo)
					r.Delete("/{id}", s.handleDeletePromo)
				})
			})
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// Workflow calls block the response for up to the generation timeout.
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("http shutdown error")
		}
	}()

	s.log.Info().Str("addr", s.cfg.Addr).Msg("http api listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fail maps a service error onto a status code and an {"error"} body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("handler error")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrInvalidDelta),
		errors.Is(err, service.ErrInputRequired),
		errors.Is(err, service.ErrInvalidInputURL),
		errors.Is(err, service.ErrStoryRequired),
		errors.Is(err, service.ErrInvalidPlan),
		errors.Is(err, service.ErrPromoInvalid),
		errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrMalformedEvent),
		errors.Is(err, fal.ErrRelayHostNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrPlanNotFound),
		errors.Is(err, service.ErrPromoNotFound),
		errors.Is(err, service.ErrUnknownWorkflow):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrPromoAlreadyRedeemed),
		errors.Is(err, service.ErrPromoExhausted):
		return http.StatusConflict
	case errors.Is(err, service.ErrWorkflowFailed):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrPaymentsDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
