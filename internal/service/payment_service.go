package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/digkill/msai-studio/internal/alert"
	"github.com/digkill/msai-studio/internal/database"
	"github.com/digkill/msai-studio/internal/models"
	"github.com/digkill/msai-studio/internal/repository"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	ErrPaymentsDisabled = errors.New("checkout is not configured")
)

const eventCheckoutCompleted = "checkout.session.completed"

// CheckoutCreator opens a hosted checkout session.
type CheckoutCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeCheckout returns a session client bound to secretKey, or nil
// when no key is configured.
func NewStripeCheckout(secretKey string) CheckoutCreator {
	if secretKey == "" {
		return nil
	}
	return &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

type PaymentConfig struct {
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type PaymentService struct {
	cfg       PaymentConfig
	db        *sql.DB
	purchases *repository.PurchaseRepository
	users     *repository.UserRepository
	plans     *repository.PlanRepository
	checkout  CheckoutCreator
	alerts    alert.Notifier
	log       zerolog.Logger
}

func NewPaymentService(
	cfg PaymentConfig,
	db *sql.DB,
	purchases *repository.PurchaseRepository,
	users *repository.UserRepository,
	plans *repository.PlanRepository,
	checkout CheckoutCreator,
	alerts alert.Notifier,
	log zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		cfg:       cfg,
		db:        db,
		purchases: purchases,
		users:     users,
		plans:     plans,
		checkout:  checkout,
		alerts:    alerts,
		log:       log,
	}
}

// CheckoutEvent is the part of a completed checkout that drives crediting.
type CheckoutEvent struct {
	SessionID string
	UserID    string
	Amount    int
	Currency  string
	Status    string
	Raw       string
}

// HandleStripeWebhook verifies and applies one webhook delivery. Only a bad
// signature or an unparsable body is returned as an error; processing
// failures are logged and alerted so the delivery is still acknowledged.
func (s *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := webhook.ValidatePayload(payload, signatureHeader, s.cfg.WebhookSecret); err != nil {
		s.log.Warn().Err(err).Msg("stripe webhook signature rejected")
		return ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if string(event.Type) != eventCheckoutCompleted {
		s.log.Debug().Str("event_id", event.ID).Str("type", string(event.Type)).Msg("ignoring stripe event")
		return nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("%w: missing data object", ErrMalformedEvent)
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return fmt.Errorf("%w: decode checkout session: %v", ErrMalformedEvent, err)
	}
	if cs.ID == "" {
		return fmt.Errorf("%w: checkout session without id", ErrMalformedEvent)
	}

	userID := cs.Metadata["user_id"]
	if userID == "" {
		userID = cs.ClientReferenceID
	}
	status := string(cs.PaymentStatus)
	if status == "" {
		status = models.PurchaseStatusPaid
	}

	checkout := CheckoutEvent{
		SessionID: cs.ID,
		UserID:    userID,
		Amount:    int(cs.AmountTotal),
		Currency:  strings.ToLower(string(cs.Currency)),
		Status:    status,
		Raw:       string(event.Data.Raw),
	}
	if err := s.ApplyCheckout(ctx, checkout); err != nil {
		s.log.Error().Err(err).Str("session_id", checkout.SessionID).Str("user_id", checkout.UserID).Msg("checkout crediting failed")
		s.alerts.Alert(ctx, fmt.Sprintf("checkout %s for user %s was not credited: %v", checkout.SessionID, checkout.UserID, err))
	}
	return nil
}

// ApplyCheckout records the purchase and grants its credits in one
// transaction. A session id that was already recorded is a no-op.
func (s *PaymentService) ApplyCheckout(ctx context.Context, ev CheckoutEvent) error {
	if ev.UserID == "" {
		return fmt.Errorf("checkout session carries no user id")
	}
	user, err := s.users.FindByID(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	plan, err := s.plans.FindActiveByPrice(ctx, ev.Amount, ev.Currency)
	if err != nil {
		return fmt.Errorf("resolve plan: %w", err)
	}

	purchase := &models.Purchase{
		SessionID:  ev.SessionID,
		UserID:     ev.UserID,
		Amount:     ev.Amount,
		Currency:   ev.Currency,
		Status:     ev.Status,
		RawPayload: ev.Raw,
	}
	if plan != nil {
		purchase.PlanID = &plan.ID
		purchase.Credits = plan.Credits
	} else {
		purchase.Status = models.PurchaseStatusUnrecognizedAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.purchases.WithTx(tx).Create(ctx, purchase); err != nil {
		if database.IsDuplicateKey(err) {
			s.log.Info().Str("session_id", ev.SessionID).Msg("checkout already processed")
			return nil
		}
		return err
	}
	if purchase.Credits > 0 {
		if err := grantWith(ctx, s.users.WithTx(tx), ev.UserID, purchase.Credits); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purchase: %w", err)
	}

	if plan == nil {
		s.log.Error().
			Str("session_id", ev.SessionID).
			Str("user_id", ev.UserID).
			Int("amount", ev.Amount).
			Str("currency", ev.Currency).
			Msg("payment amount matches no plan")
		s.alerts.Alert(ctx, fmt.Sprintf("payment %s from user %s: amount %d %s matches no plan, no credits granted", ev.SessionID, ev.UserID, ev.Amount, ev.Currency))
		return nil
	}

	s.log.Info().
		Str("session_id", ev.SessionID).
		Str("user_id", ev.UserID).
		Int("credits", purchase.Credits).
		Msg("checkout credited")
	return nil
}

// CreateCheckout opens a hosted checkout for plan and returns its URL.
func (s *PaymentService) CreateCheckout(ctx context.Context, user *models.User, planID int64) (string, string, error) {
	if s.checkout == nil {
		return "", "", ErrPaymentsDisabled
	}
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return "", "", err
	}
	if plan == nil || !plan.IsActive {
		return "", "", ErrPlanNotFound
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(user.ID),
		CustomerEmail:     stripe.String(user.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(plan.Currency),
					UnitAmount: stripe.Int64(int64(plan.PriceMinorUnits)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s (%d credits)", plan.Title, plan.Credits)),
					},
				},
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", user.ID)
	params.AddMetadata("plan_id", strconv.FormatInt(plan.ID, 10))

	cs, err := s.checkout.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	s.log.Info().Str("session_id", cs.ID).Str("user_id", user.ID).Int64("plan_id", plan.ID).Msg("checkout session created")
	return cs.URL, cs.ID, nil
}

func (s *PaymentService) ListForUser(ctx context.Context, userID string) ([]models.Purchase, error) {
	purchases, err := s.purchases.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return purchases, nil
}
