package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"househunter/internal/domain"
	"househunter/internal/gateway/mpesa"
	"househunter/internal/logger"
	"househunter/internal/metrics"
	"househunter/internal/realtime"
)

var phonePattern = regexp.MustCompile(`^254\d{9}$`)

const (
	sourceCallback  = "callback"
	sourceSimulated = "simulated"
	sourceInitiate  = "initiate"

	defaultAccountReference = "HouseHunter"
	defaultTransactionDesc  = "Rent payment"
	completedMessage        = "Payment completed successfully"
	simulatedResultDesc     = "The service request is processed successfully. (simulated)"
)

// PaymentOptions configures the payment lifecycle.
type PaymentOptions struct {
	CallbackURL string
	// Simulate completes accepted payments after SimulationDelay when no
	// callback has arrived by then.
	Simulate        bool
	SimulationDelay time.Duration
	// CallbackWait is how long a callback keeps looking for its payment.
	// A callback can overtake the recording of the gateway's ids.
	CallbackWait time.Duration
}

// PaymentService creates push payments and reconciles their results,
// whichever confirmation path reports first.
type PaymentService struct {
	payments domain.PaymentRepository
	listings domain.ListingRepository
	gateway  mpesa.Gateway
	pub      realtime.Publisher
	timers   *Scheduler
	opts     PaymentOptions
}

func NewPaymentService(
	payments domain.PaymentRepository,
	listings domain.ListingRepository,
	gateway mpesa.Gateway,
	pub realtime.Publisher,
	opts PaymentOptions,
) *PaymentService {
	return &PaymentService{
		payments: payments,
		listings: listings,
		gateway:  gateway,
		pub:      pub,
		timers:   NewScheduler(),
		opts:     opts,
	}
}

type InitiateInput struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	TransactionDesc  string
	ListingID        *int64
}

type InitiateResult struct {
	PaymentID         int64                `json:"payment_id"`
	MerchantRequestID string               `json:"merchant_request_id"`
	CheckoutRequestID string               `json:"checkout_request_id"`
	Status            domain.PaymentStatus `json:"status"`
	Message           string               `json:"message"`
}

// ValidPhone reports whether phone is a 254XXXXXXXXX number.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// Initiate records a pending payment and asks the gateway to push it to
// the customer's phone. If the gateway cannot be reached or rejects the
// push, the payment is kept as failed with the reason.
func (s *PaymentService) Initiate(ctx context.Context, actor *domain.User, in InitiateInput) (*InitiateResult, error) {
	if err := domain.Authorize(actor, domain.ActionInitiatePayment, nil); err != nil {
		return nil, err
	}

	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	if !ValidPhone(in.PhoneNumber) {
		return nil, fmt.Errorf("phone number must be in the format 254XXXXXXXXX: %w", domain.ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", domain.ErrInvalidInput)
	}
	if !in.Amount.IsInteger() {
		return nil, fmt.Errorf("amount must be a whole number: %w", domain.ErrInvalidInput)
	}
	if in.ListingID != nil {
		if _, err := s.listings.GetByID(ctx, *in.ListingID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("listing %d does not exist: %w", *in.ListingID, domain.ErrInvalidInput)
			}
			return nil, err
		}
	}
	if strings.TrimSpace(in.AccountReference) == "" {
		in.AccountReference = defaultAccountReference
	}
	if strings.TrimSpace(in.TransactionDesc) == "" {
		in.TransactionDesc = defaultTransactionDesc
	}

	userID := actor.ID
	p := &domain.Payment{
		Amount:           in.Amount,
		PhoneNumber:      in.PhoneNumber,
		AccountReference: in.AccountReference,
		TransactionDesc:  in.TransactionDesc,
		Status:           domain.PaymentPending,
		UserID:           &userID,
		ListingID:        in.ListingID,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx).With(zap.Int64("payment_id", p.ID))

	res, err := s.gateway.InitiatePush(ctx, mpesa.PushRequest{
		PhoneNumber:      p.PhoneNumber,
		Amount:           p.Amount,
		AccountReference: p.AccountReference,
		TransactionDesc:  p.TransactionDesc,
		CallbackURL:      s.opts.CallbackURL,
	})
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("unavailable").Inc()
		log.Error("push payment failed", zap.Error(err))
		s.finish(ctx, p, domain.PaymentFailed, "Payment service unavailable: "+err.Error(), sourceInitiate)
		return nil, fmt.Errorf("initiate push: %w", domain.ErrUpstreamUnavailable)
	}
	if !res.Accepted {
		metrics.GatewayErrors.WithLabelValues("rejected").Inc()
		log.Warn("push payment rejected", zap.String("description", res.Description))
		s.finish(ctx, p, domain.PaymentFailed, res.Description, sourceInitiate)
		return nil, fmt.Errorf("payment request rejected: %s: %w", res.Description, domain.ErrInvalidInput)
	}

	if err := s.payments.SetCorrelation(ctx, p.ID, res.MerchantRequestID, res.CheckoutRequestID); err != nil {
		log.Error("record gateway reference", zap.Error(err))
		s.finish(ctx, p, domain.PaymentFailed, "Could not record gateway reference", sourceInitiate)
		return nil, err
	}
	log.Info("push payment accepted",
		zap.String("merchant_request_id", res.MerchantRequestID),
		zap.String("checkout_request_id", res.CheckoutRequestID))

	if s.opts.Simulate {
		s.scheduleSimulation(ctx, p.ID)
	}

	return &InitiateResult{
		PaymentID:         p.ID,
		MerchantRequestID: res.MerchantRequestID,
		CheckoutRequestID: res.CheckoutRequestID,
		Status:            domain.PaymentPending,
		Message:           res.Description,
	}, nil
}

func (s *PaymentService) scheduleSimulation(ctx context.Context, paymentID int64) {
	bg := context.WithoutCancel(ctx)
	s.timers.Schedule(paymentID, s.opts.SimulationDelay, func() {
		if _, err := s.completeSimulated(bg, paymentID); err != nil {
			logger.FromContext(bg).Error("simulated confirmation failed",
				zap.Int64("payment_id", paymentID), zap.Error(err))
		}
	})
}

// HandleCallback reconciles an asynchronous gateway result. A callback
// for ids no payment carries is an error and changes nothing.
func (s *PaymentService) HandleCallback(ctx context.Context, cb *mpesa.StkCallback) (*domain.Payment, error) {
	if cb == nil || cb.MerchantRequestID == "" || cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("callback is missing correlation ids: %w", domain.ErrInvalidInput)
	}

	log := logger.FromContext(ctx).With(
		zap.String("merchant_request_id", cb.MerchantRequestID),
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.Int("result_code", cb.ResultCode),
	)

	p, err := s.byCorrelation(ctx, cb.MerchantRequestID, cb.CheckoutRequestID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("callback does not match any payment")
		return nil, fmt.Errorf("no payment for checkout request %s: %w", cb.CheckoutRequestID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	switch cb.ResultCode {
	case mpesa.ResultSuccess:
		receipt, _ := cb.Lookup(mpesa.ReceiptItem)
		if _, err := s.complete(ctx, p, receipt, cb.ResultDesc, sourceCallback); err != nil {
			return nil, err
		}
	case mpesa.ResultCancelledByUser:
		s.finish(ctx, p, domain.PaymentCancelled, cb.ResultDesc, sourceCallback)
	default:
		s.finish(ctx, p, domain.PaymentFailed, cb.ResultDesc, sourceCallback)
	}

	return s.payments.GetByID(ctx, p.ID)
}

// byCorrelation looks a payment up by its gateway ids, retrying a miss
// for up to CallbackWait.
func (s *PaymentService) byCorrelation(ctx context.Context, merchantID, checkoutID string) (*domain.Payment, error) {
	if s.opts.CallbackWait <= 0 {
		return s.payments.GetByCorrelation(ctx, merchantID, checkoutID)
	}

	var p *domain.Payment
	op := func() error {
		var err error
		p, err = s.payments.GetByCorrelation(ctx, merchantID, checkoutID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = s.opts.CallbackWait
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return p, nil
}

// SimulateSuccess completes a pending payment immediately through the
// simulated path. Completing an already finished payment is a no-op.
func (s *PaymentService) SimulateSuccess(ctx context.Context, actor *domain.User, paymentID int64) (*domain.Payment, error) {
	if !s.opts.Simulate {
		return nil, fmt.Errorf("payment simulation is disabled: %w", domain.ErrForbidden)
	}
	if _, err := s.Get(ctx, actor, paymentID); err != nil {
		return nil, err
	}
	return s.completeSimulated(ctx, paymentID)
}

func (s *PaymentService) completeSimulated(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		logger.FromContext(ctx).Debug("payment already finished, skipping simulated confirmation",
			zap.Int64("payment_id", p.ID), zap.String("status", string(p.Status)))
		return p, nil
	}
	if _, err := s.complete(ctx, p, mpesa.SyntheticReceipt(), simulatedResultDesc, sourceSimulated); err != nil {
		return nil, err
	}
	return s.payments.GetByID(ctx, paymentID)
}

// complete performs the pending→completed transition and its side
// effects. It reports false when another path already finished p.
func (s *PaymentService) complete(ctx context.Context, p *domain.Payment, receipt, desc, source string) (bool, error) {
	done, err := s.payments.Complete(ctx, p.ID, receipt, desc)
	if err != nil {
		return false, err
	}
	if !done {
		logger.FromContext(ctx).Info("payment already finished, ignoring confirmation",
			zap.Int64("payment_id", p.ID), zap.String("source", source))
		return false, nil
	}
	s.timers.Cancel(p.ID)
	metrics.PaymentsFinished.WithLabelValues(string(domain.PaymentCompleted), source).Inc()
	logger.FromContext(ctx).Info("payment completed",
		zap.Int64("payment_id", p.ID), zap.String("receipt", receipt), zap.String("source", source))

	publish(ctx, s.pub, realtime.PaymentTopic(p.ID), realtime.PaymentStatus{
		PaymentID: p.ID,
		Status:    domain.PaymentCompleted,
	})
	if p.UserID != nil {
		publish(ctx, s.pub, realtime.UserPaymentsTopic(*p.UserID), realtime.PaymentCompleted{
			PaymentID: p.ID,
			ListingID: p.ListingID,
			Message:   completedMessage,
		})
	}
	if p.ListingID != nil {
		s.publishOccupied(ctx, *p.ListingID)
	}
	return true, nil
}

// finish moves p to failed or cancelled. Losing the race to another
// confirmation path is not an error.
func (s *PaymentService) finish(ctx context.Context, p *domain.Payment, status domain.PaymentStatus, desc, source string) {
	log := logger.FromContext(ctx).With(zap.Int64("payment_id", p.ID))
	done, err := s.payments.Finish(ctx, p.ID, status, desc)
	if err != nil {
		log.Error("finish payment", zap.String("status", string(status)), zap.Error(err))
		return
	}
	if !done {
		log.Info("payment already finished, ignoring result", zap.String("source", source))
		return
	}
	s.timers.Cancel(p.ID)
	metrics.PaymentsFinished.WithLabelValues(string(status), source).Inc()
	log.Info("payment finished", zap.String("status", string(status)), zap.String("result_desc", desc))

	publish(ctx, s.pub, realtime.PaymentTopic(p.ID), realtime.PaymentStatus{
		PaymentID: p.ID,
		Status:    status,
	})
}

func (s *PaymentService) publishOccupied(ctx context.Context, listingID int64) {
	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.FromContext(ctx).Warn("load paid listing", zap.Int64("listing_id", listingID), zap.Error(err))
		}
		return
	}
	if l.LandlordID == nil {
		return
	}
	publish(ctx, s.pub, realtime.ListingStatusTopic(*l.LandlordID), realtime.ListingStatus{
		ListingID:      l.ID,
		ApprovalStatus: l.ApprovalStatus,
		IsVacant:       l.IsVacant,
		Reason:         l.PendingReason,
	})
}

// Get returns a payment to its owner or an admin.
func (s *PaymentService) Get(ctx context.Context, actor *domain.User, id int64) (*domain.Payment, error) {
	if actor == nil {
		return nil, domain.ErrUnauthorized
	}
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleAdmin {
		return p, nil
	}
	if p.UserID == nil || *p.UserID != actor.ID {
		return nil, domain.ErrForbidden
	}
	return p, nil
}

// ForSubscriber returns the payment a status subscription is for. Only
// the owning user may subscribe.
func (s *PaymentService) ForSubscriber(ctx context.Context, actor *domain.User, id int64) (*domain.Payment, error) {
	if actor == nil {
		return nil, domain.ErrUnauthorized
	}
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID == nil || *p.UserID != actor.ID {
		return nil, domain.ErrForbidden
	}
	return p, nil
}

// ListMine lists the caller's payments, newest first.
func (s *PaymentService) ListMine(ctx context.Context, actor *domain.User) ([]*domain.Payment, error) {
	if actor == nil {
		return nil, domain.ErrUnauthorized
	}
	return s.payments.ListForUser(ctx, actor.ID)
}

// PendingSimulations is the number of scheduled simulated confirmations.
func (s *PaymentService) PendingSimulations() int {
	return s.timers.Pending()
}

// Close cancels outstanding simulated confirmations.
func (s *PaymentService) Close() {
	s.timers.Stop()
}
