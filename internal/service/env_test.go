package service_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"househunter/internal/domain"
	"househunter/internal/gateway/mpesa"
	"househunter/internal/realtime"
	"househunter/internal/security"
	"househunter/internal/service"
	"househunter/internal/store/sqlite"
)

const testCallbackURL = "http://localhost:8000/api/payments/callback/"

type published struct {
	Topic realtime.Topic
	Event realtime.Event
}

// recorder remembers every publish and forwards it to an in-process
// layer so tests can also subscribe.
type recorder struct {
	layer *realtime.MemoryLayer

	mu  sync.Mutex
	got []published
}

func (r *recorder) Publish(ctx context.Context, t realtime.Topic, ev realtime.Event) error {
	r.mu.Lock()
	r.got = append(r.got, published{Topic: t, Event: ev})
	r.mu.Unlock()
	return r.layer.Publish(ctx, t, ev)
}

func (r *recorder) on(t realtime.Topic) []realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []realtime.Event
	for _, p := range r.got {
		if p.Topic == t {
			out = append(out, p.Event)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

// collector is a realtime subscriber that keeps what it receives.
type collector struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (c *collector) Deliver(_ realtime.Topic, ev realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) received() []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Event(nil), c.events...)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) InitiatePush(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mpesa.PushResult), args.Error(1)
}

type env struct {
	db       *sql.DB
	users    *sqlite.UserRepo
	listings *sqlite.ListingRepo
	messages *sqlite.MessageRepo
	blocks   *sqlite.BlockRepo
	payments *sqlite.PaymentRepo
	pub      *recorder

	userSvc    *service.UserService
	listingSvc *service.ListingService
	messageSvc *service.MessageService
	paymentSvc *service.PaymentService
}

func newEnv(t *testing.T, gw mpesa.Gateway, opts service.PaymentOptions) *env {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	enc, err := security.NewEncryptor([]byte("test-encryption-key"), nil)
	require.NoError(t, err)

	if opts.CallbackURL == "" {
		opts.CallbackURL = testCallbackURL
	}

	e := &env{
		db:       db,
		users:    sqlite.NewUserRepo(db),
		listings: sqlite.NewListingRepo(db),
		messages: sqlite.NewMessageRepo(db),
		blocks:   sqlite.NewBlockRepo(db),
		payments: sqlite.NewPaymentRepo(db),
		pub:      &recorder{layer: realtime.NewMemoryLayer()},
	}
	e.userSvc = service.NewUserService(e.users, e.pub, 5*time.Minute)
	e.listingSvc = service.NewListingService(e.listings, e.pub)
	e.messageSvc = service.NewMessageService(e.messages, e.blocks, e.listings, e.users, enc, e.pub)
	e.paymentSvc = service.NewPaymentService(e.payments, e.listings, gw, e.pub, opts)
	t.Cleanup(e.paymentSvc.Close)
	return e
}

func (e *env) user(t *testing.T, name string, role domain.Role) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, HashedPassword: "x", Role: role}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

// approvedListing creates a listing for landlord and has admin approve it.
func (e *env) approvedListing(t *testing.T, landlord, admin *domain.User) *domain.Listing {
	t.Helper()
	ctx := context.Background()
	l, err := e.listingSvc.Create(ctx, landlord, listingInput())
	require.NoError(t, err)
	l, err = e.listingSvc.Approve(ctx, admin, l.ID)
	require.NoError(t, err)
	return l
}

func callbackFor(t *testing.T, merchantID, checkoutID string, code int, receipt string) *mpesa.StkCallback {
	t.Helper()
	body := fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": %q,
				"CheckoutRequestID": %q,
				"ResultCode": %d,
				"ResultDesc": "result %d",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 5000},
						{"Name": "MpesaReceiptNumber", "Value": %q},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`, merchantID, checkoutID, code, code, receipt)

	var cb mpesa.Callback
	require.NoError(t, json.Unmarshal([]byte(body), &cb))
	return &cb.Body.StkCallback
}

func ptr[T any](v T) *T { return &v }
