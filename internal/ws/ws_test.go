package ws_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"househunter/internal/domain"
	"househunter/internal/gateway/mpesa"
	"househunter/internal/realtime"
	"househunter/internal/security"
	"househunter/internal/service"
	"househunter/internal/store/sqlite"
	"househunter/internal/ws"
)

const testOrigin = "http://localhost:3000"

// joinHookLayer runs a hook once, right before the next Join.
type joinHookLayer struct {
	*realtime.MemoryLayer

	mu   sync.Mutex
	hook func()
}

func (l *joinHookLayer) beforeNextJoin(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = fn
}

func (l *joinHookLayer) Join(ctx context.Context, t realtime.Topic, s realtime.Subscriber) error {
	l.mu.Lock()
	hook := l.hook
	l.hook = nil
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	return l.MemoryLayer.Join(ctx, t, s)
}

type fixture struct {
	srv      *httptest.Server
	layer    *realtime.MemoryLayer
	joins    *joinHookLayer
	tokens   *security.TokenService
	users    *sqlite.UserRepo
	listings *service.ListingService
	payments *service.PaymentService
	messages *sqlite.MessageRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ws.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	enc, err := security.NewEncryptor([]byte("ws-test-key"), nil)
	require.NoError(t, err)

	f := &fixture{
		layer:    realtime.NewMemoryLayer(),
		tokens:   security.NewTokenService("ws-secret", time.Hour),
		users:    sqlite.NewUserRepo(db),
		messages: sqlite.NewMessageRepo(db),
	}
	listingRepo := sqlite.NewListingRepo(db)
	auth := service.NewAuthService(f.users, f.tokens, security.NewPasswordHasher(bcrypt.MinCost))
	msgSvc := service.NewMessageService(f.messages, sqlite.NewBlockRepo(db), listingRepo, f.users, enc, f.layer)
	f.listings = service.NewListingService(listingRepo, f.layer)
	f.payments = service.NewPaymentService(sqlite.NewPaymentRepo(db), listingRepo, mpesa.Simulated{}, f.layer,
		service.PaymentOptions{CallbackURL: "http://localhost/cb", SimulationDelay: time.Hour})
	t.Cleanup(f.payments.Close)

	f.joins = &joinHookLayer{MemoryLayer: f.layer}
	h := ws.NewHandler(auth, f.users, msgSvc, f.payments, f.joins, []string{testOrigin})
	r := chi.NewRouter()
	r.Get("/ws/chat/{listingID}", h.Chat())
	r.Get("/ws/payments/{paymentID}", h.Payment())
	r.Get("/ws/user-payments", h.UserPayments())
	r.Get("/ws/user-payments/{userID}", h.UserPayments())
	r.Get("/ws/favorites-cleanup", h.FavoritesCleanup())
	r.Get("/ws/listing-status", h.ListingStatus())

	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) user(t *testing.T, name string, role domain.Role) (*domain.User, string) {
	t.Helper()
	u := &domain.User{Username: name, HashedPassword: "x", Role: role}
	require.NoError(t, f.users.Create(context.Background(), u))
	tok, err := f.tokens.CreateForUser(u)
	require.NoError(t, err)
	return u, tok
}

func (f *fixture) listing(t *testing.T, landlord, admin *domain.User, approve bool) *domain.Listing {
	t.Helper()
	ctx := context.Background()
	l, err := f.listings.Create(ctx, landlord, service.ListingInput{
		Title:       "Studio in Westlands",
		Location:    "Westlands",
		MonthlyRent: decimal.NewFromInt(20000),
	})
	require.NoError(t, err)
	if approve {
		l, err = f.listings.Approve(ctx, admin, l.ID)
		require.NoError(t, err)
	}
	return l
}

func (f *fixture) dial(path, token string) (*websocket.Conn, *http.Response, error) {
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	if token != "" {
		u += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(u, http.Header{"Origin": []string{testOrigin}})
}

func (f *fixture) mustDial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := f.dial(path, token)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
	var netErr net.Error
	if assert.ErrorAs(t, err, &netErr) {
		assert.True(t, netErr.Timeout())
	}
}

func TestRejectsBeforeUpgrade(t *testing.T) {
	f := newFixture(t)
	landlord, landlordTok := f.user(t, "landlord", domain.RoleLandlord)
	admin, _ := f.user(t, "admin", domain.RoleAdmin)
	_, tenantTok := f.user(t, "tenant", domain.RoleTenant)
	other, otherTok := f.user(t, "other", domain.RoleTenant)
	pending := f.listing(t, landlord, admin, false)

	p, err := f.payments.Initiate(context.Background(), other, service.InitiateInput{
		PhoneNumber: "254712345678",
		Amount:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	cases := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"no token", "/ws/favorites-cleanup", "", http.StatusUnauthorized},
		{"garbage token", "/ws/favorites-cleanup", "garbage", http.StatusUnauthorized},
		{"tenant on pending listing", fmt.Sprintf("/ws/chat/%d", pending.ID), tenantTok, http.StatusForbidden},
		{"unknown listing", "/ws/chat/9999", tenantTok, http.StatusNotFound},
		{"someone else's payment", fmt.Sprintf("/ws/payments/%d", p.PaymentID), tenantTok, http.StatusForbidden},
		{"someone else's payment channel", fmt.Sprintf("/ws/user-payments/%d", other.ID), tenantTok, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := f.dial(tc.path, tc.token)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	conn := f.mustDial(t, fmt.Sprintf("/ws/chat/%d", pending.ID), landlordTok)
	assert.NotNil(t, conn)
	conn = f.mustDial(t, fmt.Sprintf("/ws/user-payments/%d", other.ID), otherTok)
	assert.NotNil(t, conn)

	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/favorites-cleanup?token=" + tenantTok
	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": []string{"http://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChatReachesOnlyTheTwoParties(t *testing.T) {
	f := newFixture(t)
	landlord, landlordTok := f.user(t, "landlord", domain.RoleLandlord)
	admin, _ := f.user(t, "admin", domain.RoleAdmin)
	tenant1, tenant1Tok := f.user(t, "tenant1", domain.RoleTenant)
	_, tenant2Tok := f.user(t, "tenant2", domain.RoleTenant)
	l := f.listing(t, landlord, admin, true)

	path := fmt.Sprintf("/ws/chat/%d", l.ID)
	a := f.mustDial(t, path, landlordTok)
	b := f.mustDial(t, path, tenant1Tok)
	c := f.mustDial(t, path, tenant2Tok)
	require.Eventually(t, func() bool {
		return f.layer.Members(realtime.ChatTopic(l.ID)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.WriteJSON(map[string]any{"message": "   "}))
	errFrame := readEvent(t, c)
	assert.Equal(t, "error", errFrame["type"])

	require.NoError(t, b.WriteJSON(map[string]any{"message": "Is it still available?"}))

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, "chat_message", ev["type"])
		assert.Equal(t, "Is it still available?", ev["message"])
		assert.EqualValues(t, tenant1.ID, ev["sender_id"])
		assert.EqualValues(t, landlord.ID, ev["receiver_id"])
		assert.NotZero(t, ev["message_id"])
	}
	expectSilence(t, c)

	stored, err := f.messages.ListConversation(context.Background(), l.ID, landlord.ID, tenant1.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	require.NoError(t, a.WriteJSON(map[string]any{"message": "Yes it is"}))
	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, "Yes it is", ev["message"])
		assert.EqualValues(t, tenant1.ID, ev["receiver_id"])
	}
}

func TestPaymentSubscriptionGetsCurrentStatusThenUpdates(t *testing.T) {
	f := newFixture(t)
	tenant, tenantTok := f.user(t, "tenant", domain.RoleTenant)
	ctx := context.Background()

	res, err := f.payments.Initiate(ctx, tenant, service.InitiateInput{
		PhoneNumber: "254712345678",
		Amount:      decimal.NewFromInt(5000),
	})
	require.NoError(t, err)

	conn := f.mustDial(t, fmt.Sprintf("/ws/payments/%d", res.PaymentID), tenantTok)
	first := readEvent(t, conn)
	assert.Equal(t, "payment_status_update", first["type"])
	assert.Equal(t, "pending", first["status"])
	assert.EqualValues(t, res.PaymentID, first["payment_id"])

	userConn := f.mustDial(t, "/ws/user-payments", tenantTok)
	require.Eventually(t, func() bool {
		return f.layer.Members(realtime.UserPaymentsTopic(tenant.ID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cb := mpesa.StkCallback{
		MerchantRequestID: res.MerchantRequestID,
		CheckoutRequestID: res.CheckoutRequestID,
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
	}
	_, err = f.payments.HandleCallback(ctx, &cb)
	require.NoError(t, err)

	update := readEvent(t, conn)
	assert.Equal(t, "completed", update["status"])

	done := readEvent(t, userConn)
	assert.Equal(t, "payment_completed", done["type"])
	assert.EqualValues(t, res.PaymentID, done["payment_id"])
}

func TestPaymentGreetingReflectsCompletionDuringJoin(t *testing.T) {
	f := newFixture(t)
	tenant, tenantTok := f.user(t, "tenant", domain.RoleTenant)
	ctx := context.Background()

	res, err := f.payments.Initiate(ctx, tenant, service.InitiateInput{
		PhoneNumber: "254712345678",
		Amount:      decimal.NewFromInt(5000),
	})
	require.NoError(t, err)

	f.joins.beforeNextJoin(func() {
		_, err := f.payments.HandleCallback(ctx, &mpesa.StkCallback{
			MerchantRequestID: res.MerchantRequestID,
			CheckoutRequestID: res.CheckoutRequestID,
			ResultCode:        mpesa.ResultSuccess,
			ResultDesc:        "The service request is processed successfully.",
		})
		assert.NoError(t, err)
	})

	conn := f.mustDial(t, fmt.Sprintf("/ws/payments/%d", res.PaymentID), tenantTok)
	first := readEvent(t, conn)
	assert.Equal(t, "payment_status_update", first["type"])
	assert.Equal(t, "completed", first["status"])
	expectSilence(t, conn)

	p, err := f.payments.Get(ctx, tenant, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, p.Status)
}

func TestFavoritesCleanupOverBearerSubprotocol(t *testing.T) {
	f := newFixture(t)
	landlord, _ := f.user(t, "landlord", domain.RoleLandlord)
	admin, _ := f.user(t, "admin", domain.RoleAdmin)
	_, tenantTok := f.user(t, "tenant", domain.RoleTenant)
	l := f.listing(t, landlord, admin, true)

	dialer := websocket.Dialer{Subprotocols: []string{"bearer", tenantTok}}
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/favorites-cleanup"
	conn, resp, err := dialer.Dial(u, http.Header{"Origin": []string{testOrigin}})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "bearer", resp.Header.Get("Sec-WebSocket-Protocol"))

	require.Eventually(t, func() bool {
		return f.layer.Members(realtime.FavoritesCleanupTopic()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.listings.Delete(context.Background(), landlord, l.ID))
	ev := readEvent(t, conn)
	assert.Equal(t, "listings_deleted", ev["type"])
	assert.Equal(t, []any{float64(l.ID)}, ev["listing_ids"])
}

func TestListingStatusPushedToLandlord(t *testing.T) {
	f := newFixture(t)
	landlord, landlordTok := f.user(t, "landlord", domain.RoleLandlord)
	admin, _ := f.user(t, "admin", domain.RoleAdmin)
	l := f.listing(t, landlord, admin, false)

	conn := f.mustDial(t, "/ws/listing-status", landlordTok)
	require.Eventually(t, func() bool {
		return f.layer.Members(realtime.ListingStatusTopic(landlord.ID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err := f.listings.Approve(context.Background(), admin, l.ID)
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, "listing_status", ev["type"])
	assert.Equal(t, "approved", ev["approval_status"])
	assert.EqualValues(t, l.ID, ev["listing_id"])
}
