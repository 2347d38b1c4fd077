package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"househunter/internal/domain"
	"househunter/internal/logger"
	"househunter/internal/metrics"
	"househunter/internal/realtime"
	"househunter/internal/service"
)

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}
	if _, wildcard := allowed["*"]; wildcard {
		return func(r *http.Request) bool {
			return true
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// extractToken looks at the token query parameter, the Authorization
// header and the "bearer, <token>" subprotocol, in that order.
func extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return ""
}

// statusFor maps a rejection before upgrade to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrBanned):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is what a socket client is told about a failed frame.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrBanned),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnauthorized):
		return err.Error()
	default:
		return "failed to send message"
	}
}

// subscription is what an authorized connection joins.
type subscription struct {
	topic realtime.Topic
	// greet builds the snapshot pushed to the client once it has joined.
	greet func(ctx context.Context) (realtime.Event, error)
	// inbound handles frames sent by the client; nil ignores them.
	inbound func(ctx context.Context, user *domain.User, data []byte) error
}

type authorizeFunc func(r *http.Request, user *domain.User) (*subscription, error)

// Handler serves the real-time endpoints. Every endpoint authenticates
// and authorizes before the upgrade, so rejected clients get a plain
// HTTP status.
type Handler struct {
	auth     *service.AuthService
	users    domain.UserRepository
	messages *service.MessageService
	payments *service.PaymentService
	layer    realtime.Layer

	checkOrigin func(r *http.Request) bool
	upgrader    websocket.Upgrader
}

func NewHandler(
	auth *service.AuthService,
	users domain.UserRepository,
	messages *service.MessageService,
	payments *service.PaymentService,
	layer realtime.Layer,
	allowedOrigins []string,
) *Handler {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	return &Handler{
		auth:        auth,
		users:       users,
		messages:    messages,
		payments:    payments,
		layer:       layer,
		checkOrigin: checkOrigin,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
			Subprotocols: []string{
				"bearer",
			},
		},
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %w", name, domain.ErrNotFound)
	}
	return id, nil
}

// selfOnly checks an optional {userID} path segment against the caller.
func selfOnly(r *http.Request, user *domain.User) error {
	if chi.URLParam(r, "userID") == "" {
		return nil
	}
	id, err := pathID(r, "userID")
	if err != nil {
		return err
	}
	if id != user.ID {
		return domain.ErrForbidden
	}
	return nil
}

type chatFrame struct {
	Message    string `json:"message"`
	ReceiverID *int64 `json:"receiver_id"`
}

// Chat serves chat:{listing_id}. Inbound frames are sent as messages.
func (h *Handler) Chat() http.HandlerFunc {
	return h.serve(func(r *http.Request, user *domain.User) (*subscription, error) {
		listingID, err := pathID(r, "listingID")
		if err != nil {
			return nil, err
		}
		if _, err := h.messages.ChatAccess(r.Context(), user, listingID); err != nil {
			return nil, err
		}
		return &subscription{
			topic: realtime.ChatTopic(listingID),
			inbound: func(ctx context.Context, user *domain.User, data []byte) error {
				var frame chatFrame
				if err := json.Unmarshal(data, &frame); err != nil {
					return fmt.Errorf("malformed frame: %w", domain.ErrInvalidInput)
				}
				_, err := h.messages.Send(ctx, user, listingID, frame.Message, frame.ReceiverID)
				return err
			},
		}, nil
	})
}

// Payment serves payment:{payment_id} and pushes the current status on
// join. The status is read after joining so a transition published before
// the join is not lost.
func (h *Handler) Payment() http.HandlerFunc {
	return h.serve(func(r *http.Request, user *domain.User) (*subscription, error) {
		paymentID, err := pathID(r, "paymentID")
		if err != nil {
			return nil, err
		}
		if _, err := h.payments.ForSubscriber(r.Context(), user, paymentID); err != nil {
			return nil, err
		}
		return &subscription{
			topic: realtime.PaymentTopic(paymentID),
			greet: func(ctx context.Context) (realtime.Event, error) {
				p, err := h.payments.ForSubscriber(ctx, user, paymentID)
				if err != nil {
					return nil, err
				}
				return realtime.PaymentStatus{PaymentID: p.ID, Status: p.Status}, nil
			},
		}, nil
	})
}

func (h *Handler) UserPayments() http.HandlerFunc {
	return h.serve(func(r *http.Request, user *domain.User) (*subscription, error) {
		if err := selfOnly(r, user); err != nil {
			return nil, err
		}
		return &subscription{topic: realtime.UserPaymentsTopic(user.ID)}, nil
	})
}

func (h *Handler) ListingStatus() http.HandlerFunc {
	return h.serve(func(r *http.Request, user *domain.User) (*subscription, error) {
		if err := selfOnly(r, user); err != nil {
			return nil, err
		}
		return &subscription{topic: realtime.ListingStatusTopic(user.ID)}, nil
	})
}

func (h *Handler) FavoritesCleanup() http.HandlerFunc {
	return h.serve(func(r *http.Request, user *domain.User) (*subscription, error) {
		return &subscription{topic: realtime.FavoritesCleanupTopic()}, nil
	})
}

// sendGreeting delivers the joining snapshot. A publish can land between the
// snapshot read and its delivery, so the snapshot is read once more and
// re-sent if it moved; the client then always ends on the latest state.
func (h *Handler) sendGreeting(ctx context.Context, sub *subscription, c *client) {
	first, err := sub.greet(ctx)
	if err != nil {
		c.log.Error("build greeting", zap.Error(err))
		return
	}
	c.Deliver(sub.topic, first)

	latest, err := sub.greet(ctx)
	if err != nil {
		c.log.Warn("refresh greeting", zap.Error(err))
		return
	}
	a, errA := realtime.Encode(first)
	b, errB := realtime.Encode(latest)
	if errA == nil && errB == nil && !bytes.Equal(a, b) {
		c.Deliver(sub.topic, latest)
	}
}

func (h *Handler) serve(authorize authorizeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		ctx := r.Context()
		log := logger.FromContext(ctx)

		tokenStr := extractToken(r)
		if tokenStr == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		user, err := h.auth.Authenticate(ctx, tokenStr)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				log.Error("websocket authentication", zap.Error(err))
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		sub, err := authorize(r, user)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				log.Error("websocket authorization", zap.Error(err))
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("websocket upgrade", zap.Error(err))
			return
		}

		log = log.With(zap.String("topic", sub.topic.String()), zap.Int64("user_id", user.ID))
		c := newClient(conn, user, log)
		if err := h.layer.Join(ctx, sub.topic, c); err != nil {
			log.Error("join topic", zap.Error(err))
			conn.Close()
			return
		}
		defer h.layer.Leave(sub.topic, c)

		gauge := metrics.OpenConnections.WithLabelValues(sub.topic.Kind.String())
		gauge.Inc()
		defer gauge.Dec()

		if err := h.users.TouchLastSeen(ctx, user.ID); err != nil {
			log.Warn("touch last seen", zap.Error(err))
		}
		log.Debug("websocket connected")

		if sub.greet != nil {
			h.sendGreeting(ctx, sub, c)
		}

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			c.writePump()
		}()

		var inbound func(context.Context, []byte) error
		if sub.inbound != nil {
			inbound = func(ctx context.Context, data []byte) error {
				// re-read the user so a ban takes effect on open sockets
				fresh, err := h.users.GetByID(ctx, user.ID)
				if err != nil {
					return err
				}
				if fresh.IsBanned {
					c.close()
					return domain.ErrBanned
				}
				if err := h.users.TouchLastSeen(ctx, fresh.ID); err != nil {
					log.Warn("touch last seen", zap.Error(err))
				}
				return sub.inbound(ctx, fresh, data)
			}
		}
		c.readPump(ctx, inbound)
		<-writerDone
		log.Debug("websocket disconnected")
	}
}
