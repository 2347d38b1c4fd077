package httpserver

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"househunter/internal/config"
	"househunter/internal/domain"
	"househunter/internal/logger"
	"househunter/internal/metrics"
	"househunter/internal/service"
	"househunter/internal/ws"
)

// Deps is everything the router wires into handlers.
type Deps struct {
	Config   *config.Config
	DB       *sql.DB
	UserRepo domain.UserRepository
	Auth     *service.AuthService
	Users    *service.UserService
	Listings *service.ListingService
	Messages *service.MessageService
	Payments *service.PaymentService
	WS       *ws.Handler
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	requireUser := AuthMiddleware(d.Auth, d.UserRepo)
	optionalUser := OptionalAuthMiddleware(d.Auth)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": d.Config.AppName + " API",
			"version": "1.0.0",
		})
	})

	r.Get("/health", handleHealth(d.DB))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(d.Auth))
			r.Post("/login", handleLogin(d.Auth))
			r.With(requireUser).Post("/logout", handleLogout(d.Auth))
			r.With(requireUser).Get("/me", handleMe(d.Users))
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/", handleListUsers(d.Users))
			r.Post("/heartbeat", handleHeartbeat(d.Users))
			r.Delete("/me", handleDeleteSelf(d.Users))
			r.Get("/{userID}", handleGetUser(d.Users))
			r.Post("/{userID}/ban", handleSetBanned(d.Users, true))
			r.Post("/{userID}/unban", handleSetBanned(d.Users, false))
			r.Delete("/{userID}", handleDeleteUser(d.Users))
		})

		// Listings share one path tree between public and authenticated
		// handlers, so they are registered flat.
		authed := r.With(requireUser)
		r.Get("/listings", handleBrowseListings(d.Listings))
		authed.Post("/listings", handleCreateListing(d.Listings))
		authed.Get("/listings/mine", handleMyListings(d.Listings))
		r.With(optionalUser).Get("/listings/{listingID}", handleGetListing(d.Listings))
		authed.Patch("/listings/{listingID}", handleUpdateListing(d.Listings))
		authed.Put("/listings/{listingID}", handleUpdateListing(d.Listings))
		authed.Delete("/listings/{listingID}", handleDeleteListing(d.Listings))
		r.Post("/listings/{listingID}/view", handleRecordView(d.Listings))
		authed.Post("/listings/{listingID}/messages", handleSendMessage(d.Messages))
		authed.Get("/listings/{listingID}/messages", handleListMessages(d.Messages))
		authed.Post("/listings/{listingID}/messages/read", handleMarkRead(d.Messages))
		authed.Get("/conversations", handleListConversations(d.Messages))

		// Payments; the gateway callback is unauthenticated.
		authed.Get("/payments", handleListPayments(d.Payments))
		authed.Get("/payments/", handleListPayments(d.Payments))
		authed.Post("/payments/initiate", handleInitiatePayment(d.Payments))
		r.Post("/payments/callback", handlePaymentCallback(d.Payments))
		r.Post("/payments/callback/", handlePaymentCallback(d.Payments))
		authed.Post("/payments/simulate-success", handleSimulateSuccess(d.Payments))
		authed.Post("/payments/simulate-success/", handleSimulateSuccess(d.Payments))
		authed.Get("/payments/{paymentID}", handleGetPayment(d.Payments))

		authed.Post("/uploads", handleUpload(d.Config.UploadDir))
		r.Get("/uploads/{filename}", handleServeUpload(d.Config.UploadDir))

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireUser)
			r.Route("/listings", func(r chi.Router) {
				r.Get("/", handleAdminListings(d.Listings))
				r.Get("/pending", handlePendingListings(d.Listings))
				r.Post("/bulk-delete", handleBulkDeleteListings(d.Listings))
				r.Post("/{listingID}/approve", handleApproveListing(d.Listings))
				r.Post("/{listingID}/reject", handleRejectListing(d.Listings))
				r.Post("/{listingID}/change-status", handleChangeListingStatus(d.Listings))
			})
			r.Route("/messages", func(r chi.Router) {
				r.Get("/", handleModerationMessages(d.Messages))
				r.Post("/delete-conversation", handleDeleteConversation(d.Messages))
				r.Post("/{messageID}/flag", handleFlagMessage(d.Messages))
				r.Post("/{messageID}/unflag", handleUnflagMessage(d.Messages))
				r.Delete("/{messageID}", handleDeleteMessage(d.Messages))
			})
			r.Route("/blocks", func(r chi.Router) {
				r.Get("/", handleListBlocks(d.Messages))
				r.Post("/", handleBlock(d.Messages))
				r.Post("/remove", handleUnblock(d.Messages))
			})
		})
	})

	// WebSocket endpoints authenticate themselves before upgrading and
	// live outside the request timeout.
	r.Route("/ws", func(r chi.Router) {
		r.Get("/chat/{listingID}", d.WS.Chat())
		r.Get("/payments/{paymentID}", d.WS.Payment())
		r.Get("/user-payments", d.WS.UserPayments())
		r.Get("/user-payments/{userID}", d.WS.UserPayments())
		r.Get("/favorites-cleanup", d.WS.FavoritesCleanup())
		r.Get("/listing-status", d.WS.ListingStatus())
		r.Get("/listing-status/{userID}", d.WS.ListingStatus())
	})

	return r
}

func handleHealth(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
