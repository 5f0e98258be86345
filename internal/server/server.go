package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/catalog"
	"github.com/reelhouse/reelhouse/internal/coins"
	"github.com/reelhouse/reelhouse/internal/comment"
	"github.com/reelhouse/reelhouse/internal/database"
	"github.com/reelhouse/reelhouse/internal/geoip"
	"github.com/reelhouse/reelhouse/internal/history"
	"github.com/reelhouse/reelhouse/internal/httputil"
	"github.com/reelhouse/reelhouse/internal/notify"
	"github.com/reelhouse/reelhouse/internal/ratelimit"
	"github.com/reelhouse/reelhouse/internal/storage"
	"github.com/reelhouse/reelhouse/internal/unlock"
	"github.com/reelhouse/reelhouse/internal/validate"
	"github.com/reelhouse/reelhouse/internal/watchlist"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB           database.DBTX
	Pinger       Pinger
	Storage      *storage.Storage
	Geo          *geoip.Resolver
	JWTSecret    string
	BaseURL      string
	CreditSecret string
	SignupBonus  int
}

type Server struct {
	router           chi.Router
	pinger           Pinger
	jwtSecret        string
	authHandler      *auth.Handler
	catalogHandler   *catalog.Handler
	historyHandler   *history.Handler
	watchlistHandler *watchlist.Handler
	coinsHandler     *coins.Handler
	unlockHandler    *unlock.Handler
	commentHandler   *comment.Handler
	notifyHandler    *notify.Handler
	bus              *notify.Bus
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(cfg.BaseURL))

	s := &Server{router: r, pinger: cfg.Pinger, bus: notify.NewBus()}

	if cfg.DB != nil {
		jwtSecret := cfg.JWTSecret
		if jwtSecret == "" {
			log.Fatal("JWT_SECRET is required; set the environment variable")
		}
		s.jwtSecret = jwtSecret

		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}

		secureCookies := strings.HasPrefix(baseURL, "https://")
		s.authHandler = auth.NewHandler(cfg.DB, jwtSecret, secureCookies)
		s.authHandler.SetSignupBonus(cfg.SignupBonus)
		s.catalogHandler = catalog.NewHandler(cfg.DB, cfg.Storage, cfg.Geo, jwtSecret)
		s.historyHandler = history.NewHandler(cfg.DB)
		s.watchlistHandler = watchlist.NewHandler(cfg.DB)
		s.coinsHandler = coins.NewHandler(cfg.DB, s.bus)
		s.coinsHandler.SetCreditSecret(cfg.CreditSecret)
		s.unlockHandler = unlock.NewHandler(cfg.DB, s.bus)
		s.commentHandler = comment.NewHandler(cfg.DB)
		s.notifyHandler = notify.NewHandler(s.bus)
	}

	s.routes()
	return s
}

// AuthHandler exposes the auth handler so main can configure OAuth after the
// OIDC provider has been reached.
func (s *Server) AuthHandler() *auth.Handler {
	return s.authHandler
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/limits", handleLimits)

	if s.authHandler == nil {
		return
	}

	authLimiter := ratelimit.NewLimiter(0.5, 5)
	s.router.Route("/api/auth", func(r chi.Router) {
		r.Use(authLimiter.Middleware)
		r.Post("/register", s.authHandler.Register)
		r.Post("/login", s.authHandler.Login)
		r.Post("/refresh", s.authHandler.Refresh)
		r.Post("/logout", s.authHandler.Logout)
		r.With(s.authHandler.Middleware).Post("/password", s.authHandler.UpdatePassword)
		r.Get("/oauth/login", s.authHandler.OAuthLogin)
		r.Get("/oauth/callback", s.authHandler.OAuthCallback)
	})

	// Spending money gets a tighter, per-user budget than browsing.
	spendLimiter := ratelimit.NewLimiter(2, 10).KeyByUser(s.jwtSecret)

	s.router.Route("/api/movies", func(r chi.Router) {
		r.Get("/", s.catalogHandler.List)
		r.Get("/{id}", s.catalogHandler.Detail)
		r.Get("/{id}/playback", s.catalogHandler.Playback)
		r.Get("/{id}/comments", s.commentHandler.List)

		r.Group(func(r chi.Router) {
			r.Use(s.authHandler.Middleware)
			r.Post("/{id}/comments", s.commentHandler.Create)
			r.Patch("/{id}/comments/{commentID}", s.commentHandler.Update)
			r.Delete("/{id}/comments/{commentID}", s.commentHandler.Delete)
			r.With(spendLimiter.Middleware).Post("/{id}/unlock", s.unlockHandler.Unlock)
		})
	})

	s.router.Route("/api/coins", func(r chi.Router) {
		r.Get("/packs", s.coinsHandler.ListPacks)
		// Signed callback from the payment side; no user session involved.
		r.Post("/add", s.coinsHandler.Credit)

		r.Group(func(r chi.Router) {
			r.Use(s.authHandler.Middleware)
			r.Get("/", s.coinsHandler.GetBalance)
			r.Get("/afford", s.coinsHandler.Afford)
			r.Get("/transactions", s.coinsHandler.ListTransactions)
			r.Post("/packs/{id}/checkout", s.coinsHandler.Checkout)
			r.With(spendLimiter.Middleware).Post("/spend", s.coinsHandler.Spend)
		})
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.authHandler.Middleware)

		r.Get("/api/unlocks", s.unlockHandler.List)

		r.Put("/api/history/{id}", s.historyHandler.Upsert)
		r.Get("/api/history", s.historyHandler.List)
		r.Delete("/api/history/{id}", s.historyHandler.Delete)

		r.Post("/api/watchlist", s.watchlistHandler.Add)
		r.Get("/api/watchlist", s.watchlistHandler.List)
		r.Get("/api/watchlist/ids", s.watchlistHandler.ListIDs)
		r.Get("/api/watchlist/categories", s.watchlistHandler.ListCategories)
		r.Post("/api/watchlist/categories", s.watchlistHandler.CreateCategory)
		r.Patch("/api/watchlist/categories/{id}", s.watchlistHandler.UpdateCategory)
		r.Delete("/api/watchlist/categories/{id}", s.watchlistHandler.DeleteCategory)
		r.Delete("/api/watchlist/{id}", s.watchlistHandler.Remove)
		r.Patch("/api/watchlist/{id}", s.watchlistHandler.AssignCategory)

		r.Get("/api/notifications", s.notifyHandler.List)
		r.Delete("/api/notifications/{id}", s.notifyHandler.Dismiss)
		r.Get("/api/notifications/stream", s.notifyHandler.Stream)
	})
}

// handleLimits publishes text field limits so clients can validate before
// submitting.
func handleLimits(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, validate.FieldLimits())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
