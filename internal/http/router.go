package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/urbanbyte/portaria/internal/aviso"
	"github.com/urbanbyte/portaria/internal/config"
	"github.com/urbanbyte/portaria/internal/events"
	httpmiddleware "github.com/urbanbyte/portaria/internal/http/middleware"
	"github.com/urbanbyte/portaria/internal/repo"
	"github.com/urbanbyte/portaria/internal/service"
	"github.com/urbanbyte/portaria/internal/visitante"
)

// Handler concentra dependências das rotas.
type Handler struct {
	cfg           *config.Config
	pool          *pgxpool.Pool
	redis         *redis.Client
	authService   *service.AuthService
	papeis        *service.PapelService
	webauthn      *webauthn.WebAuthn
	publicLimiter *httpmiddleware.RateLimiter
	authLimiter   *httpmiddleware.RateLimiter
	devCookies    bool
}

// NewRouter devolve roteador configurado e o serviço de visitantes,
// cujo invalidador de cache roda em goroutine própria no main.
func NewRouter(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, authService *service.AuthService, papeis *service.PapelService, bus *events.Bus, ponte *events.Ponte) (http.Handler, *visitante.Service, error) {
	devCookies := false
	for _, origin := range cfg.AllowOrigins {
		if strings.Contains(origin, "localhost") {
			devCookies = true
			break
		}
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthnRPName,
		RPID:          cfg.WebAuthnRPID,
		RPOrigins:     []string{cfg.WebAuthnRPOrigin},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("webauthn: %w", err)
	}

	h := &Handler{
		cfg:           cfg,
		pool:          pool,
		redis:         redisClient,
		authService:   authService,
		papeis:        papeis,
		webauthn:      wa,
		publicLimiter: httpmiddleware.NewRateLimiter(cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst),
		authLimiter:   httpmiddleware.NewRateLimiter(cfg.RateLimitAuth.RequestsPerSecond, cfg.RateLimitAuth.Burst),
		devCookies:    devCookies,
	}

	queries := repo.New(pool)

	visitanteRepo := visitante.NewRepository(pool)
	visitanteService := visitante.NewService(visitanteRepo, redisClient, ponte, bus)
	visitanteResolver := visitante.NewResolver(papeis, queries)
	visitanteHandler := visitante.NewHandler(visitanteService, visitanteResolver)

	avisoRepo := aviso.NewRepository(pool)
	avisoService := aviso.NewService(avisoRepo, redisClient, ponte)
	avisoHandler := aviso.NewHandler(avisoService, papeis)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.Logging)
	r.Use(httpmiddleware.Recover)
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))

	r.Group(func(public chi.Router) {
		public.Use(httpmiddleware.IPRateLimit(h.publicLimiter))

		public.Get("/health", h.Health)
		public.Get("/ready", h.Ready)

		public.Route("/auth", func(auth chi.Router) {
			auth.Post("/login", h.Login)
			auth.Post("/passkey/login/start", h.PasskeyLoginStart)
			auth.Post("/passkey/login/finish", h.PasskeyLoginFinish)
			auth.Post("/refresh", h.Refresh)
			auth.Post("/logout", h.Logout)
			auth.Post("/intencao", h.Intencao)
		})
	})

	r.Group(func(private chi.Router) {
		private.Use(httpmiddleware.Auth(authService.JWT()))
		private.Use(httpmiddleware.UserRateLimit(h.authLimiter))

		private.Get("/me", h.Me)
		private.Put("/me/perfil", h.UpdatePerfil)
		private.Route("/auth/passkey/register", func(r chi.Router) {
			r.Post("/start", h.PasskeyRegisterStart)
			r.Post("/finish", h.PasskeyRegisterFinish)
		})

		visitante.Mount(private, visitanteHandler)
		aviso.Mount(private, avisoHandler)

		private.Group(func(admin chi.Router) {
			admin.Use(httpmiddleware.RequirePapel(repo.PapelSindico))
			admin.Route("/papeis", func(p chi.Router) {
				p.Get("/perfis", h.ListPerfis)
				p.Get("/{usuarioID}", h.ListPapeis)
				p.Post("/{usuarioID}", h.AtribuirPapel)
				p.Delete("/{usuarioID}/{papel}", h.RemoverPapel)
			})
		})
	})

	return r, visitanteService, nil
}
