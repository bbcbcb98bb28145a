package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/soc-response-gateway/internal/console/handler"
	"github.com/xela07ax/soc-response-gateway/internal/engine"
	"github.com/xela07ax/soc-response-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

// ConsoleServer — HTTP-поверхность шлюза: команды реагирования, журнал
// аудита, инциденты, справочник целей.
type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка RS256-токенов операторов
	authValidator auth.TokenValidator

	authHandler     *handler.AuthHandler     // /auth/token
	respondHandler  *handler.RespondHandler  // /v1/respond/{action}
	auditHandler    *handler.AuditHandler    // /v1/audit
	incidentHandler *handler.IncidentHandler // /v1/incidents
	targetHandler   *handler.TargetHandler   // /v1/targets, /v1/config/reload
}

// NewConsoleServer инициализирует сервер со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	respondH *handler.RespondHandler,
	auditH *handler.AuditHandler,
	incidentH *handler.IncidentHandler,
	targetH *handler.TargetHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		authValidator:   validator,
		authHandler:     authH,
		respondHandler:  respondH,
		auditHandler:    auditH,
		incidentHandler: incidentH,
		targetHandler:   targetH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Командная поверхность: действия реагирования
		r.Post("/v1/respond/{action}", s.respondHandler.Execute)

		// Журнал аудита (append-only, только чтение)
		r.Route("/v1/audit", func(r chi.Router) {
			r.Get("/", s.auditHandler.GetEntries)
			r.Get("/summary", s.auditHandler.GetSummary)
		})

		// Инциденты (volatile, в памяти процесса)
		r.Route("/v1/incidents", func(r chi.Router) {
			r.Get("/", s.incidentHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.incidentHandler.Get)
				r.Post("/notes", s.incidentHandler.AddNote)
				r.Post("/close", s.incidentHandler.Close)
			})
		})

		// Справочник целей и состояние изоляции
		r.Route("/v1/targets", func(r chi.Router) {
			r.Get("/", s.targetHandler.List)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.targetHandler.Get)
				r.Get("/isolation", s.targetHandler.Isolation)
			})
		})

		// Атомарная перезагрузка снапшотов конфигурации
		r.Post("/v1/config/reload", s.targetHandler.Reload)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
