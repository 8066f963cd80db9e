package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/CaioWing/Fiscus/internal/api/docs"
	"github.com/CaioWing/Fiscus/internal/api/management"
	"github.com/CaioWing/Fiscus/internal/api/middleware"
	"github.com/CaioWing/Fiscus/internal/api/response"
	"github.com/CaioWing/Fiscus/internal/auth"
	"github.com/CaioWing/Fiscus/internal/service"
)

type RouterDeps struct {
	DeviceSvc    *service.DeviceService
	Orchestrator *service.Orchestrator
	AuditSvc     *service.AuditService
	JWTManager   *auth.JWTManager
	// Metrics is shared with the orchestrator, which reports action outcomes to it.
	Metrics        *middleware.Metrics
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	metrics := deps.Metrics
	if metrics == nil {
		metrics = middleware.NewMetrics()
	}

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(metrics.Middleware())

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", metrics.Handler())
	r.Handle("/docs/*", http.StripPrefix("/docs/", docs.Handler()))

	deviceHandler := management.NewDeviceHandler(deps.DeviceSvc)
	fiscalHandler := management.NewFiscalHandler(deps.Orchestrator)
	auditHandler := management.NewAuditHandler(deps.AuditSvc)

	rps, burst := deps.RateLimitRPS, deps.RateLimitBurst
	if rps <= 0 {
		rps, burst = 30, 60
	}

	r.Route("/api/v1/management", func(r chi.Router) {
		r.Use(middleware.RateLimit(rps, burst))
		r.Use(middleware.ManagementAuth(deps.JWTManager))
		r.Use(middleware.AuditLog(deps.AuditSvc))

		r.Get("/companies/{companyID}/devices", deviceHandler.List)
		r.Post("/companies/{companyID}/devices", deviceHandler.Create)

		r.Route("/devices/{id}", func(r chi.Router) {
			r.Use(deviceHandler.Authorize)

			r.Get("/", deviceHandler.Get)
			r.Patch("/", deviceHandler.Update)
			r.Delete("/", deviceHandler.Archive)
			r.Post("/certificate", deviceHandler.UploadCertificate)
			r.Get("/audit", auditHandler.ListForDevice)

			r.Route("/fdms", func(r chi.Router) {
				r.Post("/register", fiscalHandler.Register)
				r.Get("/status", fiscalHandler.Status)
				r.Get("/ping", fiscalHandler.Ping)
				r.Get("/config", fiscalHandler.Config)
				r.Post("/open-day", fiscalHandler.OpenDay)
				r.Post("/close-day", fiscalHandler.CloseDay)
				r.Get("/overview", fiscalHandler.Overview)
			})
		})

		r.Get("/audit", auditHandler.List)
	})

	return r
}
