package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/storefront/authguard"
	"github.com/storefront/authguard/metrics/export/prometheus"
	"github.com/storefront/authguard/middleware"
)

// NewRouter mounts the passcode API behind the request pipeline. Health and
// metrics routes sit outside it.
func NewRouter(engine *authguard.Engine) *chi.Mux {
	h := NewHandler(engine)
	pipeline := authguard.NewPipeline(
		authguard.ClientIDFilter(),
		engine.RateLimitFilter(),
	)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", prometheus.NewPrometheusExporter(engine).Handler())

	r.Route("/v1/otp", func(r chi.Router) {
		r.Use(middleware.Guard(pipeline))
		r.Post("/issue", h.HandleIssue)
		r.Post("/resend", h.HandleResend)
		r.Post("/verify", h.HandleVerify)
		r.Get("/status", h.HandleStatus)
	})

	return r
}
