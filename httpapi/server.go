package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/circuit"
	"github.com/sovereign-gateway/scri/config"
	"github.com/sovereign-gateway/scri/heal"
	"github.com/sovereign-gateway/scri/health"
	"github.com/sovereign-gateway/scri/metrics"
	"github.com/sovereign-gateway/scri/provider"
	"github.com/sovereign-gateway/scri/reload"
	"github.com/sovereign-gateway/scri/router"
)

// Deps bundles every component the HTTP surface dispatches onto. All
// fields are required except Heal and Metrics: no handler dispatches onto
// Heal, and handlers skip metrics recording when Metrics is nil.
type Deps struct {
	Config   *config.Config
	Registry *provider.Registry
	Router   *router.Router
	Breakers *circuit.Registry
	Health   *health.Monitor
	Reload   *reload.Manager
	Heal     *heal.Worker
	Metrics  *metrics.Sink
	Logger   *zap.Logger
}

// NewMux builds the full /api/v1 route table plus the unauthenticated
// top-level health/ready probes, wrapped in the middleware chain.
func NewMux(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{d: d, logger: logger, tracer: metrics.NewTracer()}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleLiveness)
	mux.HandleFunc("GET /readyz", h.handleLiveness)

	mux.HandleFunc("POST /api/v1/chat", h.handleChat)
	mux.HandleFunc("POST /api/v1/chat/stream", h.handleChatStream)
	mux.HandleFunc("POST /api/v1/embed", h.handleEmbed)
	mux.HandleFunc("GET /api/v1/models", h.handleModels)
	mux.HandleFunc("GET /api/v1/health", h.handleHealth)
	mux.HandleFunc("GET /api/v1/healing/status", h.handleHealingStatus)
	mux.HandleFunc("POST /api/v1/healing/pause/{provider}", h.handleHealingPause)
	mux.HandleFunc("POST /api/v1/healing/resume/{provider}", h.handleHealingResume)
	mux.HandleFunc("GET /api/v1/fixes/pending", h.handleFixesPending)
	mux.HandleFunc("POST /api/v1/fixes/{provider}/approve", h.handleFixApprove)
	mux.HandleFunc("POST /api/v1/fixes/{provider}/reject", h.handleFixReject)
	mux.HandleFunc("GET /api/v1/fixes/{provider}/history", h.handleFixHistory)
	mux.HandleFunc("POST /api/v1/fixes/{provider}/rollback/{version}", h.handleFixRollback)
	mux.HandleFunc("POST /api/v1/circuit/{provider}/{action}", h.handleCircuit)
	mux.HandleFunc("GET /api/v1/metrics", h.handleMetrics)
	mux.HandleFunc("GET /api/v1/dashboard", h.handleDashboard)

	mux.Handle("GET /metrics", promhttp.Handler())

	skipAuthPaths := []string{"/healthz", "/readyz", "/metrics"}
	return Chain(mux,
		Recovery(logger),
		RequestID(),
		RequestLogger(logger),
		SecurityHeaders(),
		CORS(d.Config.Server.CORSOrigins),
		RateLimiter(10, 20, logger),
		APIKeyAuth(d.Config.Server.APIKeys, skipAuthPaths, logger),
	)
}

func (h *handlers) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
