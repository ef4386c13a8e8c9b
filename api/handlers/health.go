package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/reviewflow/internal/cache"
)

// checkTimeout bounds one dependency probe.
const checkTimeout = 3 * time.Second

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db      *gorm.DB
	cache   *cache.Manager
	version string
	logger  *zap.Logger
}

// NewHealthHandler creates the health handler. cache may be nil when
// redis is disabled.
func NewHealthHandler(db *gorm.DB, cacheManager *cache.Manager, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		cache:   cacheManager,
		version: version,
		logger:  logger.With(zap.String("component", "health_handler")),
	}
}

// Register mounts the probe routes on mux.
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
}

// HealthStatus is the probe response payload.
type HealthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health. Liveness never touches dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:  "ok",
		Version: h.version,
	})
}

// Ready handles GET /ready: the service is ready when every configured
// dependency answers.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if err := h.checkDB(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := HealthStatus{Status: "ok", Version: h.version, Checks: checks}
	code := http.StatusOK
	if !healthy {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
		h.logger.Warn("readiness check failed", zap.Any("checks", checks))
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) checkDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
