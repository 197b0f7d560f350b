package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

type HealthHandler struct {
	Started time.Time
	Version string
	Store   store.Store
	Keys    *jwtx.KeySet
}

func (h *HealthHandler) report(status string, checks *authsdk.HealthChecks) authsdk.HealthResponse {
	return authsdk.HealthResponse{
		Status:  status,
		Uptime:  time.Since(h.Started).Round(time.Second).String(),
		Version: h.Version,
		Checks:  checks,
	}
}

// HandleLive godoc
//
//	@Summary		Liveness probe
//	@Description	Always 200 while the process is serving
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse
//	@Router			/livez [get].
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.report("ok", nil))
}

// HandleReady godoc
//
//	@Summary		Readiness probe
//	@Description	Checks the database and that a bearer signing key is loaded
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse
//	@Failure		503	{object}	authsdk.HealthResponse
//	@Router			/readyz [get].
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	checks := &authsdk.HealthChecks{Database: "ok", Signer: "ok"}
	ready := true

	if err := h.Store.Ping(r.Context()); err != nil {
		slogx.FromContext(r.Context()).Error("readiness: database unreachable", "error", err)
		checks.Database = "error"
		ready = false
	}
	if h.Keys.Len() == 0 {
		checks.Signer = "error: no signing key"
		ready = false
	}

	if !ready {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, h.report("degraded", checks))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.report("ok", checks))
}
