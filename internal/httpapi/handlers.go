// v2
// internal/httpapi/handlers.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Rlpzx/auto-riego/internal/auth"
	"github.com/Rlpzx/auto-riego/internal/bus"
	"github.com/Rlpzx/auto-riego/internal/control"
	"github.com/Rlpzx/auto-riego/internal/zone"
)

const maxBodyBytes = 1 << 20

// Narrow views of the collaborators, so tests can substitute fakes.
type ingester interface {
	Ingest(ctx context.Context, zoneID string, r zone.Reading) (control.Result, error)
}

type applier interface {
	Apply(ctx context.Context, zoneID, action string, p control.Principal) (zone.State, error)
}

type stateReader interface {
	Get(ctx context.Context, zoneID string) (zone.State, error)
	All(ctx context.Context) (map[string]zone.State, error)
}

type credentialVerifier interface {
	Verify(username, password string) (auth.Operator, error)
}

type sessionTokens interface {
	Issue(op auth.Operator) (string, time.Time, error)
	Verify(token string) (auth.Claims, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Handlers carries the API's collaborators. The HTTP layer only translates:
// decisions stay in the control package, credentials in auth.
type Handlers struct {
	Log         *slog.Logger
	Zones       map[string]zone.Config
	Reader      stateReader
	Coordinator ingester
	Gateway     applier
	Operators   credentialVerifier
	Tokens      sessionTokens
	Hub         *bus.Hub
	DeviceKey   string
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

type valveRequest struct {
	Action string `json:"action"`
}

// zoneView is what the dashboard endpoints return per zone.
type zoneView struct {
	Config zone.Config `json:"config"`
	State  zone.State  `json:"state"`
}

// Login exchanges operator credentials for a session token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	op, err := h.Operators.Verify(req.Username, req.Password)
	if err != nil {
		h.Log.Warn("login_rejected", slog.String("username", req.Username))
		writeError(w, http.StatusUnauthorized, "bad credentials")
		return
	}
	token, expiresAt, err := h.Tokens.Issue(op)
	if err != nil {
		h.Log.Error("token_issue_err", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	h.Log.Info("login_ok", slog.String("username", op.Username))
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt.UTC().Format(time.RFC3339)})
}

// PostReading is the device ingress: one reading in, the valve decision and
// advisories out. Sits behind the API-key gate.
func (h *Handlers) PostReading(w http.ResponseWriter, r *http.Request) {
	zoneID := mux.Vars(r)["zone"]
	var reading zone.Reading
	if err := decodeJSON(w, r, &reading); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	res, err := h.Coordinator.Ingest(r.Context(), zoneID, reading)
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PostValve applies a manual valve command on behalf of the authenticated
// operator. Sits behind the bearer-token gate.
func (h *Handlers) PostValve(w http.ResponseWriter, r *http.Request) {
	zoneID := mux.Vars(r)["zone"]
	if _, ok := h.Zones[zoneID]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown zone %q", zoneID))
		return
	}
	var req valveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	st, err := h.Gateway.Apply(r.Context(), zoneID, req.Action, principalFrom(r.Context()))
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListZones returns every configured zone with its config and latest state.
func (h *Handlers) ListZones(w http.ResponseWriter, r *http.Request) {
	states, err := h.Reader.All(r.Context())
	if err != nil {
		h.Log.Error("zones_read_err", slog.Any("err", err))
		writeError(w, http.StatusServiceUnavailable, "zone state unavailable")
		return
	}
	out := make(map[string]zoneView, len(h.Zones))
	for id, cfg := range h.Zones {
		st, ok := states[id]
		if !ok {
			st = zone.DefaultState()
		}
		out[id] = zoneView{Config: cfg, State: st}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetZone returns one zone's config and latest state.
func (h *Handlers) GetZone(w http.ResponseWriter, r *http.Request) {
	zoneID := mux.Vars(r)["zone"]
	cfg, ok := h.Zones[zoneID]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown zone %q", zoneID))
		return
	}
	st, err := h.Reader.Get(r.Context(), zoneID)
	if err != nil {
		h.Log.Error("zone_read_err", slog.String("zone", zoneID), slog.Any("err", err))
		writeError(w, http.StatusServiceUnavailable, "zone state unavailable")
		return
	}
	writeJSON(w, http.StatusOK, zoneView{Config: cfg, State: st})
}

// Healthz reports liveness plus a store ping where the backend has one.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Reader.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "zones": len(h.Zones)})
}

// writeControlError maps the control taxonomy onto response codes.
func (h *Handlers) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, control.ErrUnknownZone):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, control.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, control.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, control.ErrStorage), errors.Is(err, control.ErrClosed):
		h.Log.Error("control_unavailable", slog.Any("err", err))
		writeError(w, http.StatusServiceUnavailable, "state storage unavailable")
	default:
		h.Log.Error("control_err", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
