package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"qonaq.org/internal/kv"
	"qonaq.org/internal/obs"
	"qonaq.org/internal/session"
	"qonaq.org/internal/stream"
)

// ReadyProbe — простая проверка готовности (ping backing store).
type ReadyProbe struct {
	Store kv.Store
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// AdminGate holds the fixed admin credential. It is a compatibility shim,
// not a security boundary; token issuance just makes the admin views
// reachable from plain HTTP clients.
type AdminGate struct {
	User     string
	Password string
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	sessions   *session.Service
	stream     *stream.Stream
	gate       AdminGate

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, sessions *session.Service, str *stream.Stream, gate AdminGate) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		sessions:   sessions,
		stream:     str,
		gate:       gate,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// session lifecycle
	a.mux.HandleFunc("/v1/sessions/start", a.handleStart)
	a.mux.HandleFunc("/v1/sessions/confirm", a.handleConfirm)
	a.mux.HandleFunc("/v1/sessions/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/status/user", a.handleUserStatus)

	// admin gate and views
	a.mux.HandleFunc("/v1/admin/login", a.handleAdminLogin)
	admin := RequireRole("admin")
	a.mux.Handle("/v1/admin/users", admin(http.HandlerFunc(a.handleAdminUsers)))
	a.mux.Handle("/v1/admin/logs", admin(http.HandlerFunc(a.handleAdminLogs)))
	a.mux.Handle("/v1/admin/cache", admin(http.HandlerFunc(a.handleAdminCache)))
	a.mux.Handle("/v1/admin/stream", admin(http.HandlerFunc(a.Stream)))

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// корень — 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler возвращает http.Handler для сервера (со всей цепочкой middleware).
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = Authenticate(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "qonaq-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "qonaq-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
