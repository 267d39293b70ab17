// Package httpapi is the HTTP surface of the back office: authentication and
// session flows, tenant/user/role administration, the phonebook, tenant
// credit and the live event stream.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"smspanel.org/internal/auth"
	"smspanel.org/internal/credit"
	"smspanel.org/internal/obs"
	"smspanel.org/internal/phonebook"
	"smspanel.org/internal/stream"
)

// ReadyProbe checks backing stores for the readiness endpoint.
type ReadyProbe struct {
	DB   *sql.DB
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Ping != nil {
		return rp.Ping(ctx)
	}
	return nil
}

// Config carries the services the API serves.
type Config struct {
	Auth      *auth.Service
	Admin     *auth.Admin
	Credit    *credit.Service
	Phonebook *phonebook.Service
	Stream    *stream.Stream
	Ready     ReadyProbe
	Version   string
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	auth      *auth.Service
	admin     *auth.Admin
	credit    *credit.Service
	phonebook *phonebook.Service
	stream    *stream.Stream
	ready     ReadyProbe
	version   string
}

func New(cfg Config) *API {
	a := &API{
		mux:       http.NewServeMux(),
		auth:      cfg.Auth,
		admin:     cfg.Admin,
		credit:    cfg.Credit,
		phonebook: cfg.Phonebook,
		stream:    cfg.Stream,
		ready:     cfg.Ready,
		version:   cfg.Version,
	}

	// health/ready
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication and session lifecycle
	a.mux.HandleFunc("/api/v1/auth/", a.handleAuth)

	// administration
	a.mux.HandleFunc("/api/v1/tenants", a.handleTenantsCollection)
	a.mux.HandleFunc("/api/v1/tenants/", a.handleTenantResource)
	a.mux.HandleFunc("/api/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/api/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/api/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/api/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/api/v1/permissions", a.handlePermissions)

	// phonebook
	a.mux.HandleFunc("/api/v1/contacts", a.handleContactsCollection)
	a.mux.HandleFunc("/api/v1/contacts/", a.handleContactResource)
	a.mux.HandleFunc("/api/v1/contact-groups", a.handleGroupsCollection)
	a.mux.HandleFunc("/api/v1/contact-groups/", a.handleGroupResource)
	a.mux.HandleFunc("/api/v1/blacklist", a.handleBlacklistCollection)
	a.mux.HandleFunc("/api/v1/blacklist/", a.handleBlacklistResource)

	// live security events (SSE)
	a.mux.HandleFunc("/api/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RequestID(h)
	h = Logging(h)
	h = RateLimit(h, 50, 25)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "smspanel-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
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

// handleAuthError maps the auth error taxonomy onto HTTP statuses. Credential
// failures stay 401 without detail.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidRefreshToken), errors.Is(err, auth.ErrInvalidAPIKey),
		errors.Is(err, auth.ErrInvalidTwoFactorCode):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrTwoFactorNotEnabled):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrSessionExpired),
		errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrProfileNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handlePhonebookError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, phonebook.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, phonebook.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, phonebook.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleCreditError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, credit.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, credit.ErrInsufficientCredit):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, credit.ErrTenantNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
