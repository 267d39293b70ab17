package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"smspanel.org/internal/audit"
	"smspanel.org/internal/auth"
	"smspanel.org/internal/obs"
	"smspanel.org/internal/stream"
)

type registerRequest struct {
	TenantID    string `json:"tenantId"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
}

type loginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

type refreshRequest struct {
	SessionID    string `json:"sessionId"`
	RefreshToken string `json:"refreshToken"`
}

type verifyTwoFactorRequest struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Type      string `json:"type"`
}

type sendTwoFactorRequest struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

type emailVerificationRequest struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
}

type verifyEmailRequest struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

type apiKeyRequest struct {
	APIKey string `json:"apiKey"`
}

func (a *API) handleAuth(w http.ResponseWriter, r *http.Request) {
	op := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/auth/"), "/")

	// Session listing is the only GET in the group.
	if op == "sessions" {
		a.listSessions(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	switch op {
	case "register":
		a.register(w, r)
	case "login":
		a.login(w, r)
	case "refresh-token":
		a.refreshToken(w, r)
	case "verify-2fa":
		a.verifyTwoFactor(w, r)
	case "send-2fa-code":
		a.sendTwoFactorCode(w, r)
	case "logout":
		a.logout(w, r)
	case "revoke-sessions":
		a.revokeSessions(w, r)
	case "setup-google-auth":
		a.setupGoogleAuth(w, r)
	case "disable-google-auth":
		a.disableGoogleAuth(w, r)
	case "send-email-verification":
		a.sendEmailVerification(w, r)
	case "verify-email":
		a.verifyEmail(w, r)
	case "generate-api-key":
		a.generateAPIKey(w, r)
	case "validate-api-key":
		a.validateAPIKey(w, r)
	case "revoke-api-key":
		a.revokeAPIKey(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.Register(r.Context(), auth.RegisterInput{
		TenantID:    req.TenantID,
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.user.register", map[string]any{
		"user_id":   user.ID,
		"tenant_id": user.TenantID,
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ip := clientIP(r)
	result, err := a.auth.Login(r.Context(), req.Identity, req.Password, ip, r.UserAgent())
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			obs.ObserveLogin("denied")
			a.publish(stream.Event{Type: stream.EventLoginFailed, IPAddress: ip})
		} else {
			obs.ObserveLogin("error")
		}
		handleAuthError(w, r, err)
		return
	}

	obs.ObserveLogin("ok")
	obs.ObserveSessionCreated()
	a.publish(stream.Event{
		Type:      stream.EventLogin,
		SessionID: result.SessionID,
		IPAddress: ip,
	})
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"session_id":   result.SessionID,
		"requires_2fa": result.Requires2FA,
	})
	writeJSON(w, http.StatusOK, result)
}

func (a *API) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.auth.Refresh(r.Context(), req.SessionID, req.RefreshToken)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyTwoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.auth.VerifyTwoFactor(r.Context(), req.SessionID, req.Code, auth.TwoFactorType(req.Type))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidTwoFactorCode) {
			obs.ObserveTwoFactorFailure()
			a.publish(stream.Event{Type: stream.EventTwoFactorFail, SessionID: req.SessionID})
		}
		handleAuthError(w, r, err)
		return
	}
	a.publish(stream.Event{Type: stream.EventTwoFactorOK, SessionID: req.SessionID})
	_ = audit.LogEvent(r.Context(), "auth.2fa.verified", map[string]any{
		"session_id": req.SessionID,
		"type":       req.Type,
	})
	writeJSON(w, http.StatusOK, result)
}

func (a *API) sendTwoFactorCode(w http.ResponseWriter, r *http.Request) {
	var req sendTwoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.SendTwoFactorCode(r.Context(), req.SessionID, auth.TwoFactorType(req.Type)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := a.auth.Logout(r.Context(), req.SessionID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if removed {
		a.publish(stream.Event{Type: stream.EventLogout, SessionID: req.SessionID})
		_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"session_id": req.SessionID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	sessions, err := a.auth.ListSessions(r.Context(), principal.User.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sessions})
}

func (a *API) revokeSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.auth.RevokeUserSessions(r.Context(), principal.User.ID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.publish(stream.Event{
		Type:     stream.EventSessionRevoked,
		UserID:   principal.User.ID,
		TenantID: principal.User.TenantID,
	})
	_ = audit.LogEvent(r.Context(), "auth.sessions.revoke_all", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setupGoogleAuth(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	secret, uri, err := a.auth.SetupGoogleAuth(r.Context(), principal.User.ID, principal.User.Email)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.google_auth.setup", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":          secret,
		"provisioningUri": uri,
	})
}

func (a *API) disableGoogleAuth(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.auth.DisableGoogleAuth(r.Context(), principal.User.ID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.google_auth.disable", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) sendEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req emailVerificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.SendEmailVerification(r.Context(), req.SessionID, req.Email); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	verified, err := a.auth.VerifyEmail(r.Context(), req.SessionID, req.Token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": verified})
}

func (a *API) generateAPIKey(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	key, err := a.auth.GenerateAPIKey(r.Context(), principal.User.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.api_key.generate", nil)
	writeJSON(w, http.StatusOK, map[string]any{"apiKey": key})
}

func (a *API) validateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.auth.ValidateAPIKey(r.Context(), req.APIKey)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	revoked, err := a.auth.RevokeAPIKey(r.Context(), req.APIKey)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

func (a *API) publish(evt stream.Event) {
	if a.stream != nil {
		a.stream.Publish(evt)
	}
}
