package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"smspanel.org/internal/audit"
	"smspanel.org/internal/auth"
	"smspanel.org/internal/credit"
)

type createTenantRequest struct {
	Name        string  `json:"name"`
	Domain      string  `json:"domain"`
	Description string  `json:"description"`
	ParentID    *string `json:"parentId"`
}

type updateTenantRequest struct {
	Name        *string `json:"name"`
	Domain      *string `json:"domain"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
	ParentID    *string `json:"parentId"`
}

type createUserRequest struct {
	TenantID  string   `json:"tenantId"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	RoleIDs   []string `json:"roleIds"`
}

type updateUserRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Active    *bool   `json:"active"`
	Password  *string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type updateProfileRequest struct {
	PhoneNumber              *string `json:"phoneNumber"`
	PhoneVerified            *bool   `json:"phoneVerified"`
	SMSVerificationEnabled   *bool   `json:"smsVerificationEnabled"`
	EmailVerificationEnabled *bool   `json:"emailVerificationEnabled"`
}

type createRoleRequest struct {
	TenantID    string   `json:"tenantId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID string `json:"roleId"`
}

type creditMutationRequest struct {
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// resourcePath splits the path after a prefix into the resource id and an
// optional trailing subresource, e.g. /api/v1/users/{id}/roles.
func resourcePath(path, prefix string) (id, rest string) {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if tail == "" {
		return "", ""
	}
	parts := strings.SplitN(tail, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		rest = parts[1]
	}
	return id, rest
}

// --- tenants ---

func (a *API) handleTenantsCollection(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermManageTenants) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		tenants, err := a.admin.ListTenants(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": tenants})
	case http.MethodPost:
		var req createTenantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		tenant, err := a.admin.CreateTenant(r.Context(), auth.CreateTenantInput{
			Name:        req.Name,
			Domain:      req.Domain,
			Description: req.Description,
			ParentID:    req.ParentID,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "tenant.create", map[string]any{"tenant_id": tenant.ID})
		w.Header().Set("Location", "/api/v1/tenants/"+tenant.ID)
		writeJSON(w, http.StatusCreated, tenant)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTenantResource(w http.ResponseWriter, r *http.Request) {
	id, rest := resourcePath(r.URL.Path, "/api/v1/tenants/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		a.tenantByID(w, r, id)
	case "children":
		if !a.ensurePermissions(w, r, auth.PermManageTenants) {
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		children, err := a.admin.ListChildTenants(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": children})
	case "users":
		if !a.ensurePermissions(w, r, auth.PermManageUsers) {
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		users, err := a.admin.ListUsers(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": users})
	case "credit":
		a.tenantCredit(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) tenantByID(w http.ResponseWriter, r *http.Request, id string) {
	if !a.ensurePermissions(w, r, auth.PermManageTenants) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		tenant, err := a.admin.GetTenant(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tenant)
	case http.MethodPatch:
		var req updateTenantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		tenant, err := a.admin.UpdateTenant(r.Context(), id, auth.TenantUpdate{
			Name:        req.Name,
			Domain:      req.Domain,
			Description: req.Description,
			Active:      req.Active,
			ParentID:    req.ParentID,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "tenant.update", map[string]any{"tenant_id": id})
		writeJSON(w, http.StatusOK, tenant)
	case http.MethodDelete:
		if err := a.admin.DeleteTenant(r.Context(), id); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "tenant.delete", map[string]any{"tenant_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) tenantCredit(w http.ResponseWriter, r *http.Request, tenantID string) {
	if a.credit == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.ensurePermissions(w, r, auth.PermManageCredit) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		balance, err := a.credit.Balance(r.Context(), tenantID)
		if err != nil {
			handleCreditError(w, r, err)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		history, err := a.credit.History(r.Context(), tenantID, limit)
		if err != nil {
			handleCreditError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"balance": balance,
			"entries": history,
		})
	case http.MethodPost:
		var req creditMutationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

		var (
			entry *credit.Entry
			err   error
		)
		switch req.Kind {
		case string(credit.KindTopup):
			entry, err = a.credit.Topup(r.Context(), tenantID, req.Amount, req.Reason, idemKey)
		case string(credit.KindCharge):
			entry, err = a.credit.Charge(r.Context(), tenantID, req.Amount, req.Reason, idemKey)
		default:
			writeError(w, r, http.StatusBadRequest, "kind must be topup or charge")
			return
		}
		if err != nil {
			handleCreditError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "credit."+req.Kind, map[string]any{
			"tenant_id": tenantID,
			"amount":    req.Amount,
			"entry_id":  entry.ID,
		})
		writeJSON(w, http.StatusCreated, entry)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// --- users ---

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermManageUsers) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		tenantID := strings.TrimSpace(r.URL.Query().Get("tenantId"))
		if tenantID == "" {
			writeError(w, r, http.StatusBadRequest, "tenantId query parameter is required")
			return
		}
		users, err := a.admin.ListUsers(r.Context(), tenantID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": users})
	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.admin.CreateUser(r.Context(), auth.CreateUserInput{
			TenantID:  req.TenantID,
			Username:  req.Username,
			Email:     req.Email,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			RoleIDs:   req.RoleIDs,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.create", map[string]any{
			"user_id":   user.ID,
			"tenant_id": user.TenantID,
		})
		w.Header().Set("Location", "/api/v1/users/"+user.ID)
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	id, rest := resourcePath(r.URL.Path, "/api/v1/users/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	// Password changes are self-service: the caller proves the current
	// password, so the manage permission is not required on the own account.
	if rest == "password" {
		a.changePassword(w, r, id)
		return
	}

	if !a.ensurePermissions(w, r, auth.PermManageUsers) {
		return
	}
	switch {
	case rest == "":
		a.userByID(w, r, id)
	case rest == "profile":
		a.userProfile(w, r, id)
	case rest == "roles":
		a.userRoles(w, r, id)
	case strings.HasPrefix(rest, "roles/"):
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		roleID := strings.TrimPrefix(rest, "roles/")
		if err := a.admin.RemoveRole(r.Context(), id, roleID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.role.remove", map[string]any{
			"user_id": id,
			"role_id": roleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) userByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		user, err := a.admin.GetUser(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.admin.UpdateUser(r.Context(), id, auth.UserUpdate{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Active:    req.Active,
			Password:  req.Password,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.update", map[string]any{"user_id": id})
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := a.admin.DeleteUser(r.Context(), id); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.delete", map[string]any{"user_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if principal.User.ID != id && !principal.HasPermission(auth.PermManageUsers) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.admin.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.password.change", map[string]any{"user_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) userProfile(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		profile, err := a.admin.GetProfile(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case http.MethodPatch:
		var req updateProfileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		profile, err := a.admin.UpdateProfile(r.Context(), id, auth.ProfileUpdate{
			PhoneNumber:              req.PhoneNumber,
			PhoneVerified:            req.PhoneVerified,
			SMSVerificationEnabled:   req.SMSVerificationEnabled,
			EmailVerificationEnabled: req.EmailVerificationEnabled,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.profile.update", map[string]any{"user_id": id})
		writeJSON(w, http.StatusOK, profile)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) userRoles(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		roles, err := a.admin.UserRoles(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.admin.AssignRole(r.Context(), id, req.RoleID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.role.assign", map[string]any{
			"user_id": id,
			"role_id": req.RoleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// --- roles and permissions ---

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermManageRoles) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		tenantID := strings.TrimSpace(r.URL.Query().Get("tenantId"))
		if tenantID == "" {
			writeError(w, r, http.StatusBadRequest, "tenantId query parameter is required")
			return
		}
		roles, err := a.admin.ListRoles(r.Context(), tenantID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.admin.CreateRole(r.Context(), auth.CreateRoleInput{
			TenantID:    req.TenantID,
			Name:        req.Name,
			Description: req.Description,
			Permissions: req.Permissions,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.create", map[string]any{
			"role_id":   role.ID,
			"tenant_id": role.TenantID,
		})
		w.Header().Set("Location", "/api/v1/roles/"+role.ID)
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	id, rest := resourcePath(r.URL.Path, "/api/v1/roles/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.ensurePermissions(w, r, auth.PermManageRoles) {
		return
	}

	switch rest {
	case "":
		a.roleByID(w, r, id)
	case "permissions":
		a.rolePermissions(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) roleByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		role, err := a.admin.GetRole(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPatch:
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.admin.UpdateRole(r.Context(), id, auth.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.update", map[string]any{"role_id": id})
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if err := a.admin.DeleteRole(r.Context(), id); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.delete", map[string]any{"role_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) rolePermissions(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		perms, err := a.admin.RolePermissions(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	case http.MethodPut:
		var req setPermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.admin.SetRolePermissions(r.Context(), id, req.Permissions); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.permissions.set", map[string]any{
			"role_id":     id,
			"permissions": req.Permissions,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermManageRoles) {
		return
	}
	perms, err := a.admin.ListPermissions(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms})
}
