package httpapi

import (
	"net/http"

	"smspanel.org/internal/audit"
	"smspanel.org/internal/auth"
	"smspanel.org/internal/phonebook"
)

type createContactRequest struct {
	GroupID     string `json:"groupId"`
	PhoneNumber string `json:"phoneNumber"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Notes       string `json:"notes"`
}

type updateContactRequest struct {
	GroupID     *string `json:"groupId"`
	PhoneNumber *string `json:"phoneNumber"`
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	Email       *string `json:"email"`
	Notes       *string `json:"notes"`
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type blacklistRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Reason      string `json:"reason"`
}

// callerTenant resolves the tenant every phonebook request is scoped to. The
// directory is never cross-tenant; the id comes from the principal, not the
// request.
func callerTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || principal.User == nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return principal.User.TenantID, true
}

// --- contacts ---

func (a *API) handleContactsCollection(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermManageContacts) {
		return
	}
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		groupID := r.URL.Query().Get("groupId")
		contacts, err := a.phonebook.ListContacts(r.Context(), tenantID, groupID)
		if err != nil {
			handlePhonebookError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": contacts})
	case http.MethodPost:
		var req createContactRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		contact, err := a.phonebook.CreateContact(r.Context(), phonebook.CreateContactInput{
			TenantID:    tenantID,
			GroupID:     req.GroupID,
			PhoneNumber: req.PhoneNumber,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Email:       req.Email,
			Notes:       req.Notes,
		})
		if err != nil {
			handlePhonebookError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "contact.create", map[string]any{
			"contact_id": contact.ID,
			"tenant_id":  tenantID,
		})
		w.Header().Set("Location", "/api/v1/contacts/"+contact.ID)
		writeJSON(w, http.StatusCreated, contact)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleContactResource(w http.ResponseWriter, r *http.Request) {
	id, rest := resourcePath(r.URL.Path, "/api/v1/contacts/")
	if id == "" || rest != "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.ensurePermissions(w, r, auth.PermManageContacts) {
		return
	}
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		contact, err := a.phonebook.GetContact(r.Context(), tenantID, id)
		if err != nil {
			handlePhonebookError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, contact)
	case http.MethodPatch:
		var req updateContactRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		contact, err := a.phonebook.UpdateContact(r.Context(), tenantID, id, phonebook.ContactUpdate{
			GroupID:     req.GroupID,
			PhoneNumber: req.PhoneNumber,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Email:       req.Email,
			Notes:       req.Notes,
		})
		if err != nil {
			handlePhonebookError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "contact.update", map[string]any{"contact_id": id})
		writeJSON(w, http.StatusOK, contact)
	case http.MethodDelete:
		if err := a.phonebook.DeleteContact(r.Context(), tenantID, id); err != nil {
			handlePhonebookError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "contact.delete", map[string]any{"contact_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

// --- groups ---

func (a *API) handleGroupsCollection(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermManageContacts) {
		return
	}
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		groups, err := a.phonebook.ListGroups(r.Context(), tenantID)
		if err != nil {
			handlePhonebookError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": groups})
	case http.MethodPost:
		var req createGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		group, err := a.phonebook.CreateGroup(r.Context(), tenantID, req.Name, req.Description)
		if err != nil {
			handlePhonebookError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "contact_group.create", map[string]any{
			"group_id":  group.ID,
			"tenant_id": tenantID,
		})
		w.Header().Set("Location", "/api/v1/contact-groups/"+group.ID)
		writeJSON(w, http.StatusCreated, group)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGroupResource(w http.ResponseWriter, r *http.Request) {
	id, rest := resourcePath(r.URL.Path, "/api/v1/contact-groups/")
	if id == "" || rest != "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.ensurePermissions(w, r, auth.PermManageContacts) {
		return
	}
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.phonebook.DeleteGroup(r.Context(), tenantID, id); err != nil {
		handlePhonebookError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "contact_group.delete", map[string]any{"group_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- blacklist ---

func (a *API) handleBlacklistCollection(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermManageBlacklist) {
		return
	}
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		// ?phone= checks a single number instead of listing.
		if phone := r.URL.Query().Get("phone"); phone != "" {
			blocked, err := a.phonebook.IsBlacklisted(r.Context(), tenantID, phone)
			if err != nil {
				handlePhonebookError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"blacklisted": blocked})
			return
		}
		entries, err := a.phonebook.ListBlacklist(r.Context(), tenantID)
		if err != nil {
			handlePhonebookError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries})
	case http.MethodPost:
		var req blacklistRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		entry, err := a.phonebook.Blacklist(r.Context(), tenantID, req.PhoneNumber, req.Reason)
		if err != nil {
			handlePhonebookError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "blacklist.add", map[string]any{
			"tenant_id":    tenantID,
			"phone_number": entry.PhoneNumber,
		})
		writeJSON(w, http.StatusCreated, entry)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// The blacklist is keyed by number, so the resource path carries the phone
// number rather than a surrogate id.
func (a *API) handleBlacklistResource(w http.ResponseWriter, r *http.Request) {
	phone, rest := resourcePath(r.URL.Path, "/api/v1/blacklist/")
	if phone == "" || rest != "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.ensurePermissions(w, r, auth.PermManageBlacklist) {
		return
	}
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.phonebook.Unblacklist(r.Context(), tenantID, phone); err != nil {
		handlePhonebookError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "blacklist.remove", map[string]any{
		"tenant_id":    tenantID,
		"phone_number": phone,
	})
	w.WriteHeader(http.StatusNoContent)
}
