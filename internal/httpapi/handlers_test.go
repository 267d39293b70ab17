package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"smspanel.org/internal/auth"
	"smspanel.org/internal/credit"
	"smspanel.org/internal/phonebook"
	"smspanel.org/internal/session"
	"smspanel.org/internal/stream"
)

// captureNotifier records dispatched codes instead of delivering them.
type captureNotifier struct {
	emailCode string
	smsCode   string
}

func (n *captureNotifier) SendVerificationEmail(_ context.Context, _, _, code string) error {
	n.emailCode = code
	return nil
}

func (n *captureNotifier) SendTwoFactorSMS(_ context.Context, _, code string) error {
	n.smsCode = code
	return nil
}

type apiClient struct {
	baseURL  string
	client   *http.Client
	t        *testing.T
	store    *auth.MemoryStore
	notifier *captureNotifier
	tenant   *auth.Tenant
	admin    *auth.User
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := auth.NewMemoryStore()
	sessions := session.NewStore(rdb)
	notifier := &captureNotifier{}

	tokens, err := auth.NewTokenIssuer([]byte("test-secret"))
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	svc, err := auth.NewService(store, sessions, tokens, notifier)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	admin, err := auth.NewAdmin(store)
	if err != nil {
		t.Fatalf("admin service: %v", err)
	}

	ctx := context.Background()
	if err := svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("ensure permissions: %v", err)
	}

	tenant, err := admin.CreateTenant(ctx, auth.CreateTenantInput{Name: "Acme", Domain: "acme.test"})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	var allPerms []string
	for _, p := range auth.BuiltinPermissions {
		allPerms = append(allPerms, p.Name)
	}
	role, err := admin.CreateRole(ctx, auth.CreateRoleInput{
		TenantID:    tenant.ID,
		Name:        "admins",
		Permissions: allPerms,
	})
	if err != nil {
		t.Fatalf("seed role: %v", err)
	}
	adminUser, err := admin.CreateUser(ctx, auth.CreateUserInput{
		TenantID: tenant.ID,
		Username: "root",
		Email:    "root@acme.test",
		Password: "hunter22",
		RoleIDs:  []string{role.ID},
	})
	if err != nil {
		t.Fatalf("seed admin user: %v", err)
	}

	creditStore := credit.NewMemoryStore()
	creditStore.RegisterTenant(tenant.ID)
	creditSvc, err := credit.NewService(creditStore)
	if err != nil {
		t.Fatalf("credit service: %v", err)
	}
	phonebookSvc, err := phonebook.NewService(phonebook.NewMemoryStore())
	if err != nil {
		t.Fatalf("phonebook service: %v", err)
	}

	api := New(Config{
		Auth:      svc,
		Admin:     admin,
		Credit:    creditSvc,
		Phonebook: phonebookSvc,
		Stream:    stream.New(),
		Version:   "test",
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		store:    store,
		notifier: notifier,
		tenant:   tenant,
		admin:    adminUser,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

// login runs the full login flow and returns the headers every protected
// request must carry.
func (c *apiClient) login(identity, password string) map[string]string {
	c.t.Helper()
	resp := c.post("/api/v1/auth/login", map[string]any{
		"identity": identity,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login status: %d", resp.StatusCode)
	}
	payload := decode[map[string]any](c.t, resp)
	token, _ := payload["accessToken"].(string)
	sessionID, _ := payload["sessionId"].(string)
	if token == "" || sessionID == "" {
		c.t.Fatalf("incomplete login payload: %v", payload)
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
		"X-Session-Id":  sessionID,
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", body)
	}

	resp = api.get("/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/api/v1/tenants", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] == "" {
		t.Fatal("expected error message")
	}
}

func TestProtectedEndpointsRequireSessionHeader(t *testing.T) {
	api := newTestAPI(t)
	headers := api.login("root", "hunter22")
	delete(headers, "X-Session-Id")

	resp := api.get("/api/v1/tenants", nil, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session header, got %d", resp.StatusCode)
	}
}

func TestTenantAdministrationFlow(t *testing.T) {
	api := newTestAPI(t)
	headers := api.login("root", "hunter22")

	resp := api.post("/api/v1/tenants", map[string]any{
		"name":   "Reseller",
		"domain": "reseller.test",
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create tenant status: %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") == "" {
		t.Fatal("expected Location header")
	}
	created := decode[map[string]any](t, resp)
	childID := created["id"].(string)

	// Duplicate name conflicts.
	resp = api.post("/api/v1/tenants", map[string]any{
		"name":   "Reseller",
		"domain": "reseller.test",
	}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate tenant, got %d", resp.StatusCode)
	}

	resp = api.get("/api/v1/tenants", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list tenants status: %d", resp.StatusCode)
	}
	listing := decode[map[string]any](t, resp)
	if items := listing["items"].([]any); len(items) != 2 {
		t.Fatalf("expected 2 tenants, got %d", len(items))
	}

	resp = api.do(http.MethodDelete, "/api/v1/tenants/"+childID, nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete tenant status: %d", resp.StatusCode)
	}

	resp = api.get("/api/v1/tenants/"+childID, nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestPermissionDenied(t *testing.T) {
	api := newTestAPI(t)

	// A user with no roles can log in but not administrate.
	resp := api.post("/api/v1/auth/register", map[string]any{
		"tenantId": api.tenant.ID,
		"username": "viewer",
		"email":    "viewer@acme.test",
		"password": "hunter22",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: %d", resp.StatusCode)
	}

	headers := api.login("viewer", "hunter22")
	resp = api.get("/api/v1/tenants", nil, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestTwoFactorGate(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	// Enable email verification on the admin account.
	profile, err := api.store.Profiles().Find(ctx, api.admin.ID)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	profile.EmailVerificationEnabled = true
	if err := api.store.Profiles().Update(ctx, profile); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	resp := api.post("/api/v1/auth/login", map[string]any{
		"identity": "root",
		"password": "hunter22",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}
	payload := decode[map[string]any](t, resp)
	if payload["requires2FA"] != true {
		t.Fatalf("expected requires2FA, got %v", payload)
	}
	headers := map[string]string{
		"Authorization": "Bearer " + payload["accessToken"].(string),
		"X-Session-Id":  payload["sessionId"].(string),
	}

	// Protected surface stays closed until the factor clears.
	resp = api.get("/api/v1/tenants", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before 2FA, got %d", resp.StatusCode)
	}

	if api.notifier.emailCode == "" {
		t.Fatal("expected a dispatched email code")
	}
	resp = api.post("/api/v1/auth/verify-2fa", map[string]any{
		"sessionId": payload["sessionId"],
		"code":      api.notifier.emailCode,
		"type":      "email",
	}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-2fa status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/api/v1/tenants", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after 2FA, got %d", resp.StatusCode)
	}
}

func TestCreditEndpoints(t *testing.T) {
	api := newTestAPI(t)
	headers := api.login("root", "hunter22")
	path := "/api/v1/tenants/" + api.tenant.ID + "/credit"

	topup := map[string]any{"kind": "topup", "amount": 1000, "reason": "initial"}
	idem := map[string]string{"Idempotency-Key": "topup-1"}
	for k, v := range headers {
		idem[k] = v
	}

	resp := api.post(path, topup, idem)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("topup status: %d", resp.StatusCode)
	}
	entry := decode[map[string]any](t, resp)

	// Replaying the same key must not double-apply.
	resp = api.post(path, topup, idem)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("replay status: %d", resp.StatusCode)
	}
	replayed := decode[map[string]any](t, resp)
	if replayed["id"] != entry["id"] {
		t.Fatal("idempotent replay returned a different entry")
	}

	resp = api.post(path, map[string]any{"kind": "charge", "amount": 5000}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for overdraw, got %d", resp.StatusCode)
	}

	resp = api.get(path, nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("credit status: %d", resp.StatusCode)
	}
	state := decode[map[string]any](t, resp)
	if state["balance"].(float64) != 1000 {
		t.Fatalf("unexpected balance: %v", state["balance"])
	}
}

func TestPhonebookEndpoints(t *testing.T) {
	api := newTestAPI(t)
	headers := api.login("root", "hunter22")

	resp := api.post("/api/v1/contacts", map[string]any{
		"phoneNumber": "+7 (701) 123-45-67",
		"firstName":   "Aigerim",
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create contact status: %d", resp.StatusCode)
	}
	contact := decode[map[string]any](t, resp)
	if contact["phone_number"] != "+77011234567" {
		t.Fatalf("expected normalized number, got %v", contact["phone_number"])
	}

	resp = api.post("/api/v1/blacklist", map[string]any{
		"phoneNumber": "77019998877",
		"reason":      "opted out",
	}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("blacklist status: %d", resp.StatusCode)
	}

	resp = api.get("/api/v1/blacklist", url.Values{"phone": []string{"7 701 999-88-77"}}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("blacklist check status: %d", resp.StatusCode)
	}
	check := decode[map[string]any](t, resp)
	if check["blacklisted"] != true {
		t.Fatalf("expected blacklisted=true, got %v", check)
	}

	resp = api.do(http.MethodDelete, "/api/v1/blacklist/77019998877", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unblacklist status: %d", resp.StatusCode)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	api := newTestAPI(t)
	headers := api.login("root", "hunter22")

	resp := api.post("/api/v1/auth/logout", map[string]any{
		"sessionId": headers["X-Session-Id"],
	}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["removed"] != true {
		t.Fatalf("expected removed=true, got %v", body)
	}

	resp = api.get("/api/v1/tenants", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}
