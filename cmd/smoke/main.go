// Command smoke drives a running API through the core login lifecycle:
// login, an authorized call, a refresh token rotation and logout. It exits
// non-zero on the first unexpected response.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	base := os.Getenv("SMSPANEL_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	identity := os.Getenv("SMSPANEL_SMOKE_USER")
	password := os.Getenv("SMSPANEL_SMOKE_PASSWORD")
	if identity == "" || password == "" {
		log.Fatal("SMSPANEL_SMOKE_USER and SMSPANEL_SMOKE_PASSWORD are required")
	}

	client := &http.Client{Timeout: 10 * time.Second}

	login := call(client, base, "/api/v1/auth/login", map[string]any{
		"identity": identity,
		"password": password,
	}, nil, http.StatusOK)
	token, _ := login["accessToken"].(string)
	sessionID, _ := login["sessionId"].(string)
	refresh, _ := login["refreshToken"].(string)
	if token == "" || sessionID == "" || refresh == "" {
		log.Fatalf("incomplete login payload: %v", login)
	}
	if login["requires2FA"] == true {
		log.Fatal("smoke account must not have a second factor enabled")
	}
	authed := map[string]string{
		"Authorization": "Bearer " + token,
		"X-Session-Id":  sessionID,
	}

	sessions := getJSON(client, base, "/api/v1/auth/sessions", authed, http.StatusOK)
	if items, ok := sessions["items"].([]any); !ok || len(items) == 0 {
		log.Fatalf("expected at least one live session, got %v", sessions)
	}

	rotated := call(client, base, "/api/v1/auth/refresh-token", map[string]any{
		"sessionId":    sessionID,
		"refreshToken": refresh,
	}, nil, http.StatusOK)
	if rotated["refreshToken"] == refresh {
		log.Fatal("refresh token was not rotated")
	}

	out := call(client, base, "/api/v1/auth/logout", map[string]any{
		"sessionId": sessionID,
	}, authed, http.StatusOK)
	if out["removed"] != true {
		log.Fatalf("logout did not remove the session: %v", out)
	}

	fmt.Printf("✅ auth smoke test passed: session=%s\n", sessionID)
}

func call(client *http.Client, base, path string, body any, headers map[string]string, want int) map[string]any {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", path, err)
	}
	req, err := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(client, req, path, want)
}

func getJSON(client *http.Client, base, path string, headers map[string]string, want int) map[string]any {
	req, err := http.NewRequest(http.MethodGet, base+path, nil)
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(client, req, path, want)
}

func doJSON(client *http.Client, req *http.Request, path string, want int) map[string]any {
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode %s: %v", path, err)
	}
	if resp.StatusCode != want {
		log.Fatalf("%s: status %d, body %v", path, resp.StatusCode, out)
	}
	return out
}
