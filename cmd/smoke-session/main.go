// Command smoke-session runs a full session lifecycle against a running
// instance and verifies every step. Intended for deploy checks.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"
)

func main() {
	base := os.Getenv("QONAQ_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}
	user := fmt.Sprintf("smoke-%d", time.Now().Unix())

	var started struct {
		SessionID string `json:"session_id"`
	}
	postJSON(client, base+"/v1/sessions/start", map[string]string{
		"username": user,
		"app":      "smoke",
		"type":     "cli",
	}, http.StatusCreated, &started)
	if started.SessionID == "" {
		log.Fatal("start returned empty session id")
	}

	postJSON(client, base+"/v1/sessions/confirm", map[string]string{
		"session_id": started.SessionID,
		"email":      "smoke@example.com",
		"department": "ops",
	}, http.StatusOK, nil)

	var status struct {
		Active []string `json:"active_sessions"`
	}
	getJSON(client, base+"/v1/status/user?username="+url.QueryEscape(user), &status)
	if len(status.Active) != 1 || status.Active[0] != started.SessionID {
		log.Fatalf("session not active after start: %v", status.Active)
	}

	postJSON(client, base+"/v1/sessions/logout", map[string]string{
		"username":   user,
		"session_id": started.SessionID,
	}, http.StatusOK, nil)

	getJSON(client, base+"/v1/status/user?username="+url.QueryEscape(user), &status)
	if len(status.Active) != 0 {
		log.Fatalf("session still active after logout: %v", status.Active)
	}

	fmt.Printf("session smoke test passed: user=%s session=%s\n", user, started.SessionID)
}

func postJSON(client *http.Client, target string, body map[string]string, wantStatus int, out any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal request for %s: %v", target, err)
	}
	resp, err := client.Post(target, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("POST %s: %v", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("POST %s: status %d, want %d", target, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode response from %s: %v", target, err)
		}
	}
}

func getJSON(client *http.Client, target string, out any) {
	resp, err := client.Get(target)
	if err != nil {
		log.Fatalf("GET %s: %v", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("GET %s: status %d", target, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatalf("decode response from %s: %v", target, err)
	}
}
