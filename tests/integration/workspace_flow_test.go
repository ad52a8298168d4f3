package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scopedesk/backend/internal/audit"
	"github.com/scopedesk/backend/internal/auth"
	"github.com/scopedesk/backend/internal/completion"
	"github.com/scopedesk/backend/internal/database"
	"github.com/scopedesk/backend/internal/ids"
	"github.com/scopedesk/backend/internal/presence"
	"github.com/scopedesk/backend/internal/ratelimit"
	"github.com/scopedesk/backend/internal/server"
	"github.com/scopedesk/backend/internal/users"
	"github.com/scopedesk/backend/internal/workspace"
	"go.uber.org/zap"
)

const (
	integrationSigningSecret = "integration-secret"
	jsonContentType          = "application/json"
)

func startAPIServer(testContext *testing.T) *httptest.Server {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), "integration.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	idProvider := ids.NewProvider()
	sessionManager := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(integrationSigningSecret),
		Issuer:        "scopedesk-auth",
		Audience:      "scopedesk-api",
		SessionTTL:    time.Hour,
	})
	accountService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		testContext.Fatalf("failed to build account service: %v", err)
	}
	auditService, err := audit.NewService(audit.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		testContext.Fatalf("failed to build audit service: %v", err)
	}
	workspaceService, err := workspace.NewService(workspace.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Directory:  accountService,
		Auditor:    auditService,
	})
	if err != nil {
		testContext.Fatalf("failed to build workspace service: %v", err)
	}
	completionService, err := completion.NewService(completion.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build completion service: %v", err)
	}
	presenceTracker, err := presence.NewTracker(presence.TrackerConfig{Database: db, Directory: accountService})
	if err != nil {
		testContext.Fatalf("failed to build presence tracker: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:    sessionManager,
		Accounts:    accountService,
		Workspace:   workspaceService,
		Audit:       auditService,
		Completion:  completionService,
		Presence:    presenceTracker,
		Limiter:     ratelimit.NewLimiter(ratelimit.LimiterConfig{}),
		LoginLimit:  100,
		LoginWindow: time.Minute,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return testServer
}

func callAPI(testContext *testing.T, method, url, token string, payload any) (int, map[string]any) {
	testContext.Helper()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			testContext.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, url, body)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request %s %s failed: %v", method, url, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		testContext.Fatalf("failed to read response body: %v", err)
	}
	decoded := map[string]any{}
	if len(raw) > 0 && response.Header.Get("Content-Type") != "" &&
		bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			testContext.Fatalf("failed to decode response %q: %v", raw, err)
		}
	}
	return response.StatusCode, decoded
}

func provisionAccount(testContext *testing.T, baseURL, email, displayName string) (string, string) {
	testContext.Helper()
	status, registered := callAPI(testContext, http.MethodPost, baseURL+"/auth/register", "", map[string]string{
		"email":        email,
		"display_name": displayName,
		"password":     "correct-horse",
	})
	if status != http.StatusCreated {
		testContext.Fatalf("register status = %d", status)
	}
	status, session := callAPI(testContext, http.MethodPost, baseURL+"/auth/login", "", map[string]string{
		"email":    email,
		"password": "correct-horse",
	})
	if status != http.StatusOK {
		testContext.Fatalf("login status = %d", status)
	}
	userID, _ := registered["user_id"].(string)
	token, _ := session["access_token"].(string)
	if userID == "" || token == "" {
		testContext.Fatalf("missing user id or token in auth responses")
	}
	return userID, token
}

func TestWorkspaceCollaborationFlow(testContext *testing.T) {
	testServer := startAPIServer(testContext)
	baseURL := testServer.URL

	_, ownerToken := provisionAccount(testContext, baseURL, "owner@example.com", "Olive Owner")
	editorID, editorToken := provisionAccount(testContext, baseURL, "editor@example.com", "Eddie Editor")

	status, created := callAPI(testContext, http.MethodPost, baseURL+"/scopes", ownerToken, map[string]string{
		"title": "Northwind Rollout",
	})
	if status != http.StatusCreated {
		testContext.Fatalf("create scope status = %d", status)
	}
	scopeID, _ := created["scope_id"].(string)
	if scopeID == "" {
		testContext.Fatalf("create scope returned no id")
	}
	scopeURL := fmt.Sprintf("%s/scopes/%s", baseURL, scopeID)

	// The editor sees nothing until invited.
	status, _ = callAPI(testContext, http.MethodGet, scopeURL+"/audit", editorToken, nil)
	if status != http.StatusNotFound {
		testContext.Fatalf("pre-invite audit status = %d, want 404", status)
	}

	status, _ = callAPI(testContext, http.MethodPost, scopeURL+"/collaborators", ownerToken, map[string]string{
		"user_id": editorID,
		"role":    "editor",
	})
	if status != http.StatusOK {
		testContext.Fatalf("invite status = %d", status)
	}

	status, _ = callAPI(testContext, http.MethodPut, scopeURL+"/sections/overview", editorToken, map[string]any{
		"data":   map[string]any{"name": "Northwind Traders", "stage": "discovery"},
		"action": "updated overview",
	})
	if status != http.StatusOK {
		testContext.Fatalf("section write status = %d", status)
	}

	status, auditLog := callAPI(testContext, http.MethodGet, scopeURL+"/audit", ownerToken, nil)
	if status != http.StatusOK {
		testContext.Fatalf("audit status = %d", status)
	}
	entries, _ := auditLog["entries"].([]any)
	if len(entries) != 1 {
		testContext.Fatalf("audit entries = %d, want 1", len(entries))
	}

	status, history := callAPI(testContext, http.MethodPost, scopeURL+"/history", ownerToken, map[string]string{
		"field": "name",
	})
	if status != http.StatusOK {
		testContext.Fatalf("history status = %d", status)
	}
	changes, _ := history["changes"].([]any)
	if len(changes) != 1 {
		testContext.Fatalf("history changes = %d, want 1", len(changes))
	}

	// Ownership transfer demotes the previous owner to editor.
	status, _ = callAPI(testContext, http.MethodPost, scopeURL+"/transfer", ownerToken, map[string]string{
		"new_owner_id": editorID,
	})
	if status != http.StatusOK {
		testContext.Fatalf("transfer status = %d", status)
	}
	status, _ = callAPI(testContext, http.MethodPost, scopeURL+"/collaborators", ownerToken, map[string]string{
		"user_id": editorID,
		"role":    "viewer",
	})
	if status != http.StatusForbidden {
		testContext.Fatalf("prior owner invite status = %d, want 403", status)
	}
	status, _ = callAPI(testContext, http.MethodPut, scopeURL+"/sections/overview", ownerToken, map[string]any{
		"data": map[string]any{"name": "Northwind Traders", "stage": "active"},
	})
	if status != http.StatusOK {
		testContext.Fatalf("prior owner should still edit, status = %d", status)
	}

	// Share link lifecycle as the new owner.
	status, sharing := callAPI(testContext, http.MethodPost, scopeURL+"/sharing", editorToken, map[string]bool{
		"enabled": true,
	})
	if status != http.StatusOK {
		testContext.Fatalf("sharing status = %d", status)
	}
	shareToken, _ := sharing["share_token"].(string)
	if shareToken == "" {
		testContext.Fatalf("sharing returned no token")
	}
	status, _ = callAPI(testContext, http.MethodGet, scopeURL+"/audit?share_token="+shareToken, "", nil)
	if status != http.StatusOK {
		testContext.Fatalf("anonymous shared audit status = %d", status)
	}
	status, _ = callAPI(testContext, http.MethodPost, scopeURL+"/sharing", editorToken, map[string]bool{
		"enabled": false,
	})
	if status != http.StatusOK {
		testContext.Fatalf("disable sharing status = %d", status)
	}
	status, _ = callAPI(testContext, http.MethodGet, scopeURL+"/audit?share_token="+shareToken, "", nil)
	if status != http.StatusNotFound {
		testContext.Fatalf("revoked share token status = %d, want 404", status)
	}

	// Presence and completion round out the read surface.
	status, _ = callAPI(testContext, http.MethodPost, scopeURL+"/presence", editorToken, nil)
	if status != http.StatusNoContent {
		testContext.Fatalf("heartbeat status = %d", status)
	}
	status, viewers := callAPI(testContext, http.MethodGet, scopeURL+"/presence", editorToken, nil)
	if status != http.StatusOK {
		testContext.Fatalf("viewer list status = %d", status)
	}
	if listed, _ := viewers["viewers"].([]any); len(listed) != 1 {
		testContext.Fatalf("viewers = %v, want exactly the heartbeating editor", viewers["viewers"])
	}
	status, score := callAPI(testContext, http.MethodGet, scopeURL+"/completion", editorToken, nil)
	if status != http.StatusOK {
		testContext.Fatalf("completion status = %d", status)
	}
	if overall, _ := score["overall"].(float64); overall <= 0 {
		testContext.Fatalf("overall = %v, want progress after the overview writes", score["overall"])
	}
}
