package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/scopedesk/backend/internal/audit"
	"github.com/scopedesk/backend/internal/completion"
	"github.com/scopedesk/backend/internal/presence"
	"github.com/scopedesk/backend/internal/ratelimit"
	"github.com/scopedesk/backend/internal/users"
	"github.com/scopedesk/backend/internal/workspace"
	"go.uber.org/zap"
)

const userIDContextKey = "scopedesk_user_id"

var (
	errMissingSessions   = errors.New("session manager dependency required")
	errMissingAccounts   = errors.New("account service dependency required")
	errMissingWorkspace  = errors.New("workspace service dependency required")
	errMissingAudit      = errors.New("audit service dependency required")
	errMissingCompletion = errors.New("completion service dependency required")
	errMissingPresence   = errors.New("presence tracker dependency required")
	errMissingLimiter    = errors.New("rate limiter dependency required")
	errInvalidAuth       = errors.New("authorization header missing or invalid")
)

// SessionManager issues and validates bearer session tokens.
type SessionManager interface {
	IssueSession(ctx context.Context, userID string) (string, int64, error)
	ValidateSession(token string) (string, error)
}

// Dependencies wires the request handlers to the core services.
type Dependencies struct {
	Sessions    SessionManager
	Accounts    *users.Service
	Workspace   *workspace.Service
	Audit       *audit.Service
	Completion  *completion.Service
	Presence    *presence.Tracker
	Limiter     *ratelimit.Limiter
	PresenceTTL time.Duration
	LoginLimit  int
	LoginWindow time.Duration
	Logger      *zap.Logger
}

// NewHTTPHandler builds the API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Workspace == nil {
		return nil, errMissingWorkspace
	}
	if deps.Audit == nil {
		return nil, errMissingAudit
	}
	if deps.Completion == nil {
		return nil, errMissingCompletion
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}
	if deps.Limiter == nil {
		return nil, errMissingLimiter
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.PresenceTTL <= 0 {
		deps.PresenceTTL = presence.DefaultTTL
	}
	if deps.LoginLimit <= 0 {
		deps.LoginLimit = 5
	}
	if deps.LoginWindow <= 0 {
		deps.LoginWindow = time.Minute
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{deps: deps, logger: logger}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	// Scope reads allow an anonymous caller carrying a share token.
	shared := router.Group("/")
	shared.Use(handler.identifyRequest)
	shared.GET("/scopes/:scopeID/audit", handler.handleAuditLog)
	shared.POST("/scopes/:scopeID/history", handler.handleFieldHistory)
	shared.GET("/scopes/:scopeID/completion", handler.handleCompletion)
	shared.GET("/scopes/:scopeID/presence", handler.handleListViewers)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/scopes", handler.handleCreateScope)
	protected.POST("/scopes/:scopeID/collaborators", handler.handleInvite)
	protected.DELETE("/scopes/:scopeID/collaborators/:userID", handler.handleRemoveCollaborator)
	protected.POST("/scopes/:scopeID/transfer", handler.handleTransfer)
	protected.POST("/scopes/:scopeID/sharing", handler.handleSetSharing)
	protected.PUT("/scopes/:scopeID/sections/:section", handler.handleUpdateSection)
	protected.POST("/scopes/:scopeID/presence", handler.handleHeartbeat)
	protected.POST("/completion/scores", handler.handleCompletionBatch)
	protected.PUT("/completion/config", handler.handleSaveCompletionConfig)

	return router, nil
}

type httpHandler struct {
	deps   Dependencies
	logger *zap.Logger
}

// authorizeRequest requires a valid bearer session.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	userID, err := h.sessionUser(c)
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// identifyRequest attaches the session user when present but lets anonymous
// callers through; share-token checks happen at role resolution.
func (h *httpHandler) identifyRequest(c *gin.Context) {
	userID, err := h.sessionUser(c)
	if err == nil && userID != "" {
		c.Set(userIDContextKey, userID)
	}
	c.Next()
}

func (h *httpHandler) sessionUser(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errInvalidAuth
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errInvalidAuth
	}
	userID, err := h.deps.Sessions.ValidateSession(token)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		return "", err
	}
	return userID, nil
}

// checkLimit applies the fixed-window throttle and, on deny, writes the 429
// response with the retry-after duration the caller must surface.
func (h *httpHandler) checkLimit(c *gin.Context, key string) bool {
	decision := h.deps.Limiter.Check(key, h.deps.LoginLimit, h.deps.LoginWindow)
	if decision.Allowed {
		return true
	}
	seconds := int64(math.Ceil(decision.RetryAfter.Seconds()))
	c.Header("Retry-After", strconv.FormatInt(seconds, 10))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":          "rate_limited",
		"retry_after_ms": decision.RetryAfter.Milliseconds(),
	})
	return false
}

type registerPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	if !h.checkLimit(c, "register:"+c.ClientIP()) {
		return
	}
	var request registerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	account, err := h.deps.Accounts.Register(c.Request.Context(), request.Email, request.DisplayName, request.Password)
	if errors.Is(err, users.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	}
	if errors.Is(err, users.ErrInvalidAccount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": account.UserID, "display_name": account.DisplayName})
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	if !h.checkLimit(c, "login:"+c.ClientIP()) {
		return
	}
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	account, err := h.deps.Accounts.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("authentication failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}
	token, expiresIn, err := h.deps.Sessions.IssueSession(c.Request.Context(), account.UserID)
	if err != nil {
		h.logger.Error("failed to issue session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
	})
}

type createScopePayload struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleCreateScope(c *gin.Context) {
	var request createScopePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ownerID, err := workspace.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	scope, err := h.deps.Workspace.CreateScope(c.Request.Context(), ownerID, strings.TrimSpace(request.Title))
	if err != nil {
		h.logger.Error("scope creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scope_create_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"scope_id": scope.ScopeID, "owner_id": scope.OwnerID, "title": scope.Title})
}

type invitePayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *httpHandler) handleInvite(c *gin.Context) {
	scopeID, actorID, ok := h.scopeAndActor(c)
	if !ok {
		return
	}
	var request invitePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	targetID, err := workspace.NewUserID(request.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	role, err := workspace.ParseGrantableRole(request.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}
	if err := h.deps.Workspace.InviteCollaborator(c.Request.Context(), scopeID, actorID, targetID, role); err != nil {
		h.respondWorkspaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scope_id": scopeID.String(), "user_id": targetID.String(), "role": role.String()})
}

func (h *httpHandler) handleRemoveCollaborator(c *gin.Context) {
	scopeID, actorID, ok := h.scopeAndActor(c)
	if !ok {
		return
	}
	targetID, err := workspace.NewUserID(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.deps.Workspace.RemoveCollaborator(c.Request.Context(), scopeID, actorID, targetID); err != nil {
		h.respondWorkspaceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type transferPayload struct {
	NewOwnerID string `json:"new_owner_id"`
}

func (h *httpHandler) handleTransfer(c *gin.Context) {
	scopeID, actorID, ok := h.scopeAndActor(c)
	if !ok {
		return
	}
	var request transferPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	newOwnerID, err := workspace.NewUserID(request.NewOwnerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.deps.Workspace.TransferOwnership(c.Request.Context(), scopeID, actorID, newOwnerID); err != nil {
		h.respondWorkspaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scope_id": scopeID.String(), "owner_id": newOwnerID.String()})
}

type sharingPayload struct {
	Enabled bool `json:"enabled"`
}

func (h *httpHandler) handleSetSharing(c *gin.Context) {
	scopeID, actorID, ok := h.scopeAndActor(c)
	if !ok {
		return
	}
	var request sharingPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, err := h.deps.Workspace.SetSharing(c.Request.Context(), scopeID, actorID, request.Enabled)
	if err != nil {
		h.respondWorkspaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sharing_enabled": request.Enabled, "share_token": token})
}

type sectionPayload struct {
	Data   map[string]interface{} `json:"data"`
	Action string                 `json:"action"`
	Detail string                 `json:"detail"`
}

func (h *httpHandler) handleUpdateSection(c *gin.Context) {
	scopeID, actorID, ok := h.scopeAndActor(c)
	if !ok {
		return
	}
	section := strings.TrimSpace(c.Param("section"))
	var request sectionPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Data == nil || section == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	dataJSON, err := encodeSection(request.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	write := workspace.SectionWrite{
		Section:  section,
		DataJSON: dataJSON,
		Action:   request.Action,
		Detail:   request.Detail,
		Meta: audit.RequestMeta{
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
			City:      c.GetHeader("X-Client-City"),
			Region:    c.GetHeader("X-Client-Region"),
		},
	}
	if err := h.deps.Workspace.UpdateSection(c.Request.Context(), scopeID, actorID, write); err != nil {
		h.respondWorkspaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scope_id": scopeID.String(), "section": section})
}

type auditEntryPayload struct {
	UserName  string `json:"user_name"`
	Action    string `json:"action"`
	Detail    string `json:"detail"`
	Location  string `json:"location"`
	IP        string `json:"ip"`
	Browser   string `json:"browser"`
	CreatedAt string `json:"created_at"`
}

func (h *httpHandler) handleAuditLog(c *gin.Context) {
	scopeID, ok := h.requireViewer(c)
	if !ok {
		return
	}
	limit := audit.DefaultEntryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		limit = parsed
	}
	entries, err := h.deps.Audit.Log(c.Request.Context(), scopeID.String(), limit)
	if err != nil {
		h.logger.Error("audit log query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit_query_failed"})
		return
	}
	names, err := h.displayNamesFor(c, entries)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit_query_failed"})
		return
	}

	if c.Query("format") == "csv" {
		c.Header("Content-Disposition", `attachment; filename="audit.csv"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(audit.RenderCSV(entries, names)))
		return
	}

	payload := make([]auditEntryPayload, 0, len(entries))
	for _, entry := range entries {
		name := names[entry.UserID]
		if name == "" {
			name = entry.UserID
		}
		payload = append(payload, auditEntryPayload{
			UserName:  name,
			Action:    entry.Action,
			Detail:    entry.Detail,
			Location:  audit.Location(entry.City, entry.Region),
			IP:        entry.IPAddress,
			Browser:   audit.BrowserLabel(entry.UserAgent),
			CreatedAt: time.Unix(entry.CreatedAtSeconds, 0).UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": payload})
}

type fieldHistoryPayload struct {
	Field string `json:"field"`
}

type fieldChangePayload struct {
	UserName  string `json:"user_name"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
	CreatedAt string `json:"created_at"`
}

func (h *httpHandler) handleFieldHistory(c *gin.Context) {
	scopeID, ok := h.requireViewer(c)
	if !ok {
		return
	}
	var request fieldHistoryPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Field) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	changes, err := h.deps.Audit.FieldHistory(
		c.Request.Context(),
		scopeID.String(),
		strings.TrimSpace(request.Field),
		audit.DefaultEntryLimit,
		audit.DefaultChangeLimit,
	)
	if err != nil {
		h.logger.Error("field history failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_query_failed"})
		return
	}
	userIDs := make([]string, 0, len(changes))
	for _, change := range changes {
		userIDs = append(userIDs, change.UserID)
	}
	names, err := h.deps.Accounts.DisplayNames(c.Request.Context(), userIDs)
	if err != nil {
		h.logger.Error("display name lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_query_failed"})
		return
	}
	payload := make([]fieldChangePayload, 0, len(changes))
	for _, change := range changes {
		name := names[change.UserID]
		if name == "" {
			name = change.UserID
		}
		payload = append(payload, fieldChangePayload{
			UserName:  name,
			OldValue:  change.OldValue,
			NewValue:  change.NewValue,
			CreatedAt: time.Unix(change.CreatedAtSeconds, 0).UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"changes": payload})
}

func completionPayload(score completion.Score) gin.H {
	tabs := make(gin.H, len(score.Tabs))
	for tabKey, percent := range score.Tabs {
		tabs[tabKey] = gin.H{"percent": percent}
	}
	return gin.H{"overall": score.Overall, "tabs": tabs}
}

func (h *httpHandler) handleCompletion(c *gin.Context) {
	scopeID, ok := h.requireViewer(c)
	if !ok {
		return
	}
	score, err := h.deps.Completion.ScoreScope(c.Request.Context(), scopeID.String())
	if err != nil {
		h.logger.Error("completion scoring failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "completion_failed"})
		return
	}
	c.JSON(http.StatusOK, completionPayload(score))
}

type completionBatchPayload struct {
	ScopeIDs []string `json:"scope_ids"`
}

func (h *httpHandler) handleCompletionBatch(c *gin.Context) {
	var request completionBatchPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.ScopeIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := c.GetString(userIDContextKey)

	// Score only the scopes the caller can actually see; the rest are
	// silently absent, matching the scope-existence masking rule.
	visible := make([]string, 0, len(request.ScopeIDs))
	for _, raw := range request.ScopeIDs {
		scopeID, err := workspace.NewScopeID(raw)
		if err != nil {
			continue
		}
		role, err := h.deps.Workspace.Resolve(c.Request.Context(), scopeID, workspace.Access{UserID: userID})
		if err != nil || !role.AtLeast(workspace.RoleViewer) {
			continue
		}
		visible = append(visible, scopeID.String())
	}
	scores, err := h.deps.Completion.ScoreScopes(c.Request.Context(), visible)
	if err != nil {
		h.logger.Error("batch completion scoring failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "completion_failed"})
		return
	}
	payload := make(gin.H, len(scores))
	for scopeID, score := range scores {
		payload[scopeID] = completionPayload(score)
	}
	c.JSON(http.StatusOK, payload)
}

type completionConfigPayload struct {
	Definition map[string]map[string]float64 `json:"definition"`
}

func (h *httpHandler) handleSaveCompletionConfig(c *gin.Context) {
	var request completionConfigPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Definition) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	definitionJSON, err := encodeDefinition(request.Definition)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	version, err := h.deps.Completion.SaveDefinition(c.Request.Context(), definitionJSON, c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("completion config save failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "config_save_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}

func (h *httpHandler) handleHeartbeat(c *gin.Context) {
	scopeID, ok := h.requireViewer(c)
	if !ok {
		return
	}
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.deps.Presence.Heartbeat(c.Request.Context(), scopeID.String(), userID); err != nil {
		h.logger.Error("heartbeat failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "heartbeat_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListViewers(c *gin.Context) {
	scopeID, ok := h.requireViewer(c)
	if !ok {
		return
	}
	viewers, err := h.deps.Presence.ListViewers(c.Request.Context(), scopeID.String(), h.deps.PresenceTTL)
	if err != nil {
		h.logger.Error("viewer listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence_failed"})
		return
	}
	payload := make([]gin.H, 0, len(viewers))
	for _, viewer := range viewers {
		payload = append(payload, gin.H{"user_id": viewer.UserID, "name": viewer.DisplayName})
	}
	c.JSON(http.StatusOK, gin.H{"viewers": payload})
}

// scopeAndActor extracts the scope id from the path and the acting user from
// the session context.
func (h *httpHandler) scopeAndActor(c *gin.Context) (workspace.ScopeID, workspace.UserID, bool) {
	scopeID, err := workspace.NewScopeID(c.Param("scopeID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", "", false
	}
	actorID, err := workspace.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", "", false
	}
	return scopeID, actorID, true
}

// requireViewer resolves the caller's role for the scope, accepting a share
// token for anonymous reads. A missing scope and an inaccessible scope both
// answer 404 so existence never leaks.
func (h *httpHandler) requireViewer(c *gin.Context) (workspace.ScopeID, bool) {
	scopeID, err := workspace.NewScopeID(c.Param("scopeID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", false
	}
	access := workspace.Access{
		UserID:     c.GetString(userIDContextKey),
		ShareToken: c.Query("share_token"),
	}
	role, err := h.deps.Workspace.Resolve(c.Request.Context(), scopeID, access)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return "", false
		}
		h.logger.Error("role resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve_failed"})
		return "", false
	}
	if !role.AtLeast(workspace.RoleViewer) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return "", false
	}
	return scopeID, true
}

func (h *httpHandler) respondWorkspaceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, workspace.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, workspace.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state"})
	case errors.Is(err, workspace.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
	default:
		h.logger.Error("workspace operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation_failed"})
	}
}

func (h *httpHandler) displayNamesFor(c *gin.Context, entries []audit.Entry) (map[string]string, error) {
	userIDs := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.UserID]; ok {
			continue
		}
		seen[entry.UserID] = struct{}{}
		userIDs = append(userIDs, entry.UserID)
	}
	names, err := h.deps.Accounts.DisplayNames(c.Request.Context(), userIDs)
	if err != nil {
		h.logger.Error("display name lookup failed", zap.Error(err))
		return nil, err
	}
	return names, nil
}
