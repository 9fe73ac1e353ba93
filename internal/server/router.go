package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	userIDContextKey  = "alias_user_id"
	profileContextKey = "alias_profile"
)

var (
	errMissingSessions    = errors.New("session validator dependency required")
	errMissingTokens      = errors.New("token issuer dependency required")
	errMissingCredentials = errors.New("credential service dependency required")
	errMissingUsers       = errors.New("users service dependency required")
	errMissingChat        = errors.New("chat service dependency required")
	errMissingJobs        = errors.New("jobs service dependency required")
	errMissingStorage     = errors.New("object store dependency required")
	errMissingHub         = errors.New("realtime hub dependency required")
	errMissingPresence    = errors.New("presence registry dependency required")
)

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

// TokenIssuer signs session tokens after sign-in.
type TokenIssuer interface {
	IssueSessionToken(ctx context.Context, identity auth.SessionIdentity) (string, time.Time, error)
}

// CredentialService signs users up and in.
type CredentialService interface {
	SignUp(ctx context.Context, request auth.SignUpRequest) (auth.Account, error)
	SignIn(ctx context.Context, email, password string) (auth.Account, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Sessions       SessionValidator
	Tokens         TokenIssuer
	Credentials    CredentialService
	Users          *users.Service
	Chat           *chat.Service
	Jobs           *jobs.Service
	Translator     *jobs.Translator
	Storage        storage.ObjectStore
	PublicBaseURL  string
	Hub            *realtime.Hub
	Presence       *realtime.PresenceRegistry
	AllowedOrigins []string
	SecureCookies  bool
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the API, pages and realtime transports.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.Tokens == nil:
		return nil, errMissingTokens
	case deps.Credentials == nil:
		return nil, errMissingCredentials
	case deps.Users == nil:
		return nil, errMissingUsers
	case deps.Chat == nil:
		return nil, errMissingChat
	case deps.Jobs == nil:
		return nil, errMissingJobs
	case deps.Storage == nil:
		return nil, errMissingStorage
	case deps.Hub == nil:
		return nil, errMissingHub
	case deps.Presence == nil:
		return nil, errMissingPresence
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		tokens:        deps.Tokens,
		credentials:   deps.Credentials,
		users:         deps.Users,
		chat:          deps.Chat,
		jobs:          deps.Jobs,
		translator:    deps.Translator,
		storage:       deps.Storage,
		publicBaseURL: deps.PublicBaseURL,
		hub:           deps.Hub,
		presence:      deps.Presence,
		connections:   newConnectionCounter(),
		upgrader:      newUpgrader(deps.AllowedOrigins),
		secureCookies: deps.SecureCookies,
		logger:        logger,
	}

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.POST("/auth/signup", handler.handleSignUp)
	router.POST("/auth/signin", handler.handleSignIn)
	router.POST("/auth/signout", handler.handleSignOut)
	router.GET("/auth/blocked", handler.handleBlockedEmail)

	router.GET("/", handler.handleIndexPage)
	router.GET("/login", handler.handleLoginPage)
	router.GET("/worker/dashboard", handler.handleWorkerDashboard)
	router.GET("/employer/dashboard", handler.handleEmployerDashboard)

	router.GET("/files/:bucket/*path", handler.handleDownload)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/realtime/stream", handler.handleRealtimeStream)
	protected.GET("/realtime/ws", handler.handleRealtimeSocket)

	api := protected.Group("/api")
	handler.registerChatRoutes(api)
	handler.registerJobRoutes(api)
	api.POST("/storage/:bucket", handler.handleUpload)
	api.GET("/presence", handler.handlePresence)

	return router, nil
}

type httpHandler struct {
	sessions      SessionValidator
	tokens        TokenIssuer
	credentials   CredentialService
	users         *users.Service
	chat          *chat.Service
	jobs          *jobs.Service
	translator    *jobs.Translator
	storage       storage.ObjectStore
	publicBaseURL string
	hub           *realtime.Hub
	presence      *realtime.PresenceRegistry
	connections   *connectionCounter
	upgrader      websocket.Upgrader
	secureCookies bool
	logger        *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		metrics.ObserveHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(started))
	}
}

// authorizeRequest resolves the session to a profile, creating the profile
// on first sight of a valid token.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": string(apperr.KindUnauthorized)})
		return
	}
	profile, err := h.users.EnsureProfile(c.Request.Context(), claims)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Set(userIDContextKey, profile.ID)
	c.Set(profileContextKey, profile)
	c.Next()
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

func currentProfile(c *gin.Context) users.Profile {
	if value, ok := c.Get(profileContextKey); ok {
		if profile, ok := value.(users.Profile); ok {
			return profile
		}
	}
	return users.Profile{}
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	body := gin.H{"error": string(kind)}
	if code := apperr.CodeOf(err); code != "" {
		body["code"] = code
	}
	var serviceErr *apperr.ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Field() != "" {
		body["field"] = serviceErr.Field()
	}
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("route", c.FullPath()),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Warn("request rejected", fields...)
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *httpHandler) badRequest(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": string(apperr.KindValidation), "code": code})
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
