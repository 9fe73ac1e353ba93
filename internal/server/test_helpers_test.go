package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/database"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "alias_session"
)

type testEnvironment struct {
	server   *httptest.Server
	hub      *realtime.Hub
	presence *realtime.PresenceRegistry
	chat     *chat.Service
	jobs     *jobs.Service
	users    *users.Service
	store    storage.ObjectStore
}

type testSession struct {
	Token   string        `json:"token"`
	Profile users.Profile `json:"profile"`
}

func newTestEnvironment(testContext *testing.T) *testEnvironment {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(testContext.TempDir(), "alias.db"),
	}, logger)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	if err := database.Migrate(db, logger); err != nil {
		testContext.Fatalf("failed to migrate database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql database: %v", err)
	}
	testContext.Cleanup(func() { _ = sqlDB.Close() })

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to construct users service: %v", err)
	}
	credentials, err := auth.NewCredentialService(auth.CredentialServiceConfig{
		Database:   db,
		EmailGate:  userService,
		Profiles:   userService,
		BcryptCost: bcrypt.MinCost,
		Logger:     logger,
	})
	if err != nil {
		testContext.Fatalf("failed to construct credential service: %v", err)
	}
	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:   db,
		IDProvider: chat.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		testContext.Fatalf("failed to construct chat service: %v", err)
	}
	jobService, err := jobs.NewService(jobs.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to construct jobs service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to construct token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session validator: %v", err)
	}
	store, err := storage.NewBoltStore(filepath.Join(testContext.TempDir(), "objects.db"), nil)
	if err != nil {
		testContext.Fatalf("failed to open object store: %v", err)
	}
	testContext.Cleanup(func() { _ = store.Close(context.Background()) })

	hub := realtime.NewHub(realtime.HubConfig{})
	presence := realtime.NewPresenceRegistry(realtime.PresenceConfig{Hub: hub, TTL: time.Minute})

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:      validator,
		Tokens:        issuer,
		Credentials:   credentials,
		Users:         userService,
		Chat:          chatService,
		Jobs:          jobService,
		Translator:    jobs.NewTranslator(nil, logger),
		Storage:       store,
		PublicBaseURL: "https://files.alias.test",
		Hub:           hub,
		Presence:      presence,
		Logger:        logger,
	})
	if err != nil {
		testContext.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	testContext.Cleanup(server.Close)

	return &testEnvironment{
		server:   server,
		hub:      hub,
		presence: presence,
		chat:     chatService,
		jobs:     jobService,
		users:    userService,
		store:    store,
	}
}

// signUp registers an adult account and returns its session.
func (env *testEnvironment) signUp(testContext *testing.T, username, accountType string) testSession {
	testContext.Helper()
	response := env.request(testContext, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":       username + "@alias.test",
		"password":    "correct-horse",
		"displayName": username,
		"username":    username,
		"accountType": accountType,
		"birthdate":   "1990-04-12",
	})
	defer response.Body.Close()
	if response.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(response.Body)
		testContext.Fatalf("sign up failed: status %d body %s", response.StatusCode, body)
	}
	var session testSession
	if err := json.NewDecoder(response.Body).Decode(&session); err != nil {
		testContext.Fatalf("failed to decode session: %v", err)
	}
	if session.Token == "" || session.Profile.ID == "" {
		testContext.Fatalf("incomplete session: %#v", session)
	}
	return session
}

func (env *testEnvironment) request(testContext *testing.T, method, path, token string, body any) *http.Response {
	testContext.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			testContext.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		testContext.Fatalf("failed to construct request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	response, err := client.Do(request)
	if err != nil {
		testContext.Fatalf("%s %s failed: %v", method, path, err)
	}
	return response
}

// call performs a request, checks the status and decodes the JSON answer into out.
func (env *testEnvironment) call(testContext *testing.T, method, path, token string, body any, wantStatus int, out any) {
	testContext.Helper()
	response := env.request(testContext, method, path, token, body)
	defer response.Body.Close()
	raw, _ := io.ReadAll(response.Body)
	if response.StatusCode != wantStatus {
		testContext.Fatalf("%s %s: expected status %d, got %d (%s)", method, path, wantStatus, response.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			testContext.Fatalf("%s %s: failed to decode %s: %v", method, path, raw, err)
		}
	}
}

func expectEvent(testContext *testing.T, subscription *realtime.Subscription) realtime.Event {
	testContext.Helper()
	select {
	case event := <-subscription.C():
		return event
	case <-time.After(2 * time.Second):
		testContext.Fatal("timed out waiting for realtime event")
	}
	return realtime.Event{}
}

func expectNoEvent(testContext *testing.T, subscription *realtime.Subscription) {
	testContext.Helper()
	select {
	case event := <-subscription.C():
		testContext.Fatalf("unexpected realtime event: %#v", event)
	case <-time.After(100 * time.Millisecond):
	}
}
