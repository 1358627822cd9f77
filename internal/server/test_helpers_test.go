package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/auth"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/database"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/kvcache"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/metrics"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/snapshot"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "app_session"
	testUserEmail     = "alice@example.com"
)

type testServer struct {
	handler    http.Handler
	db         *gorm.DB
	dispatcher *RealtimeDispatcher
	service    *shortcuts.Service
	issuer     *auth.SessionIssuer
}

type testServerOptions struct {
	snapshotRatePerMinute int
	heartbeatInterval     time.Duration
}

func newTestServer(t *testing.T, options testServerOptions) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	cache := kvcache.NewMemoryStore(kvcache.MemoryStoreConfig{})
	recorder := metrics.NewRecorder()
	dispatcher := NewRealtimeDispatcher()
	service, err := shortcuts.NewService(shortcuts.ServiceConfig{
		Database: db,
		Cache:    cache,
		Metrics:  recorder,
		Notifier: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	manager, err := snapshot.NewManager(snapshot.ManagerConfig{
		Rows:     service.Shortcuts(),
		Cache:    cache,
		Metrics:  recorder,
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("failed to construct snapshot manager: %v", err)
	}
	reader, err := snapshot.NewReader(snapshot.ReaderConfig{Cache: cache, Metrics: recorder, MaxPageLimit: 50})
	if err != nil {
		t.Fatalf("failed to construct page reader: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}
	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct session issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		ShortcutsService:      service,
		SnapshotManager:       manager,
		PageReader:            reader,
		SessionValidator:      validator,
		Realtime:              dispatcher,
		Metrics:               recorder,
		Logger:                zap.NewNop(),
		SnapshotRatePerMinute: options.snapshotRatePerMinute,
		HeartbeatInterval:     options.heartbeatInterval,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testServer{handler: handler, db: db, dispatcher: dispatcher, service: service, issuer: issuer}
}

func (s testServer) sessionCookie(t *testing.T, email string) *http.Cookie {
	t.Helper()
	token, _, err := s.issuer.Issue(email, "Test User")
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: token}
}

// do sends an authenticated request as email; an empty email sends no cookie.
func (s testServer) do(t *testing.T, email, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		payload = encoded
	}
	request := httptest.NewRequest(method, target, bytes.NewReader(payload))
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if email != "" {
		request.AddCookie(s.sessionCookie(t, email))
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var decoded T
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func mustUpsert(t *testing.T, server testServer, key, expansion string) {
	t.Helper()
	recorder := server.do(t, testUserEmail, http.MethodPost, "/shortcuts", shortcutPayload{Key: key, Expansion: expansion})
	if recorder.Code != http.StatusOK {
		t.Fatalf("upsert %q failed: %d %s", key, recorder.Code, recorder.Body.String())
	}
}

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}
