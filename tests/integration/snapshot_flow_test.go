package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/auth"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/database"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/kvcache"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/metrics"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/server"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/snapshot"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "app_session"
	sessionIssuer        = "tauth"
	sessionUserEmail     = "writer@example.com"
	jsonContentType      = "application/json"
)

type flowClient struct {
	t       *testing.T
	baseURL string
	cookie  *http.Cookie
}

func (c flowClient) call(method, path string, body any, into any) int {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		c.t.Fatalf("failed to build request: %v", err)
	}
	request.AddCookie(c.cookie)
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	if into != nil {
		if err := json.NewDecoder(response.Body).Decode(into); err != nil {
			c.t.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
	return response.StatusCode
}

type snapshotPayload struct {
	Token    string `json:"token"`
	Total    int    `json:"total"`
	PageSize int    `json:"page_size"`
}

type pagePayload struct {
	Items []struct {
		Key       string `json:"key"`
		Expansion string `json:"expansion"`
	} `json:"items"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

func TestSnapshotWalkSurvivesConcurrentMutations(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	cache, err := kvcache.NewSQLStore(kvcache.SQLStoreConfig{Database: db, MaxValueBytes: 512})
	if err != nil {
		testContext.Fatalf("failed to build cache store: %v", err)
	}
	recorder := metrics.NewRecorder()
	dispatcher := server.NewRealtimeDispatcher()
	service, err := shortcuts.NewService(shortcuts.ServiceConfig{
		Database:  db,
		Cache:     cache,
		Metrics:   recorder,
		Notifier:  dispatcher,
		ChunkSize: 400,
	})
	if err != nil {
		testContext.Fatalf("failed to build shortcuts service: %v", err)
	}
	manager, err := snapshot.NewManager(snapshot.ManagerConfig{
		Rows:      service.Shortcuts(),
		Cache:     cache,
		Metrics:   recorder,
		ChunkSize: 400,
		PageSize:  4,
	})
	if err != nil {
		testContext.Fatalf("failed to build snapshot manager: %v", err)
	}
	reader, err := snapshot.NewReader(snapshot.ReaderConfig{Cache: cache, Metrics: recorder})
	if err != nil {
		testContext.Fatalf("failed to build page reader: %v", err)
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session validator: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		ShortcutsService: service,
		SnapshotManager:  manager,
		PageReader:       reader,
		SessionValidator: sessionValidator,
		Realtime:         dispatcher,
		Metrics:          recorder,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	client := flowClient{
		t:       testContext,
		baseURL: testServer.URL,
		cookie: &http.Cookie{
			Name:  sessionCookieName,
			Value: mustMintSessionToken(testContext, sessionSigningSecret, sessionUserEmail, time.Now()),
		},
	}

	var expected []string
	for index := 0; index < 10; index++ {
		key := fmt.Sprintf(";k%02d", index)
		expected = append(expected, key)
		var result struct {
			OK bool `json:"ok"`
		}
		if status := client.call(http.MethodPost, "/shortcuts", map[string]string{"key": key, "expansion": fmt.Sprintf("expansion number %d", index)}, &result); status != http.StatusOK || !result.OK {
			testContext.Fatalf("seed %s failed with status %d", key, status)
		}
	}

	var snap snapshotPayload
	if status := client.call(http.MethodPost, "/snapshots", nil, &snap); status != http.StatusOK {
		testContext.Fatalf("unexpected snapshot status: %d", status)
	}
	if snap.Total != len(expected) || snap.PageSize != 4 {
		testContext.Fatalf("unexpected snapshot %+v", snap)
	}

	var walked []string
	offset := 0
	for pageIndex := 0; ; pageIndex++ {
		var page pagePayload
		path := fmt.Sprintf("/snapshots/%s/page?offset=%d&limit=%d", snap.Token, offset, snap.PageSize)
		if status := client.call(http.MethodGet, path, nil, &page); status != http.StatusOK {
			testContext.Fatalf("unexpected page status at offset %d: %d", offset, status)
		}
		for _, item := range page.Items {
			walked = append(walked, item.Key)
		}

		if pageIndex == 0 {
			// Rows shift under the walk: one deleted ahead of the cursor, one inserted.
			if status := client.call(http.MethodDelete, "/shortcuts/;k05", nil, nil); status != http.StatusOK {
				testContext.Fatalf("unexpected delete status: %d", status)
			}
			if status := client.call(http.MethodPost, "/shortcuts", map[string]string{"key": ";new", "expansion": "added mid-walk"}, nil); status != http.StatusOK {
				testContext.Fatalf("unexpected upsert status: %d", status)
			}
		}

		if !page.HasMore {
			break
		}
		offset = page.Offset
	}
	if diff := cmp.Diff(expected, walked); diff != "" {
		testContext.Fatalf("walk must reflect the snapshot (-want +got):\n%s", diff)
	}

	var listing struct {
		Items []struct {
			Key string `json:"key"`
		} `json:"items"`
		Version int64 `json:"version"`
	}
	if status := client.call(http.MethodGet, "/shortcuts", nil, &listing); status != http.StatusOK {
		testContext.Fatalf("unexpected listing status: %d", status)
	}
	if len(listing.Items) != len(expected) {
		testContext.Fatalf("expected %d live rows, got %d", len(expected), len(listing.Items))
	}
	if listing.Items[len(listing.Items)-1].Key != ";new" {
		testContext.Fatalf("expected appended row last, got %s", listing.Items[len(listing.Items)-1].Key)
	}

	var favorite struct {
		Status string `json:"status"`
	}
	if status := client.call(http.MethodPost, "/favorites", map[string]string{"key": ";k01", "mode": "force_add"}, &favorite); status != http.StatusOK || favorite.Status != "added" {
		testContext.Fatalf("unexpected favorite result %d %+v", status, favorite)
	}
	var favorites struct {
		Keys []string `json:"keys"`
	}
	client.call(http.MethodGet, "/favorites", nil, &favorites)
	if diff := cmp.Diff([]string{";k01"}, favorites.Keys); diff != "" {
		testContext.Fatalf("unexpected favorites (-want +got):\n%s", diff)
	}

	// Losing the META record expires the snapshot instead of serving partial data.
	metaKey := kvcache.MetaKey("SNAP_" + snap.Token)
	if err := db.Where("cache_key = ?", metaKey).Delete(&kvcache.Entry{}).Error; err != nil {
		testContext.Fatalf("failed to drop meta record: %v", err)
	}
	var expired struct {
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}
	status := client.call(http.MethodGet, fmt.Sprintf("/snapshots/%s/page?offset=0&limit=4", snap.Token), nil, &expired)
	if status != http.StatusGone || expired.Error != "SNAPSHOT_EXPIRED" || !expired.Retryable {
		testContext.Fatalf("expected expired signal, got %d %+v", status, expired)
	}
}

func mustMintSessionToken(testContext *testing.T, signingSecret, email string, now time.Time) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:    email,
		UserEmail: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(signingSecret))
	if err != nil {
		testContext.Fatalf("failed to sign session token: %v", err)
	}
	return signed
}
