package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/config"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/database"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/likes"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/metrics"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/structures"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/users"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	ownerTicket = "76561198000000001"
	otherTicket = "76561198000000002"
	cooldown    = 100 * time.Millisecond
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type testServer struct {
	handler http.Handler
	db      *gorm.DB
	clock   *manualClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.OpenConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "server.db"),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}

	registry, err := metrics.New()
	if err != nil {
		t.Fatalf("failed to build metrics: %v", err)
	}
	clock := &manualClock{now: time.Unix(1700000000, 0)}

	resolver, err := users.NewResolver(users.ResolverConfig{SkipVerification: true, Metrics: registry})
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Cooldowns: ratelimit.Cooldowns{Submit: cooldown, Sample: cooldown, Like: cooldown},
		Clock:     clock.Now,
		Metrics:   registry,
	})
	store, err := structures.NewService(structures.ServiceConfig{
		Database: db,
		Limits: config.Limits{
			MaxStructsPerUserPerScene: 2,
			MaxRequestedStructs:       4,
			DefaultRandomLimit:        3,
			MaxSceneLength:            16,
			MaxPrefabLength:           50,
			MaxUsernameLength:         50,
		},
		Clock:   clock.Now,
		Metrics: registry,
	})
	if err != nil {
		t.Fatalf("failed to build structure store: %v", err)
	}
	ledger, err := likes.NewLedger(likes.LedgerConfig{Database: db, Metrics: registry})
	if err != nil {
		t.Fatalf("failed to build like ledger: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Resolver:   resolver,
		Limiter:    limiter,
		Structures: store,
		Likes:      ledger,
		Health:     sqlDB,
		Metrics:    registry,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testServer{handler: handler, db: db, clock: clock}
}

func (s *testServer) do(t *testing.T, method, target, ticket string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWithContext(t, context.Background(), method, target, ticket, body)
}

func (s *testServer) doWithContext(t *testing.T, ctx context.Context, method, target, ticket string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, target, reader).WithContext(ctx)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if ticket != "" {
		request.Header.Set(TicketHeader, ticket)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) submit(t *testing.T, ticket, scene, prefab string) structurePayload {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/api/v1/structures", ticket, map[string]any{
		"username": "Sam",
		"map_id":   1,
		"scene":    scene,
		"segment":  0,
		"prefab":   prefab,
		"pos_x":    1.5,
		"rot_w":    1,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("submit failed: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var stored structurePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &stored); err != nil {
		t.Fatalf("failed to decode structure: %v", err)
	}
	s.clock.Advance(cooldown)
	return stored
}

func (s *testServer) sample(t *testing.T, ticket, query string) []structurePayload {
	t.Helper()
	recorder := s.do(t, http.MethodGet, "/api/v1/structures?"+query, ticket, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("sample failed: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var rows []structurePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &rows); err != nil {
		t.Fatalf("failed to decode sample: %v", err)
	}
	s.clock.Advance(cooldown)
	return rows
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", recorder.Body.String(), err)
	}
	return body["error"]
}

func TestAuthenticationFailures(t *testing.T) {
	server := newTestServer(t)

	testCases := []struct {
		name       string
		ticket     string
		wantStatus int
		wantCode   string
	}{
		{name: "missing", ticket: "", wantStatus: http.StatusUnauthorized, wantCode: "missing_ticket"},
		{name: "blank", ticket: "   ", wantStatus: http.StatusUnauthorized, wantCode: "missing_ticket"},
		{name: "non-printable", ticket: "abc\x01def", wantStatus: http.StatusBadRequest, wantCode: "invalid_ticket"},
		{name: "non-numeric", ticket: "not-a-number", wantStatus: http.StatusBadRequest, wantCode: "invalid_ticket"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := server.do(t, http.MethodGet, "/api/v1/structures?scene=S", testCase.ticket, nil)
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("expected status %d, got %d", testCase.wantStatus, recorder.Code)
			}
			if code := errorCode(t, recorder); code != testCase.wantCode {
				t.Fatalf("expected error %q, got %q", testCase.wantCode, code)
			}
		})
	}
}

func TestSubmitReturnsStoredStructure(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodPost, "/api/v1/structures", ownerTicket, map[string]any{
		"id":         77,
		"user_id":    5,
		"likes":      9000,
		"created_at": 1,
		"username":   "Sam",
		"map_id":     3,
		"scene":      "Beach",
		"segment":    2,
		"prefab":     "ladder",
		"pos_x":      1.5,
		"rot_w":      1,
		"antigrav":   true,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	var stored structurePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &stored); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if strconv.FormatInt(stored.UserID, 10) != ownerTicket {
		t.Fatalf("owner must come from the ticket, got %d", stored.UserID)
	}
	if stored.Likes != 0 || stored.ID == 77 || stored.CreatedAt != server.clock.now.UnixMilli() {
		t.Fatalf("server-owned fields must be ignored on input: %+v", stored)
	}
	if stored.Scene != "Beach" || stored.MapID != 3 || stored.Segment != 2 || stored.Prefab != "ladder" || stored.PosX != 1.5 || !stored.Antigrav {
		t.Fatalf("unexpected echoed payload: %+v", stored)
	}
}

func TestSubmitValidationAndCooldown(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodPost, "/api/v1/structures", ownerTicket, map[string]any{
		"scene":  strings.Repeat("S", 17),
		"prefab": "ladder",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for long scene, got %d", recorder.Code)
	}
	server.clock.Advance(cooldown)

	server.submit(t, ownerTicket, "Cool", "a")
	server.clock.Advance(-cooldown / 2)
	recorder = server.do(t, http.MethodPost, "/api/v1/structures", ownerTicket, map[string]any{"scene": "Cool", "prefab": "b"})
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 within cooldown, got %d", recorder.Code)
	}
	server.clock.Advance(cooldown)
	server.submit(t, ownerTicket, "Cool", "c")
}

func TestSubmitRetainsNewestPerScene(t *testing.T) {
	server := newTestServer(t)

	first := server.submit(t, ownerTicket, "S", "first")
	second := server.submit(t, ownerTicket, "S", "second")
	third := server.submit(t, ownerTicket, "S", "third")

	rows := server.sample(t, ownerTicket, "scene=S&limit=4")
	if len(rows) != 2 {
		t.Fatalf("expected 2 retained structures, got %d", len(rows))
	}
	ids := map[int64]bool{}
	for _, row := range rows {
		ids[row.ID] = true
	}
	if ids[first.ID] || !ids[second.ID] || !ids[third.ID] {
		t.Fatalf("expected submissions #2 and #3 to remain, got %+v", rows)
	}
}

func TestSampleQueryParameters(t *testing.T) {
	server := newTestServer(t)
	for i := 1; i <= 6; i++ {
		server.submit(t, strconv.Itoa(1000+i), "Field", "prefab_"+strconv.Itoa(i%2))
	}

	if rows := server.sample(t, ownerTicket, "scene=Field&limit=50"); len(rows) != 4 {
		t.Fatalf("expected limit clamped to 4, got %d", len(rows))
	}
	if rows := server.sample(t, ownerTicket, "scene=Field"); len(rows) != 3 {
		t.Fatalf("expected default limit 3, got %d", len(rows))
	}
	if rows := server.sample(t, ownerTicket, "scene=Field&limit=-1"); len(rows) != 0 {
		t.Fatalf("expected negative limit clamped to 0, got %d", len(rows))
	}
	rows := server.sample(t, ownerTicket, "scene=Field&limit=4&exclude_prefabs=prefab_0,,")
	if len(rows) != 3 {
		t.Fatalf("expected three rows without prefab_0, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Prefab == "prefab_0" {
			t.Fatalf("excluded prefab returned: %+v", row)
		}
	}
	if rows := server.sample(t, ownerTicket, "scene=Field&map_id=2"); len(rows) != 0 {
		t.Fatalf("expected no rows for another map, got %d", len(rows))
	}

	testCases := []struct {
		name     string
		query    string
		wantCode string
	}{
		{name: "long-scene", query: "scene=" + strings.Repeat("S", 17), wantCode: "validation_failed"},
		{name: "bad-map", query: "scene=Field&map_id=x", wantCode: "invalid_map_id"},
		{name: "bad-limit", query: "scene=Field&limit=many", wantCode: "invalid_limit"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := server.do(t, http.MethodGet, "/api/v1/structures?"+testCase.query, ownerTicket, nil)
			server.clock.Advance(cooldown)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", recorder.Code)
			}
			if code := errorCode(t, recorder); code != testCase.wantCode {
				t.Fatalf("expected %q, got %q", testCase.wantCode, code)
			}
		})
	}
}

func TestLikeScenarios(t *testing.T) {
	server := newTestServer(t)
	stored := server.submit(t, ownerTicket, "Likes", "rope")
	likePath := "/api/v1/structures/" + strconv.FormatInt(stored.ID, 10) + "/like"

	recorder := server.do(t, http.MethodPost, "/api/v1/structures/999/like", otherTicket, map[string]int{"count": 1})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing structure, got %d", recorder.Code)
	}
	server.clock.Advance(cooldown)

	recorder = server.do(t, http.MethodPost, likePath, ownerTicket, map[string]int{"count": 1})
	if recorder.Code != http.StatusBadRequest || errorCode(t, recorder) != "self_like_forbidden" {
		t.Fatalf("expected 400 self_like_forbidden, got %d %s", recorder.Code, recorder.Body.String())
	}
	server.clock.Advance(cooldown)

	recorder = server.do(t, http.MethodPost, likePath, otherTicket, map[string]int{"count": 150})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", recorder.Body.String())
	}
	recorder = server.do(t, http.MethodPost, likePath, otherTicket, nil)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 within cooldown, got %d", recorder.Code)
	}
	server.clock.Advance(cooldown)

	recorder = server.do(t, http.MethodPost, likePath, otherTicket, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected bodiless like to default to one, got %d %s", recorder.Code, recorder.Body.String())
	}
	server.clock.Advance(cooldown)

	rows := server.sample(t, otherTicket, "scene=Likes")
	if len(rows) != 1 || rows[0].Likes != 101 {
		t.Fatalf("expected 101 likes after clamped and default likes, got %+v", rows)
	}

	var owner users.Account
	if err := server.db.Where("user_id = ?", stored.UserID).Take(&owner).Error; err != nil {
		t.Fatalf("failed to load owner account: %v", err)
	}
	if owner.LikesReceived != 101 {
		t.Fatalf("expected owner likes_received 101, got %d", owner.LikesReceived)
	}

	recorder = server.do(t, http.MethodPost, "/api/v1/structures/abc/like", otherTicket, nil)
	if recorder.Code != http.StatusBadRequest || errorCode(t, recorder) != "invalid_structure_id" {
		t.Fatalf("expected 400 invalid_structure_id, got %d", recorder.Code)
	}
}

func TestStorageDeadlineReturnsInternalError(t *testing.T) {
	server := newTestServer(t)
	stored := server.submit(t, ownerTicket, "Late", "rope")
	server.submit(t, otherTicket, "Warm", "rope")

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	recorder := server.doWithContext(t, expired, http.MethodPost, "/api/v1/structures", ownerTicket, map[string]any{
		"username": "Sam",
		"scene":    "Late",
		"prefab":   "anchor",
		"rot_w":    1,
	})
	if recorder.Code != http.StatusInternalServerError || errorCode(t, recorder) != "internal_error" {
		t.Fatalf("expected 500 internal_error for submit, got %d %s", recorder.Code, recorder.Body.String())
	}
	server.clock.Advance(cooldown)

	likePath := "/api/v1/structures/" + strconv.FormatInt(stored.ID, 10) + "/like"
	recorder = server.doWithContext(t, expired, http.MethodPost, likePath, otherTicket, map[string]int{"count": 3})
	if recorder.Code != http.StatusInternalServerError || errorCode(t, recorder) != "internal_error" {
		t.Fatalf("expected 500 internal_error for like, got %d %s", recorder.Code, recorder.Body.String())
	}
	server.clock.Advance(cooldown)

	recorder = server.doWithContext(t, expired, http.MethodGet, "/api/v1/structures?scene=Late", ownerTicket, nil)
	if recorder.Code != http.StatusInternalServerError || errorCode(t, recorder) != "internal_error" {
		t.Fatalf("expected 500 internal_error for sample, got %d %s", recorder.Code, recorder.Body.String())
	}
	server.clock.Advance(cooldown)

	rows := server.sample(t, ownerTicket, "scene=Late")
	if len(rows) != 1 || rows[0].ID != stored.ID || rows[0].Likes != 0 {
		t.Fatalf("expected only the original structure with no likes, got %+v", rows)
	}
	likerID, err := strconv.ParseInt(otherTicket, 10, 64)
	if err != nil {
		t.Fatalf("failed to parse ticket: %v", err)
	}
	var liker users.Account
	if err := server.db.Where("user_id = ?", likerID).Take(&liker).Error; err != nil {
		t.Fatalf("failed to load liker account: %v", err)
	}
	if liker.LikesSent != 0 {
		t.Fatalf("expected no likes credited to the liker, got %d", liker.LikesSent)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	server := newTestServer(t)
	server.submit(t, ownerTicket, "Ops", "p")

	recorder := server.do(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", recorder.Code)
	}
	if recorder.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected a generated request id")
	}

	recorder = server.do(t, http.MethodGet, "/metrics", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected metrics, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	for _, metric := range []string{"peakstranding_http_requests_total", "peakstranding_structures_submissions_total"} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %s in exposition", metric)
		}
	}
}
