package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/middleware"
	"github.com/go-green-rwanda/admin-backend/internal/storage/local"
)

// ---------------------------------------------------------------------------
// Router helper
// ---------------------------------------------------------------------------

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testPrincipal() *middleware.Principal {
	return &middleware.Principal{
		ID:        "admin-1",
		Email:     "admin@gogreen.rw",
		Name:      "Aline",
		Role:      "super_admin",
		SessionID: "sess-1",
	}
}

func newAuditRouter(t *testing.T, archiver *audit.Archiver) (*audit.Store, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := audit.NewStore(audit.NewMemoryBackend(), audit.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, store.Initialize(context.Background()))

	h := NewAuditHandler(store, archiver, ';')
	h.now = func() time.Time { return fixedNow }
	h.heartbeat = time.Hour

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.PrincipalKey, testPrincipal())
		c.Next()
	})
	r.GET("/logs", h.ListLogs)
	r.GET("/logs/:id", h.GetLog)
	r.POST("/logs", h.CreateLog)
	r.DELETE("/logs", h.ClearLogs)
	r.GET("/stats", h.GetStats)
	r.GET("/export", h.Export)
	r.POST("/export/archive", h.Archive)
	r.GET("/export/archives", h.ListArchives)
	r.GET("/stream", h.StreamChanges)
	return store, r
}

func seed(t *testing.T, store *audit.Store) {
	t.Helper()
	at := func(h int) *time.Time {
		ts := fixedNow.Add(time.Duration(h) * time.Hour)
		return &ts
	}
	for _, in := range []audit.EntryInput{
		{ID: "p1", Timestamp: at(-3), Actor: audit.Actor{ID: "a1", Name: "Aline", Type: audit.ActorAdmin}, Action: audit.ActionUpdate, Category: audit.CategoryProduct, Severity: audit.SeverityHigh, Status: audit.StatusSuccess, Description: "Updated product price"},
		{ID: "b1", Timestamp: at(-1), Actor: audit.Actor{ID: "a2", Name: "Eric", Type: audit.ActorAdmin}, Action: audit.ActionDelete, Category: audit.CategoryBlog, Severity: audit.SeverityLow, Status: audit.StatusFailed, Description: "Deleted draft post"},
		{ID: "u1", Timestamp: at(-2), Actor: audit.Actor{ID: "a1", Name: "Aline", Type: audit.ActorAdmin}, Action: audit.ActionCreate, Category: audit.CategoryUser, Severity: audit.SeverityCritical, Status: audit.StatusSuccess, Description: "Created user"},
	} {
		store.Append(context.Background(), in)
	}
}

func do(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.6478.127 Safari/537.36")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func entryIDs(entries []audit.Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// ---------------------------------------------------------------------------
// ListLogs
// ---------------------------------------------------------------------------

func TestListLogs_NewestFirstWithSummary(t *testing.T) {
	store, r := newAuditRouter(t, nil)
	seed(t, store)

	w := do(r, "GET", "/logs", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp AuditLogListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"b1", "u1", "p1"}, entryIDs(resp.Entries))
	assert.Equal(t, 3, resp.Total)
	assert.False(t, resp.IsLoading)
	assert.Equal(t, 3, resp.Summary.Total)
	assert.Equal(t, 2, resp.Summary.Success)
	assert.Equal(t, 1, resp.Summary.Failed)
	assert.Equal(t, 2, resp.Summary.UniqueActors)
}

func TestListLogs_Filtered(t *testing.T) {
	store, r := newAuditRouter(t, nil)
	seed(t, store)

	w := do(r, "GET", "/logs?actorType=admin&search=aline&sort=asc", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp AuditLogListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"p1", "u1"}, entryIDs(resp.Entries))
	assert.Equal(t, 2, resp.Summary.Total)
	assert.Equal(t, 3, resp.Total, "total counts the unfiltered store")
	assert.Equal(t, "aline", resp.Filters.Search)
}

func TestListLogs_BadQuery(t *testing.T) {
	_, r := newAuditRouter(t, nil)

	for _, target := range []string{
		"/logs?category=garden",
		"/logs?dateFrom=yesterday",
		"/logs?sort=sideways",
	} {
		w := do(r, "GET", target, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

// ---------------------------------------------------------------------------
// GetLog
// ---------------------------------------------------------------------------

func TestGetLog(t *testing.T) {
	store, r := newAuditRouter(t, nil)
	seed(t, store)

	w := do(r, "GET", "/logs/u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var e audit.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, "Created user", e.Description)

	w = do(r, "GET", "/logs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---------------------------------------------------------------------------
// CreateLog
// ---------------------------------------------------------------------------

func TestCreateLog_DefaultsFromRequest(t *testing.T) {
	store, r := newAuditRouter(t, nil)

	body := `{"action":"status_change","category":"order","severity":"medium","status":"success","description":"Approved order 42"}`
	w := do(r, "POST", "/logs", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var e audit.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, fixedNow, e.Timestamp)
	assert.Equal(t, "admin-1", e.Actor.ID)
	assert.Equal(t, audit.RoleSuperAdmin, e.Actor.Role)
	assert.Equal(t, audit.ActorAdmin, e.Actor.Type)
	assert.Equal(t, "sess-1", e.SessionID)
	assert.Equal(t, "Chrome", e.Device.Browser)
	assert.Equal(t, "192.0.2.1", e.Location.IP)

	assert.Equal(t, 1, store.Len())
}

func TestCreateLog_KeepsExplicitActor(t *testing.T) {
	_, r := newAuditRouter(t, nil)

	body := `{"actor":{"id":"sys","name":"Scheduler","type":"system"},"action":"update","category":"settings","severity":"low","status":"pending"}`
	w := do(r, "POST", "/logs", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var e audit.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, "sys", e.Actor.ID)
	assert.Equal(t, audit.ActorSystem, e.Actor.Type)
}

func TestCreateLog_Invalid(t *testing.T) {
	store, r := newAuditRouter(t, nil)

	w := do(r, "POST", "/logs", `{"action":"status_change","category":"order","severity":"extreme","status":"success"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "severity")

	w = do(r, "POST", "/logs", `{"action":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 0, store.Len())
}

func TestCreateLog_OversizedFields(t *testing.T) {
	store, r := newAuditRouter(t, nil)

	body := `{"id":"` + strings.Repeat("x", audit.MaxIDLength+1) + `","action":"status_change","category":"order","severity":"low","status":"success"}`
	w := do(r, "POST", "/logs", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "id exceeds")

	body = `{"requestId":"` + strings.Repeat("r", audit.MaxFieldLength+1) + `","action":"status_change","category":"order","severity":"low","status":"success"}`
	w = do(r, "POST", "/logs", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "requestId exceeds")

	assert.Equal(t, 0, store.Len())
}

// ---------------------------------------------------------------------------
// ClearLogs / GetStats
// ---------------------------------------------------------------------------

func TestClearLogs(t *testing.T) {
	store, r := newAuditRouter(t, nil)
	seed(t, store)

	w := do(r, "DELETE", "/logs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"removed":3`)
	assert.Equal(t, 0, store.Len())
}

func TestGetStats(t *testing.T) {
	store, r := newAuditRouter(t, nil)
	seed(t, store)

	w := do(r, "GET", "/stats?status=success", "")
	require.Equal(t, http.StatusOK, w.Code)

	var s audit.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, 1, s.BySeverity[audit.SeverityCritical])
	assert.Equal(t, 0, s.BySeverity[audit.SeverityLow])
	assert.Equal(t, 1, s.UniqueActors)
}

// ---------------------------------------------------------------------------
// Export / Archive
// ---------------------------------------------------------------------------

func TestExport_JSON(t *testing.T) {
	store, r := newAuditRouter(t, nil)
	seed(t, store)

	w := do(r, "GET", "/export?category=blog", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="audit-logs-2026-03-14T09:30:00Z.json"`, w.Header().Get("Content-Disposition"))

	entries, err := audit.ParseJSON(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, entryIDs(entries))
}

func TestExport_DelimitedText(t *testing.T) {
	store, r := newAuditRouter(t, nil)
	seed(t, store)

	w := do(r, "GET", "/export?format=CSV", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))
	assert.True(t, strings.HasSuffix(w.Header().Get("Content-Disposition"), `.csv"`))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ID;Timestamp;"))
	assert.True(t, strings.HasPrefix(lines[1], "b1;"))
}

func TestExport_UnsupportedFormat(t *testing.T) {
	_, r := newAuditRouter(t, nil)
	w := do(r, "GET", "/export?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestArchive_NotConfigured(t *testing.T) {
	_, r := newAuditRouter(t, nil)
	w := do(r, "POST", "/export/archive", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListArchives_NotConfigured(t *testing.T) {
	_, r := newAuditRouter(t, nil)
	w := do(r, "GET", "/export/archives", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListArchives_AfterArchive(t *testing.T) {
	s, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	store, r := newAuditRouter(t, audit.NewArchiver(s, ';'))
	seed(t, store)

	w := do(r, "GET", "/export/archives", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"archives":[],"total":0}`, w.Body.String())

	w = do(r, "POST", "/export/archive", `{"format":"json"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created audit.ArchiveResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = do(r, "GET", "/export/archives", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Archives []audit.ArchiveInfo `json:"archives"`
		Total    int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, created.Path, resp.Archives[0].Path)
	assert.Equal(t, created.Checksum, resp.Archives[0].Checksum)
	assert.Equal(t, audit.FormatJSON, resp.Archives[0].Format)
}

func TestArchive_StoresExport(t *testing.T) {
	s, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	store, r := newAuditRouter(t, audit.NewArchiver(s, ';'))
	seed(t, store)

	w := do(r, "POST", "/export/archive?severity=high", `{"format":"csv"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res audit.ArchiveResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, audit.FormatCSV, res.Format)
	assert.Equal(t, 1, res.Entries)
	assert.True(t, strings.HasPrefix(res.Path, "exports/"), res.Path)

	w = do(r, "POST", "/export/archive", `{"format":"pdf"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---------------------------------------------------------------------------
// StreamChanges
// ---------------------------------------------------------------------------

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, sc *bufio.Scanner) sseEvent {
	t.Helper()
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	t.Fatalf("stream ended before a complete event: %v", sc.Err())
	return ev
}

func TestStreamChanges(t *testing.T) {
	store, r := newAuditRouter(t, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	sc := bufio.NewScanner(resp.Body)
	ready := readEvent(t, sc)
	assert.Equal(t, "ready", ready.name)
	assert.Contains(t, ready.data, `"total":0`)

	seed(t, store)
	for _, want := range []string{"p1", "b1", "u1"} {
		ev := readEvent(t, sc)
		assert.Equal(t, "append", ev.name)

		var change audit.ChangeEvent
		require.NoError(t, json.Unmarshal([]byte(ev.data), &change))
		require.NotNil(t, change.Entry)
		assert.Equal(t, want, change.Entry.ID)
	}

	store.Clear(context.Background())
	assert.Equal(t, "clear", readEvent(t, sc).name)
}
