package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiptmanager/database"
	"receiptmanager/jobs"
	"receiptmanager/models"
	"receiptmanager/services"
	"receiptmanager/storage"
	"receiptmanager/utils"
)

const (
	testSecret = "routes-test-secret"
	testIssuer = "receiptmanager"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetLogOutput(io.Discard)
}

type testServer struct {
	router *gin.Engine
	store  *storage.MemoryStore
	meta   *database.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStore()
	meta := database.NewMemoryStore()

	hub := services.NewEventHub()
	optimizer := services.NewJPEGOptimizer(0, 0)
	tree := services.NewTreeService(store, true)
	bulk := services.NewBulkService(store, meta, tree, hub)
	files := services.NewFileService(store, meta, bulk, tree, hub, 16, time.Minute)

	container := &ServiceContainer{
		JWTSecret:    testSecret,
		JWTIssuer:    testIssuer,
		MaxFileSize:  1 << 20,
		Tree:         tree,
		Bulk:         bulk,
		Files:        files,
		Uploads:      services.NewUploadService(store, meta, optimizer, tree, hub, 2, 1<<20, time.Minute),
		Requests:     services.NewRequestService(meta, files, bulk, hub),
		Search:       services.NewDefaultSearchService(meta, 50),
		Labels:       services.NewLabelService(meta),
		Events:       hub,
		Recompressor: jobs.NewRecompressor(store, meta, optimizer, hub),
	}

	router := gin.New()
	SetupRoutes(router.Group("/api"), container)
	return &testServer{router: router, store: store, meta: meta}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := utils.GenerateJWTTokenWithSecret(&models.User{ID: userID, Role: role}, testSecret, testIssuer, time.Hour)
	require.NoError(t, err)
	return tok
}

// envelope mirrors utils.APIResponse with Data left raw.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, tok string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.serve(t, req, tok)
}

func (s *testServer) serve(t *testing.T, req *http.Request, tok string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (s *testServer) putFile(t *testing.T, key, body string, tags map[string]string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.store.PutBytes(ctx, key, []byte(body), "application/pdf"))
	folder, name := utils.SplitObjectKey(key)
	id, err := s.meta.CreateDocument(ctx, database.CollectionFiles, models.FileEntry{
		Name:        name,
		ParentPath:  folder,
		FullPath:    key,
		Size:        int64(len(body)),
		ContentType: "application/pdf",
		UploadedAt:  time.Now(),
		Tags:        tags,
	})
	require.NoError(t, err)
	return id
}

func (s *testServer) exists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := storage.Exists(context.Background(), s.store, key)
	require.NoError(t, err)
	return ok
}

func TestRoutes_RequireToken(t *testing.T) {
	srv := newTestServer(t)
	w, env := srv.do(t, http.MethodGet, "/api/tree", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)
}

func TestRoutes_TreeAndFolders(t *testing.T) {
	srv := newTestServer(t)
	editor := token(t, "ed", models.RoleEditor)
	srv.putFile(t, "files/2024/jan/a.pdf", "a", nil)

	w, env := srv.do(t, http.MethodPost, "/api/folders", editor, gin.H{"parent": "/files/", "name": "Archive"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"path":"/files/Archive/"}`, string(env.Data))

	w, env = srv.do(t, http.MethodGet, "/api/tree?path=/files/", editor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view services.FolderView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.True(t, view.Materialized)
	require.Len(t, view.Folders, 2)
	assert.Equal(t, "2024", view.Folders[0].Name)
	assert.Equal(t, "Archive", view.Folders[1].Name)

	w, _ = srv.do(t, http.MethodPost, "/api/folders", editor, gin.H{"parent": "/files/", "name": "Archive"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = srv.do(t, http.MethodPost, "/api/folders/rename", editor, gin.H{"path": "/files/2024/", "new_name": "2025"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = srv.do(t, http.MethodPost, "/api/folders/rename", token(t, "ad", models.RoleAdmin), gin.H{"path": "/files/2024/", "new_name": "2025"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, srv.exists(t, "files/2025/jan/a.pdf"))
	assert.False(t, srv.exists(t, "files/2024/jan/a.pdf"))
}

func TestRoutes_CopyAndMove(t *testing.T) {
	srv := newTestServer(t)
	editor := token(t, "ed", models.RoleEditor)
	srv.putFile(t, "files/a/one.pdf", "1", nil)
	srv.putFile(t, "files/a/two.pdf", "2", nil)

	w, env := srv.do(t, http.MethodPost, "/api/files/copy", editor, gin.H{
		"folders":     []string{"/files/a/"},
		"destination": "/files/b/",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result services.BulkResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 2, result.Succeeded)
	assert.True(t, srv.exists(t, "files/b/a/one.pdf"))

	w, _ = srv.do(t, http.MethodPost, "/api/files/move", editor, gin.H{
		"folders":     []string{"/files/a/"},
		"destination": "/files/a/nested/",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, srv.exists(t, "files/a/one.pdf"))

	w, _ = srv.do(t, http.MethodPost, "/api/files/move", editor, gin.H{
		"files":       []string{"files/a/one.pdf"},
		"destination": "/files/c/",
		"policy":      "sideways",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = srv.do(t, http.MethodPost, "/api/files/copy", token(t, "v", models.RoleViewer), gin.H{
		"files":       []string{"files/a/one.pdf"},
		"destination": "/files/c/",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoutes_TransferGuards(t *testing.T) {
	srv := newTestServer(t)
	editor := token(t, "ed", models.RoleEditor)
	admin := token(t, "ad", models.RoleAdmin)
	srv.putFile(t, "files/a/one.pdf", "new", nil)
	srv.putFile(t, "files/b/one.pdf", "old", nil)
	require.NoError(t, srv.store.PutBytes(context.Background(), "private/secret.txt", []byte("s"), "text/plain"))

	w, _ := srv.do(t, http.MethodPost, "/api/files/move", editor, gin.H{
		"files":       []string{"private/secret.txt"},
		"destination": "/files/",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = srv.do(t, http.MethodPost, "/api/files/delete", admin, gin.H{"files": []string{"private/secret.txt"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, srv.exists(t, "private/secret.txt"))
	assert.False(t, srv.exists(t, "files/secret.txt"))

	overwrite := gin.H{
		"files":       []string{"files/a/one.pdf"},
		"destination": "/files/b/",
		"policy":      "overwrite",
	}
	w, _ = srv.do(t, http.MethodPost, "/api/files/copy", editor, overwrite)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = srv.do(t, http.MethodPost, "/api/files/move", editor, overwrite)
	assert.Equal(t, http.StatusForbidden, w.Code)
	data, err := srv.store.GetBytes(context.Background(), "files/b/one.pdf")
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	w, _ = srv.do(t, http.MethodPost, "/api/files/copy", admin, overwrite)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data, err = srv.store.GetBytes(context.Background(), "files/b/one.pdf")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestRoutes_DeleteByEditorBecomesRequest(t *testing.T) {
	srv := newTestServer(t)
	editor := token(t, "ed", models.RoleEditor)
	admin := token(t, "ad", models.RoleAdmin)
	srv.putFile(t, "files/a/one.pdf", "1", nil)

	w, env := srv.do(t, http.MethodPost, "/api/files/delete", editor, gin.H{"files": []string{"files/a/one.pdf"}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var created []models.PendingRequest
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.Len(t, created, 1)
	assert.Equal(t, models.RequestStatusPending, created[0].Status)
	assert.True(t, srv.exists(t, "files/a/one.pdf"))

	w, _ = srv.do(t, http.MethodPost, "/api/requests/"+created[0].ID+"/approve", editor, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = srv.do(t, http.MethodPost, "/api/requests/"+created[0].ID+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var approved models.PendingRequest
	require.NoError(t, json.Unmarshal(env.Data, &approved))
	assert.Equal(t, models.RequestStatusApproved, approved.Status)
	assert.Equal(t, "ad", approved.ProcessedBy)
	assert.False(t, srv.exists(t, "files/a/one.pdf"))

	// Rejecting a closed request conflicts.
	w, _ = srv.do(t, http.MethodPost, "/api/requests/"+created[0].ID+"/reject", admin, gin.H{"reason": "late"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRoutes_DeleteByAdminIsImmediate(t *testing.T) {
	srv := newTestServer(t)
	srv.putFile(t, "files/a/one.pdf", "1", nil)
	srv.putFile(t, "files/b/two.pdf", "2", nil)

	w, env := srv.do(t, http.MethodPost, "/api/files/delete", token(t, "ad", models.RoleAdmin), gin.H{
		"files":   []string{"files/a/one.pdf"},
		"folders": []string{"/files/b/"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result services.BulkResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 2, result.Succeeded)
	assert.False(t, srv.exists(t, "files/a/one.pdf"))
	assert.False(t, srv.exists(t, "files/b/two.pdf"))
}

func TestRoutes_RequestsListing(t *testing.T) {
	srv := newTestServer(t)
	alice := token(t, "alice", models.RoleViewer)
	bob := token(t, "bob", models.RoleViewer)

	w, _ := srv.do(t, http.MethodPost, "/api/requests/role-upgrade", alice, gin.H{"role": "editor"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, _ = srv.do(t, http.MethodPost, "/api/requests/role-upgrade", bob, gin.H{"role": "admin"})
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = srv.do(t, http.MethodPost, "/api/requests/role-upgrade", bob, gin.H{"role": "overlord"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, env := srv.do(t, http.MethodGet, "/api/requests", alice, nil)
	var own []models.PendingRequest
	require.NoError(t, json.Unmarshal(env.Data, &own))
	require.Len(t, own, 1)
	assert.Equal(t, "alice", own[0].RequestedBy)

	_, env = srv.do(t, http.MethodGet, "/api/requests?status=pending", token(t, "ad", models.RoleAdmin), nil)
	var all []models.PendingRequest
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all, 2)

	w, _ = srv.do(t, http.MethodGet, "/api/requests?status=sideways", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_FileRenameAndTags(t *testing.T) {
	srv := newTestServer(t)
	id := srv.putFile(t, "files/a/one.pdf", "1", nil)

	w, env := srv.do(t, http.MethodPatch, "/api/files/"+id+"/rename", token(t, "ed", models.RoleEditor), gin.H{"new_name": "renamed.pdf"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var pending models.PendingRequest
	require.NoError(t, json.Unmarshal(env.Data, &pending))
	assert.Equal(t, models.RequestTypeRename, pending.Type)

	admin := token(t, "ad", models.RoleAdmin)
	w, env = srv.do(t, http.MethodPatch, "/api/files/"+id+"/rename", admin, gin.H{"new_name": "direct.pdf"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var file models.FileEntry
	require.NoError(t, json.Unmarshal(env.Data, &file))
	assert.Equal(t, "files/a/direct.pdf", file.FullPath)

	w, env = srv.do(t, http.MethodPatch, "/api/files/"+id+"/tags", admin, gin.H{"set": gin.H{"vendor": "ACME"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &file))
	assert.Equal(t, map[string]string{"vendor": "ACME"}, file.Tags)

	w, _ = srv.do(t, http.MethodPatch, "/api/files/"+id+"/tags", admin, gin.H{"set": gin.H{"a.b": "x"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = srv.do(t, http.MethodGet, "/api/files/"+id+"/download", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"download_url":"memory://files/a/direct.pdf"}`, string(env.Data))

	w, _ = srv.do(t, http.MethodGet, "/api/files/missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_Search(t *testing.T) {
	srv := newTestServer(t)
	viewer := token(t, "v", models.RoleViewer)
	srv.putFile(t, "files/a.pdf", "a", map[string]string{"vendor": "ACME", "year": "2024"})
	srv.putFile(t, "files/b.pdf", "b", map[string]string{"vendor": "Globex", "year": "2024"})

	w, env := srv.do(t, http.MethodPost, "/api/search", viewer, gin.H{
		"conditions": []gin.H{
			{"key": "vendor", "operator": "equals", "value": "ACME"},
			{"key": "year", "operator": "equals", "value": "2024"},
		},
		"combine": "AND",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result services.SearchResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Len(t, result.Files, 1)
	assert.Equal(t, "a.pdf", result.Files[0].Name)

	w, _ = srv.do(t, http.MethodPost, "/api/search", viewer, gin.H{
		"conditions": []gin.H{{"key": "vendor", "operator": "startsWith", "value": "A"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_LabelsAndFavorites(t *testing.T) {
	srv := newTestServer(t)
	editor := token(t, "ed", models.RoleEditor)

	w, _ := srv.do(t, http.MethodGet, "/api/labels?path=/files/2024/", editor, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = srv.do(t, http.MethodPut, "/api/labels?path=/files/2024/", editor, gin.H{"tags": []string{"tax", " tax "}, "color": "#ff0000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	_, env := srv.do(t, http.MethodGet, "/api/labels?path=files/2024", editor, nil)
	var label models.FolderLabel
	require.NoError(t, json.Unmarshal(env.Data, &label))
	assert.Equal(t, []string{"tax"}, label.Tags)
	assert.Equal(t, "ed", label.UpdatedBy)

	w, _ = srv.do(t, http.MethodPut, "/api/labels?path=/files/2024/", editor, gin.H{"color": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = srv.do(t, http.MethodPost, "/api/favorites/toggle", editor, gin.H{"path": "/files/2024/"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"path":"/files/2024/","favorite":true}`, string(env.Data))

	_, env = srv.do(t, http.MethodGet, "/api/favorites", editor, nil)
	var favorites []models.Favorite
	require.NoError(t, json.Unmarshal(env.Data, &favorites))
	require.Len(t, favorites, 1)
	assert.Equal(t, "/files/2024/", favorites[0].Path)
}

func TestRoutes_UploadBatch(t *testing.T) {
	srv := newTestServer(t)
	editor := token(t, "ed", models.RoleEditor)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for _, name := range []string{"r1.pdf", "r2.pdf"} {
		part, err := form.CreateFormFile("files[]", name)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4 " + name))
		require.NoError(t, err)
		require.NoError(t, form.WriteField("relativePath[]", "scans/"+name))
	}
	require.NoError(t, form.WriteField("destination", "/files/inbox/"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w, env := srv.serve(t, req, editor)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var status services.BatchStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	require.Len(t, status.Tasks, 2)

	require.Eventually(t, func() bool {
		_, env := srv.do(t, http.MethodGet, "/api/uploads/"+status.ID, editor, nil)
		var current services.BatchStatus
		return json.Unmarshal(env.Data, &current) == nil && current.Complete && current.Done == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, srv.exists(t, "files/inbox/scans/r1.pdf"))
	assert.True(t, srv.exists(t, "files/inbox/scans/r2.pdf"))

	w, _ = srv.do(t, http.MethodPost, "/api/uploads/"+status.ID+"/pause?key=scans/r1.pdf", editor, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = srv.do(t, http.MethodDelete, "/api/uploads/"+status.ID, editor, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = srv.do(t, http.MethodGet, "/api/uploads/"+status.ID, editor, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_UploadRejectsInvalidFileName(t *testing.T) {
	srv := newTestServer(t)

	for _, field := range []string{"", "scans/bad|name.pdf"} {
		var body bytes.Buffer
		form := multipart.NewWriter(&body)
		part, err := form.CreateFormFile("files[]", "bad|name.pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4"))
		require.NoError(t, err)
		if field != "" {
			require.NoError(t, form.WriteField("relativePath[]", field))
		}
		require.NoError(t, form.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
		req.Header.Set("Content-Type", form.FormDataContentType())
		w, _ := srv.serve(t, req, token(t, "ed", models.RoleEditor))
		assert.Equal(t, http.StatusBadRequest, w.Code, "relative path %q", field)
	}
	assert.Empty(t, srv.store.Keys())
}

func TestRoutes_AdminRecompress(t *testing.T) {
	srv := newTestServer(t)

	w, _ := srv.do(t, http.MethodPost, "/api/admin/recompress", token(t, "ed", models.RoleEditor), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := srv.do(t, http.MethodPost, "/api/admin/recompress", token(t, "ad", models.RoleAdmin), gin.H{"path": "/files/"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result services.BulkResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Zero(t, result.Succeeded)
}
