package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/CageChen/entrytree/internal/config"
	"github.com/CageChen/entrytree/internal/engine"
	"github.com/CageChen/entrytree/internal/engine/memengine"
	"github.com/CageChen/entrytree/internal/retry"
	"github.com/CageChen/entrytree/internal/walker"
	"github.com/CageChen/entrytree/internal/watcher"
	"github.com/CageChen/entrytree/internal/workspace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testConfig = `
watch: false
workspaces:
  - name: mem
    backend: memory
    seed:
      - {path: /a.txt, size: 100}
      - {path: /b.txt, size: 250}
      - {path: /sub/c.txt, size: 50}
`

func setupRouter(t *testing.T) (*gin.Engine, *workspace.Service, *WSHandler) {
	t.Helper()
	r, _, svc, ws := setupRouterWithConfig(t)
	return r, svc, ws
}

func setupRouterWithConfig(t *testing.T) (*gin.Engine, *config.Config, *workspace.Service, *WSHandler) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadArgs([]string{"-config", cfgPath})
	if err != nil {
		t.Fatalf("LoadArgs failed: %v", err)
	}

	svc := workspace.New(workspace.Options{
		Retry: retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1},
	})
	if err := svc.Open(context.Background(), cfg.Workspaces); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	ws := NewWSHandler()
	r := gin.New()
	Register(r.Group("/api"), cfg, svc, ws)
	return r, cfg, svc, ws
}

func get(t *testing.T, r http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	r.ServeHTTP(w, req)
	return w
}

func memBackend(t *testing.T, svc *workspace.Service) *memengine.Backend {
	t.Helper()
	ws, err := svc.Lookup("mem")
	if err != nil {
		t.Fatal(err)
	}
	return ws.Backend.(*memengine.Backend)
}

func TestGetWorkspaces(t *testing.T) {
	r, _, _ := setupRouter(t)

	w := get(t, r, "/api/workspaces")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Workspaces []workspace.Info `json:"workspaces"`
		Limits     walker.Limits    `json:"limits"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Workspaces) != 1 || body.Workspaces[0].Name != "mem" || body.Workspaces[0].Backend != "memory" {
		t.Errorf("unexpected workspaces %+v", body.Workspaces)
	}
	if body.Limits != walker.DefaultLimits() {
		t.Errorf("expected default limits, got %+v", body.Limits)
	}
}

func TestGetTree(t *testing.T) {
	r, _, _ := setupRouter(t)

	w := get(t, r, "/api/workspaces/mem/tree?path=/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var tree struct {
		TotalSize           uint64 `json:"totalSize"`
		MaxRecursionReached bool   `json:"maxRecursionReached"`
		MaxFilesReached     bool   `json:"maxFilesReached"`
		Entries             []struct {
			Path string `json:"path"`
			Size uint64 `json:"size"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &tree); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tree.TotalSize != 400 || len(tree.Entries) != 3 || tree.MaxRecursionReached || tree.MaxFilesReached {
		t.Errorf("unexpected tree %+v", tree)
	}
	if tree.Entries[2].Path != "/sub/c.txt" || tree.Entries[2].Size != 50 {
		t.Errorf("unexpected third entry %+v", tree.Entries[2])
	}

	w = get(t, r, "/api/workspaces/mem/tree?depth=0")
	if !strings.Contains(w.Body.String(), `"maxRecursionReached":true`) {
		t.Errorf("expected depth-limited tree, got %s", w.Body.String())
	}
}

func TestGetTree_BadRequests(t *testing.T) {
	r, _, _ := setupRouter(t)

	tests := []struct {
		url  string
		code int
	}{
		{"/api/workspaces/mem/tree?depth=abc", http.StatusBadRequest},
		{"/api/workspaces/mem/tree?files=0", http.StatusBadRequest},
		{"/api/workspaces/mem/tree?depth=-1", http.StatusBadRequest},
		{"/api/workspaces/nope/tree", http.StatusNotFound},
	}
	for _, tt := range tests {
		if w := get(t, r, tt.url); w.Code != tt.code {
			t.Errorf("GET %s: expected %d, got %d", tt.url, tt.code, w.Code)
		}
	}
}

func TestGetTree_FailedBranchIsReported(t *testing.T) {
	r, svc, _ := setupRouter(t)
	memBackend(t, svc).Fail("/sub", engine.ErrorTagAccessDenied, -1)

	w := get(t, r, "/api/workspaces/mem/tree")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"totalSize":350`) || !strings.Contains(w.Body.String(), `"tag":"AccessDenied"`) {
		t.Errorf("expected partial tree with a failure, got %s", w.Body.String())
	}
}

func TestGetChildren(t *testing.T) {
	r, _, _ := setupRouter(t)

	w := get(t, r, "/api/workspaces/mem/children?path=/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Path     string `json:"path"`
		Children []struct {
			Type string  `json:"type"`
			Name string  `json:"name"`
			Size *uint64 `json:"size"`
		} `json:"children"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(body.Children))
	}
	if c := body.Children[0]; c.Type != "file" || c.Name != "a.txt" || c.Size == nil || *c.Size != 100 {
		t.Errorf("unexpected first child %+v", c)
	}
	if c := body.Children[2]; c.Type != "folder" || c.Size != nil {
		t.Errorf("unexpected folder child %+v", c)
	}
}

func TestGetStat(t *testing.T) {
	r, _, _ := setupRouter(t)

	w := get(t, r, "/api/workspaces/mem/stat?path=/sub/c.txt")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"path":"/sub/c.txt"`) || !strings.Contains(w.Body.String(), `"type":"file"`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	r, svc, _ := setupRouter(t)
	mem := memBackend(t, svc)
	mem.Fail("/sub", engine.ErrorTagAccessDenied, -1)
	mem.Fail("/b.txt", engine.ErrorTagOffline, -1)

	tests := []struct {
		url  string
		code int
	}{
		{"/api/workspaces/mem/stat?path=/missing", http.StatusNotFound},
		{"/api/workspaces/mem/children?path=/a.txt", http.StatusBadRequest},
		{"/api/workspaces/mem/children?path=/sub", http.StatusForbidden},
		{"/api/workspaces/mem/stat?path=/b.txt", http.StatusServiceUnavailable},
		{"/api/workspaces/nope/children", http.StatusNotFound},
	}
	for _, tt := range tests {
		if w := get(t, r, tt.url); w.Code != tt.code {
			t.Errorf("GET %s: expected %d, got %d (%s)", tt.url, tt.code, w.Code, w.Body.String())
		}
	}
}

func send(t *testing.T, r http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestAddAndRemoveWorkspace(t *testing.T) {
	r, cfg, svc, _ := setupRouterWithConfig(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), make([]byte, 42), 0o644); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(config.Workspace{Name: "disk", Path: dir})
	w := send(t, r, http.MethodPost, "/api/workspaces", string(body))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var info workspace.Info
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Name != "disk" || info.Backend != "local" {
		t.Errorf("unexpected workspace %+v", info)
	}

	w = get(t, r, "/api/workspaces/disk/tree")
	if !strings.Contains(w.Body.String(), `"totalSize":42`) {
		t.Errorf("expected the new workspace to be served, got %s", w.Body.String())
	}

	saved, err := config.LoadArgs([]string{"-config", cfg.GetConfigFilePath()})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(saved.Workspaces) != 2 || saved.Workspaces[1].Name != "disk" {
		t.Errorf("expected the workspace to be saved, got %+v", saved.Workspaces)
	}

	if w := send(t, r, http.MethodDelete, "/api/workspaces/disk", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := svc.Lookup("disk"); err == nil {
		t.Error("expected the workspace to be closed")
	}
	saved, err = config.LoadArgs([]string{"-config", cfg.GetConfigFilePath()})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(saved.Workspaces) != 1 {
		t.Errorf("expected the removal to be saved, got %+v", saved.Workspaces)
	}
}

func TestAddWorkspace_Rejected(t *testing.T) {
	r, cfg, svc, _ := setupRouterWithConfig(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name":`},
		{"duplicate name", `{"name":"mem","backend":"memory"}`},
		{"unknown backend", `{"name":"x","backend":"ftp"}`},
		{"missing directory", `{"name":"gone","path":"` + filepath.ToSlash(filepath.Join(t.TempDir(), "missing")) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := send(t, r, http.MethodPost, "/api/workspaces", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
	if len(cfg.Workspaces) != 1 || len(svc.Workspaces()) != 1 {
		t.Errorf("expected rejected workspaces to leave no trace, got %d configured, %d open", len(cfg.Workspaces), len(svc.Workspaces()))
	}

	if w := send(t, r, http.MethodDelete, "/api/workspaces/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestWebSocket_CloseDisconnectsClients(t *testing.T) {
	r, _, ws := setupRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, ws, 1)

	ws.Close()
	if ws.Clients() != 0 {
		t.Errorf("expected no clients after Close, got %d", ws.Clients())
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected a going-away close, got %v", err)
	}
}

func waitForClients(t *testing.T, ws *WSHandler, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for ws.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, ws.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_BroadcastsEntryChanges(t *testing.T) {
	r, _, ws := setupRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, ws, 1)

	ws.OnEntryChange(watcher.Event{Workspace: "mem", Type: watcher.EventWrite, Path: "/a.txt"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string      `json:"type"`
		Payload EntryChange `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "entryChanged" {
		t.Errorf("expected entryChanged, got %q", msg.Type)
	}
	if msg.Payload != (EntryChange{Workspace: "mem", Event: "write", Path: "/a.txt"}) {
		t.Errorf("unexpected payload %+v", msg.Payload)
	}
}
