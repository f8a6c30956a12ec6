package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"imagesearch/internal/config"
	"imagesearch/internal/db"
	"imagesearch/internal/ids"
	"imagesearch/internal/model"
	"imagesearch/internal/progress"
	"imagesearch/internal/store"
)

// newTestApp wires a full App against a temp-file SQLite db and three
// fake HTTP providers (embed, vlm, source store), each an httptest server.
func newTestApp(t *testing.T) (*App, *store.Store) {
	t.Helper()

	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, 0, 0}})
	}))
	t.Cleanup(embedSrv.Close)

	vlmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Images []struct {
				ImageID string `json:"image_id"`
			} `json:"images"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		verdicts := make([]map[string]any, len(body.Images))
		for i, img := range body.Images {
			verdicts[i] = map[string]any{
				"image_id":   img.ImageID,
				"matches":    true,
				"confidence": 0.95,
				"room":       "kitchen",
				"evidence":   map[string]any{"objects": []string{"table"}, "colors": map[string]string{}, "materials": map[string]string{}},
				"notes":      "looks right",
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"verdicts": verdicts})
	}))
	t.Cleanup(vlmSrv.Close)

	sourceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/health") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(sourceSrv.Close)

	dataDir := t.TempDir()
	t.Setenv("DB_URL", filepath.Join(dataDir, "test.db"))
	t.Setenv("SOURCE_ROOT_ID", "root-1")
	t.Setenv("EMBED_MODEL_URL", embedSrv.URL)
	t.Setenv("VLM_MODEL_URL", vlmSrv.URL)
	t.Setenv("VLM_API_KEY", "secret")
	t.Setenv("SOURCE_STORE_URL", sourceSrv.URL)

	cfg, err := config.Load(dataDir)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	sdb, err := db.InitDB(filepath.Join(dataDir, "test.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { sdb.Close() })

	st, err := store.Open(sdb)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	tracker := progress.New(sdb)

	app := NewApp(cfg, sdb, st, tracker)
	return app, st
}

func seedKitchenImage(t *testing.T, st *store.Store) {
	t.Helper()
	imgID := ids.New()
	img := model.Image{ID: imgID, ExternalID: "ext-1", FileName: "kitchen.jpg", FolderPath: "/kitchen", Room: "kitchen", RoomConf: 0.9, IndexedAt: 1}
	objects := []model.Object{{ID: ids.New(), ImageID: imgID, Label: "table", LabelConfidence: 0.9}}
	caption := model.Caption{ImageID: imgID, CaptionEN: "Kitchen with a wooden table.", EmbedEN: []float32{1, 0, 0}}
	tags := []model.Tag{{ImageID: imgID, Tag: "room:kitchen"}, {ImageID: imgID, Tag: "obj:table"}}
	if err := st.UpsertImage(context.Background(), img, objects, nil, caption, tags); err != nil {
		t.Fatalf("UpsertImage: %v", err)
	}
}

func TestHandleSearchReturnsRerankedResult(t *testing.T) {
	app, st := newTestApp(t)
	seedKitchenImage(t, st)

	body := strings.NewReader(`{"query":"kitchen table","lang":"en"}`)
	req := httptest.NewRequest(http.MethodPost, "/search", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	HandleSearch(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalResults != 1 {
		t.Fatalf("total_results = %d, want 1, body=%s", resp.TotalResults, rec.Body.String())
	}
	if resp.Results[0].ExternalID != "ext-1" {
		t.Errorf("external_id = %q, want ext-1", resp.Results[0].ExternalID)
	}
	if resp.Results[0].ConfidenceBadge != "green" {
		t.Errorf("confidence_badge = %q, want green", resp.Results[0].ConfidenceBadge)
	}
}

func TestHandleSearchRejectsEmptyQuery(t *testing.T) {
	app, _ := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	HandleSearch(app)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleStatsReportsCountsAndDistributions(t *testing.T) {
	app, st := newTestApp(t)
	seedKitchenImage(t, st)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	HandleStats(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Counts["images"] != 1 {
		t.Errorf("images count = %d, want 1", resp.Counts["images"])
	}
	if resp.RoomCounts["kitchen"] != 1 {
		t.Errorf("room_counts[kitchen] = %d, want 1", resp.RoomCounts["kitchen"])
	}
	if resp.ObjectCounts["table"] != 1 {
		t.Errorf("object_counts[table] = %d, want 1", resp.ObjectCounts["table"])
	}
}

func TestHandleHealthReportsAllComponentsOK(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	HandleHealth(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok, components=%v", resp.Status, resp.Components)
	}
	if resp.Components["db"] != "ok" {
		t.Errorf("components[db] = %q, want ok", resp.Components["db"])
	}
	if resp.Components["source_store"] != "ok" {
		t.Errorf("components[source_store] = %q, want ok", resp.Components["source_store"])
	}
}

func TestHandleIndexStartRejectsWrongAdminToken(t *testing.T) {
	app, _ := newTestApp(t)
	if err := app.cfg.SetAdminToken("op-secret"); err != nil {
		t.Fatalf("SetAdminToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/index/start", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()

	HandleIndexStart(app)(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHandleIndexStatusReportsNotRunningInitially(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/index/status", nil)
	rec := httptest.NewRecorder()
	HandleIndexStatus(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp indexStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.IsRunning {
		t.Error("expected is_running = false before any /index/start call")
	}
}
