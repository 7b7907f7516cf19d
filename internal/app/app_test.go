package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ingredient-recognizer/internal/api"
	"ingredient-recognizer/internal/infrastructure/config"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstreams struct {
	vision  *httptest.Server
	catalog *httptest.Server
	tagger  *httptest.Server

	visionCalls atomic.Int32
}

func newUpstreams(t *testing.T) *upstreams {
	t.Helper()
	u := &upstreams{}
	u.vision = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.visionCalls.Add(1)
		content := "```json\n[\"Tomatoes\", \"kitchen\", {\"name\": \"Basil\", \"confidence\": 0.6}]\n```"
		_ = json.NewEncoder(w).Encode(gin.H{
			"id":      "gen-1",
			"model":   "vision-test",
			"choices": []gin.H{{"message": gin.H{"content": content}}},
		})
	}))
	u.catalog = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"1","canonicalName":"Tomato","type":"vegetables"},{"id":"2","canonicalName":"Olive Oil","type":"condiments"}]`))
	}))
	u.tagger = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tags":[{"name":"Tomatoes","confidence":0.97},{"name":"Table"}]}`))
	}))
	t.Cleanup(func() {
		u.vision.Close()
		u.catalog.Close()
		u.tagger.Close()
	})
	return u
}

func (u *upstreams) config() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Version: "test"},
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second, MaxBodyBytes: 1 << 20},
		Vision: config.VisionConfig{
			Provider:      "openrouter",
			APIKey:        "test-key",
			BaseURL:       u.vision.URL,
			Model:         "vision-test",
			Timeout:       5 * time.Second,
			MaxAttempts:   1,
			MaxCandidates: 25,
			MaxTokens:     256,
		},
		Recognition: config.RecognitionConfig{
			ConfidenceThreshold: 0.5,
			MaxResults:          12,
			CorroborationBoost:  0.15,
			DominanceRatio:      0.7,
			DefaultConfidence:   0.7,
		},
		Catalog: config.CatalogConfig{
			Enabled:             true,
			BaseURL:             u.catalog.URL,
			ListPath:            "/ingredients",
			Timeout:             5 * time.Second,
			TTL:                 time.Hour,
			ServeStale:          true,
			SubstringSimilarity: 0.6,
			FuzzySimilarity:     0.8,
			ExactConfidence:     0.9,
			MorphConfidence:     0.9,
			SubstringConfidence: 0.7,
		},
		Tagger: config.TaggerConfig{Enabled: true, BaseURL: u.tagger.URL, Timeout: 5 * time.Second},
		Cache: config.CacheConfig{
			Enabled: true,
			Backend: "memory",
			MaxSize: 10,
			TTL:     time.Hour,
		},
		Queue:       config.QueueConfig{Workers: 2, MaxSize: 10},
		DedupWindow: time.Nanosecond,
	}
}

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) (int, map[string]json.RawMessage) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func ingredients(t *testing.T, raw json.RawMessage) []common.ProcessedIngredient {
	t.Helper()
	var out []common.ProcessedIngredient
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	u := newUpstreams(t)

	a, err := New(context.Background(), u.config())
	require.NoError(t, err)
	defer a.Close()

	r := api.SetupRouter(u.config(), a.Dependencies())
	img := pngBase64(t)

	code, body := postJSON(t, r, "/api/v1/ingredients/recognize", gin.H{"image": img, "language": "en"})
	require.Equal(t, http.StatusOK, code)
	names := common.IngredientNames(ingredients(t, body["ingredients"]))
	assert.Contains(t, names, "tomatoes")
	assert.NotContains(t, names, "kitchen")

	// 相同圖片與語言命中回應緩存
	code, _ = postJSON(t, r, "/api/v1/ingredients/recognize", gin.H{"image": img, "language": "en"})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, u.visionCalls.Load())

	code, body = postJSON(t, r, "/api/v1/ingredients/tags", gin.H{"image": img})
	require.Equal(t, http.StatusOK, code)
	tagged := ingredients(t, body["ingredients"])
	require.Len(t, tagged, 1)
	assert.Equal(t, "tomato", tagged[0].Name)
	assert.Equal(t, common.SourceCatalogExact, tagged[0].Source)
	assert.Equal(t, common.CategoryVegetables, tagged[0].Category)

	code, body = postJSON(t, r, "/api/v1/ingredients/match", gin.H{"tags": []gin.H{{"name": "olive oil"}}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"olive oil"}, common.IngredientNames(ingredients(t, body["ingredients"])))

	assert.Equal(t, 2, a.CatalogData.Entries())
}

func TestVisionDisabledWithoutKey(t *testing.T) {
	u := newUpstreams(t)
	cfg := u.config()
	cfg.Vision.APIKey = ""
	cfg.Catalog.Enabled = false
	cfg.Cache.Enabled = false

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	deps := a.Dependencies()
	assert.Nil(t, deps.Recognizer)
	assert.Nil(t, deps.Tags)
	assert.Nil(t, deps.Matcher)
	assert.Nil(t, deps.Catalog)
	assert.NotNil(t, deps.Images)
}

func TestUnsupportedProvider(t *testing.T) {
	u := newUpstreams(t)
	cfg := u.config()
	cfg.Vision.Provider = "bogus"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
