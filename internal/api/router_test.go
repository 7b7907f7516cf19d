package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	imagesvc "ingredient-recognizer/internal/core/image"
	"ingredient-recognizer/internal/infrastructure/config"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRecognizer struct {
	out      []common.ProcessedIngredient
	err      error
	mimeType string
	language string
}

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte, mimeType, language string) ([]common.ProcessedIngredient, error) {
	f.mimeType, f.language = mimeType, language
	return f.out, f.err
}

type fakeTags struct {
	out []common.ProcessedIngredient
}

func (f *fakeTags) Recognize(ctx context.Context, image []byte, mimeType string) ([]common.ProcessedIngredient, error) {
	return f.out, nil
}

type fakeMatcher struct {
	got []common.RawCandidate
}

func (f *fakeMatcher) Match(ctx context.Context, candidates []common.RawCandidate) ([]common.ProcessedIngredient, error) {
	f.got = candidates
	var out []common.ProcessedIngredient
	for _, c := range candidates {
		out = append(out, common.ProcessedIngredient{
			Name:       common.NormalizeName(c.Name),
			Category:   common.CategoryOther,
			Confidence: 0.9,
			Source:     common.SourceCatalogExact,
		})
	}
	return out, nil
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Version: "test"},
		Server: config.ServerConfig{
			RequestTimeout: 5 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		DedupWindow: time.Nanosecond,
	}
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func post(t *testing.T, r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type recognizeResponse struct {
	Status      string                       `json:"status"`
	Ingredients []common.ProcessedIngredient `json:"ingredients"`
}

func TestRecognize(t *testing.T) {
	rec := &fakeRecognizer{out: []common.ProcessedIngredient{
		{Name: "tomato", Category: common.CategoryVegetables, Confidence: 0.95, Source: common.SourcePrimaryModel},
	}}
	r := SetupRouter(testConfig(), Dependencies{Images: imagesvc.NewService(0), Recognizer: rec})

	w := post(t, r, "/api/v1/ingredients/recognize", gin.H{"image": pngDataURL(t), "language": "it"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "recognized", resp.Status)
	assert.Equal(t, rec.out, resp.Ingredients)
	assert.Equal(t, "image/png", rec.mimeType)
	assert.Equal(t, "it", rec.language)
}

func TestRecognizeNoIngredients(t *testing.T) {
	r := SetupRouter(testConfig(), Dependencies{Images: imagesvc.NewService(0), Recognizer: &fakeRecognizer{}})

	w := post(t, r, "/api/v1/ingredients/recognize", gin.H{"image": pngDataURL(t)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"no_ingredients","ingredients":[]}`, w.Body.String())
}

func TestRecognizeErrors(t *testing.T) {
	tests := []struct {
		name   string
		image  string
		err    error
		status int
		code   string
	}{
		{"bad image", "data:image/png;base64,AAAA", nil, http.StatusBadRequest, common.ErrCodeInvalidRequest},
		{"missing image", "", nil, http.StatusBadRequest, common.ErrCodeInvalidRequest},
		{"upstream", "", common.Wrap(common.ErrUpstreamUnavailable, errors.New("eof")), http.StatusServiceUnavailable, common.ErrCodeUpstreamUnavailable},
		{"rate limited", "", common.Wrap(common.ErrRateLimited, errors.New("429")), http.StatusTooManyRequests, common.ErrCodeRateLimited},
		{"parse", "", common.Wrap(common.ErrParseError, errors.New("no array")), http.StatusBadGateway, common.ErrCodeParseError},
		{"unknown", "", errors.New("boom"), http.StatusInternalServerError, common.ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := tt.image
			if tt.err != nil {
				img = pngDataURL(t)
			}
			r := SetupRouter(testConfig(), Dependencies{
				Images:     imagesvc.NewService(0),
				Recognizer: &fakeRecognizer{err: tt.err},
			})

			w := post(t, r, "/api/v1/ingredients/recognize", gin.H{"image": img})
			assert.Equal(t, tt.status, w.Code)

			var resp common.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
			assert.Empty(t, resp.Details)
		})
	}
}

func TestTagsAndMatch(t *testing.T) {
	m := &fakeMatcher{}
	tags := &fakeTags{out: []common.ProcessedIngredient{
		{Name: "basil", Category: common.CategoryHerbs, Confidence: 0.9, Source: common.SourceCatalogExact},
	}}
	r := SetupRouter(testConfig(), Dependencies{Images: imagesvc.NewService(0), Tags: tags, Matcher: m})

	w := post(t, r, "/api/v1/ingredients/tags", gin.H{"image": pngDataURL(t)})
	require.Equal(t, http.StatusOK, w.Code)
	var resp recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, tags.out, resp.Ingredients)

	w = post(t, r, "/api/v1/ingredients/match", json.RawMessage(`{"tags":[{"name":"Basil","confidence":"0.8"}]}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, m.got, 1)
	assert.Equal(t, "Basil", m.got[0].Name)
	assert.InDelta(t, 0.8, *m.got[0].Confidence, 1e-9)

	// 影像模型未設定
	w = post(t, r, "/api/v1/ingredients/recognize", gin.H{"image": pngDataURL(t)})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPipelinesNotConfigured(t *testing.T) {
	r := SetupRouter(testConfig(), Dependencies{Images: imagesvc.NewService(0)})

	for _, path := range []string{"/api/v1/ingredients/tags", "/api/v1/ingredients/match"} {
		w := post(t, r, path, gin.H{"image": pngDataURL(t), "tags": []gin.H{}})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Contains(t, w.Body.String(), common.ErrCodeServiceUnavailable)
	}
}

func TestHealth(t *testing.T) {
	r := SetupRouter(testConfig(), Dependencies{
		Images:     imagesvc.NewService(0),
		Recognizer: &fakeRecognizer{},
		Catalog:    fakePinger{err: errors.New("connection refused")},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
	assert.Equal(t, true, resp["vision_configured"])
	assert.Equal(t, true, resp["catalog_enabled"])
	assert.Equal(t, false, resp["catalog_reachable"])
	assert.Equal(t, "test", resp["version"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotReadyWithoutPipelines(t *testing.T) {
	r := SetupRouter(testConfig(), Dependencies{Images: imagesvc.NewService(0)})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestDuplicateRequestRejected(t *testing.T) {
	cfg := testConfig()
	cfg.DedupWindow = time.Minute
	r := SetupRouter(cfg, Dependencies{Images: imagesvc.NewService(0), Recognizer: &fakeRecognizer{}})

	body := gin.H{"image": pngDataURL(t)}
	assert.Equal(t, http.StatusOK, post(t, r, "/api/v1/ingredients/recognize", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(t, r, "/api/v1/ingredients/recognize", body).Code)
	// 不同請求體不受影響
	assert.Equal(t, http.StatusOK, post(t, r, "/api/v1/ingredients/recognize", gin.H{"image": pngDataURL(t), "language": "it"}).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, Requests: 1, Window: time.Minute}
	r := SetupRouter(cfg, Dependencies{Images: imagesvc.NewService(0), Recognizer: &fakeRecognizer{}})

	assert.Equal(t, http.StatusOK, post(t, r, "/api/v1/ingredients/recognize", gin.H{"image": pngDataURL(t)}).Code)

	w := post(t, r, "/api/v1/ingredients/recognize", gin.H{"image": pngDataURL(t), "language": "en"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// 健康檢查不受限流影響
	h := httptest.NewRecorder()
	r.ServeHTTP(h, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, h.Code)
}

func TestBodySizeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodyBytes = 16
	r := SetupRouter(cfg, Dependencies{Images: imagesvc.NewService(0), Recognizer: &fakeRecognizer{}})

	w := post(t, r, "/api/v1/ingredients/recognize", gin.H{"image": strings.Repeat("A", 64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
