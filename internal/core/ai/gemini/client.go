package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ingredient-recognizer/internal/core/ai/provider"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// Client Gemini 影像辨識提供者
type Client struct {
	client    *genai.Client
	model     string
	timeout   time.Duration
	maxTokens int32
}

// NewClient 創建 Gemini 客戶端
func NewClient(ctx context.Context, apiKey, model string, timeout time.Duration, maxTokens int) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{
		client:    cl,
		model:     strings.TrimSpace(model),
		timeout:   timeout,
		maxTokens: int32(maxTokens),
	}, nil
}

// GetModel 獲取模型名稱
func (c *Client) GetModel() string { return c.model }

// GetTimeout 獲取請求超時時間
func (c *Client) GetTimeout() time.Duration { return c.timeout }

// Generate 送出提示詞與內嵌圖片
func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	m := c.client.GenerativeModel(c.model)
	m.GenerationConfig = c.generationConfig()

	parts := []genai.Part{
		genai.Text(req.Prompt),
		&genai.Blob{MIMEType: req.MIMEType, Data: req.Image},
	}

	common.LogDebug("Sending request to Gemini",
		zap.String("model", c.model),
		zap.String("mime_type", req.MIMEType),
		zap.Int("image_bytes", len(req.Image)),
	)

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classifyError(c.model, err)
	}

	txt := firstText(resp)
	if strings.TrimSpace(txt) == "" {
		return nil, provider.NewError(provider.KindStatus, 0, c.model, errors.New("empty response"))
	}
	return &provider.Response{Content: txt, Model: c.model}, nil
}

// generationConfig 要求模型直接輸出 JSON
func (c *Client) generationConfig() genai.GenerationConfig {
	return genai.GenerationConfig{
		Temperature:      ptrFloat32(0.2),
		MaxOutputTokens:  &c.maxTokens,
		ResponseMIMEType: "application/json",
	}
}

// Close 關閉客戶端
func (c *Client) Close() error {
	return c.client.Close()
}

// classifyError 將 Gemini 錯誤轉為分類錯誤
func classifyError(model string, err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return provider.NewError(provider.KindStatus, 0, model, err)
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if st := apiErr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.NotFound:
				return provider.NewError(provider.KindModelNotFound, http.StatusNotFound, model, err)
			case codes.ResourceExhausted:
				return provider.NewError(provider.KindRateLimited, http.StatusTooManyRequests, model, err)
			case codes.Unavailable:
				return provider.NewError(provider.KindOverloaded, http.StatusServiceUnavailable, model, err)
			case codes.DeadlineExceeded, codes.Canceled:
				return provider.NewError(provider.KindTransport, 0, model, err)
			}
		}
		status := apiErr.HTTPCode()
		if status > 0 {
			return provider.NewError(provider.ClassifyStatus(status, apiErr.Error()), status, model, err)
		}
		return provider.NewError(provider.ClassifyStatus(0, apiErr.Error()), 0, model, err)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return provider.NewError(provider.ClassifyStatus(gErr.Code, gErr.Message), gErr.Code, model, err)
	}

	// 其餘視為網路/傳輸錯誤
	return provider.NewError(provider.KindTransport, 0, model, err)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
