package openrouter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ingredient-recognizer/internal/core/ai/provider"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Client OpenRouter API 客戶端
type Client struct {
	client    *resty.Client
	model     string
	timeout   time.Duration
	maxTokens int
}

// TextContent 文本內容
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ImageURL 圖片連結
type ImageURL struct {
	URL string `json:"url"`
}

// ImageContent 圖片內容
type ImageContent struct {
	Type     string   `json:"type"`
	ImageURL ImageURL `json:"image_url"`
}

// Message 消息結構
type Message struct {
	Role    string        `json:"role"`
	Content []interface{} `json:"content"`
}

// Request 表示 API 請求
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

// Response OpenRouter 響應結構
type Response struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// APIError 表示 API 錯誤
type APIError struct {
	Error struct {
		Message string      `json:"message"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// NewClient 創建新的 OpenRouter 客戶端
func NewClient(apiKey, baseURL, model string, timeout time.Duration, maxTokens int) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", apiKey)).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Title", "Ingredient Recognizer")

	return &Client{
		client:    client,
		model:     model,
		timeout:   timeout,
		maxTokens: maxTokens,
	}
}

// GetModel 獲取模型名稱
func (c *Client) GetModel() string { return c.model }

// GetTimeout 獲取請求超時時間
func (c *Client) GetTimeout() time.Duration { return c.timeout }

// Generate 送出提示詞與圖片
func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	content := []interface{}{
		TextContent{Type: "text", Text: req.Prompt},
	}
	if len(req.Image) > 0 {
		content = append(content, ImageContent{
			Type:     "image_url",
			ImageURL: ImageURL{URL: dataURL(req.MIMEType, req.Image)},
		})
	}

	body := &Request{
		Model:       c.model,
		Messages:    []Message{{Role: "user", Content: content}},
		MaxTokens:   c.maxTokens,
		Temperature: 0.2,
	}

	common.LogDebug("Sending request to OpenRouter",
		zap.String("model", c.model),
		zap.Int("image_bytes", len(req.Image)),
	)

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return nil, provider.NewError(provider.KindTransport, 0, c.model, err)
	}

	if resp.StatusCode() != http.StatusOK {
		msg := errorMessage(resp.Body())
		common.LogWarn("OpenRouter returned error status",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("model", c.model),
			zap.String("response", msg),
		)
		return nil, provider.NewError(
			provider.ClassifyStatus(resp.StatusCode(), msg),
			resp.StatusCode(), c.model, errors.New(msg),
		)
	}

	var result Response
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, provider.NewError(provider.KindStatus, resp.StatusCode(), c.model,
			fmt.Errorf("failed to parse response: %w", err))
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return nil, provider.NewError(provider.KindStatus, resp.StatusCode(), c.model,
			errors.New("empty choices in response"))
	}

	model := result.Model
	if model == "" {
		model = c.model
	}
	return &provider.Response{Content: result.Choices[0].Message.Content, Model: model}, nil
}

// Close 關閉客戶端
func (c *Client) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// errorMessage 取出錯誤訊息，避免把圖片資料寫進日誌
func errorMessage(body []byte) string {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	s := string(body)
	if strings.Contains(s, "data:image/") || strings.Contains(s, "base64") {
		return "[IMAGE_DATA_REMOVED]"
	}
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
