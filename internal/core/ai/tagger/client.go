package tagger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ingredient-recognizer/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Request 標籤服務請求
type Request struct {
	Image    string `json:"image"`
	MIMEType string `json:"mime_type"`
}

// Response 標籤服務回應
type Response struct {
	Tags []common.RawCandidate `json:"tags"`
}

// Client 通用物件標籤服務客戶端
type Client struct {
	client *resty.Client
}

// NewClient 創建標籤服務客戶端
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Client{client: client}
}

// Tag 取得圖片中的物件標籤
func (c *Client) Tag(ctx context.Context, image []byte, mimeType string) ([]common.RawCandidate, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&Request{
			Image:    base64.StdEncoding.EncodeToString(image),
			MIMEType: mimeType,
		}).
		Post("/tags")
	if err != nil {
		return nil, common.Wrap(common.ErrUpstreamUnavailable, fmt.Errorf("tagger request failed: %w", err))
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, common.Wrap(common.ErrRateLimited, fmt.Errorf("tagger returned status %d", resp.StatusCode()))
	case resp.StatusCode() != http.StatusOK:
		return nil, common.Wrap(common.ErrUpstreamUnavailable, fmt.Errorf("tagger returned status %d", resp.StatusCode()))
	}

	var out Response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, common.Wrap(common.ErrParseError, err)
	}

	common.LogDebug("Tagger response",
		zap.Int("tags", len(out.Tags)),
		zap.Duration("duration", resp.Time()),
	)
	return out.Tags, nil
}
