package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ingredient-recognizer/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Entry 食材目錄中的一筆資料
type Entry struct {
	ID            string `json:"id"`
	CanonicalName string `json:"canonicalName"`
	Type          string `json:"type,omitempty"`
}

// UnmarshalJSON id 可以是字串或數字
func (e *Entry) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID            json.RawMessage `json:"id"`
		CanonicalName string          `json:"canonicalName"`
		Type          *string         `json:"type"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.ID = strings.Trim(strings.TrimSpace(string(aux.ID)), `"`)
	if e.ID == "null" {
		e.ID = ""
	}
	e.CanonicalName = aux.CanonicalName
	e.Type = ""
	if aux.Type != nil {
		e.Type = *aux.Type
	}
	return nil
}

// Fetcher 取得完整目錄
type Fetcher interface {
	FetchAll(ctx context.Context) ([]Entry, error)
}

// Client 食材目錄服務客戶端
type Client struct {
	client   *resty.Client
	listPath string
}

// NewClient 創建目錄服務客戶端
func NewClient(baseURL, listPath string, timeout time.Duration) *Client {
	if listPath == "" {
		listPath = "/ingredients"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &Client{client: client, listPath: listPath}
}

// FetchAll 取得完整目錄，接受陣列或 {"items":[...]} 格式
func (c *Client) FetchAll(ctx context.Context) ([]Entry, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get(c.listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("catalog service returned status %d", resp.StatusCode())
	}

	entries, err := decodeEntries(resp.Body())
	if err != nil {
		return nil, err
	}

	common.LogDebug("Fetched catalog",
		zap.Int("entries", len(entries)),
		zap.Duration("duration", resp.Time()),
	)
	return entries, nil
}

func decodeEntries(body []byte) ([]Entry, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var entries []Entry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse catalog: %w", err)
		}
		return entries, nil
	}

	var wrapped struct {
		Items []Entry `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return wrapped.Items, nil
}

// Ping 檢查目錄服務是否可連線，不影響緩存
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Head(c.listPath)
	if err != nil {
		return fmt.Errorf("catalog service unreachable: %w", err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("catalog service returned status %d", resp.StatusCode())
	}
	return nil
}
