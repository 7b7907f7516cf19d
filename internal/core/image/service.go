package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"strings"

	_ "image/gif"  // 支援 GIF
	_ "image/jpeg" // 支援 JPEG
	_ "image/png"  // 支援 PNG

	"ingredient-recognizer/internal/pkg/common"

	_ "golang.org/x/image/webp" // 支援 WebP
)

// Image 已驗證的圖片
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Service 圖片處理服務
type Service struct {
	maxSizeBytes int64
}

// NewService 創建新的圖片處理服務
func NewService(maxSizeBytes int64) *Service {
	return &Service{maxSizeBytes: maxSizeBytes}
}

// Decode 解析 data URL 或純 base64 字串
func (s *Service) Decode(imageData string) (*Image, error) {
	imageData = strings.TrimSpace(imageData)
	if imageData == "" {
		return nil, common.NewValidationError("image is empty")
	}

	payload := imageData
	if strings.HasPrefix(imageData, "data:") {
		parts := strings.SplitN(imageData, ",", 2)
		if len(parts) != 2 || !strings.HasSuffix(parts[0], ";base64") {
			return nil, common.NewValidationError("invalid data URL format")
		}
		payload = parts[1]
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return nil, common.NewValidationError(fmt.Sprintf("failed to decode base64 data: %v", err))
	}
	return s.Validate(data)
}

// Load 從檔案讀取圖片
func (s *Service) Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return s.Validate(data)
}

// Validate 檢查大小與格式
func (s *Service) Validate(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, common.NewValidationError("image is empty")
	}
	if s.maxSizeBytes > 0 && int64(len(data)) > s.maxSizeBytes {
		return nil, common.NewValidationError(fmt.Sprintf("image size exceeds maximum limit of %d bytes", s.maxSizeBytes))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, common.NewValidationError(fmt.Sprintf("failed to decode image: %v", err))
	}
	mimeType, ok := mimeTypes[format]
	if !ok {
		return nil, common.NewValidationError(fmt.Sprintf("unsupported image format: %s", format))
	}

	return &Image{
		Data:     data,
		MIMEType: mimeType,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

var mimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
