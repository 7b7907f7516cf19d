package ingredient

import (
	"context"
	"errors"
	"net/http"

	"ingredient-recognizer/internal/core/image"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 回應狀態
const (
	StatusRecognized    = "recognized"
	StatusNoIngredients = "no_ingredients"
)

// Recognizer 影像模型辨識流程
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, mimeType, language string) ([]common.ProcessedIngredient, error)
}

// TagRecognizer 標籤加目錄比對的辨識流程
type TagRecognizer interface {
	Recognize(ctx context.Context, image []byte, mimeType string) ([]common.ProcessedIngredient, error)
}

// Matcher 目錄比對
type Matcher interface {
	Match(ctx context.Context, candidates []common.RawCandidate) ([]common.ProcessedIngredient, error)
}

// RecognizeRequest 食材辨識請求
// image: data URL 或 base64
type RecognizeRequest struct {
	Image    string `json:"image" binding:"required"`
	Language string `json:"language,omitempty"`
}

// TagsRequest 標籤辨識請求
type TagsRequest struct {
	Image string `json:"image" binding:"required"`
}

// MatchRequest 目錄比對請求
type MatchRequest struct {
	Tags []common.RawCandidate `json:"tags"`
}

// Response 辨識回應
type Response struct {
	Status      string                       `json:"status"`
	Ingredients []common.ProcessedIngredient `json:"ingredients"`
}

// Handler 食材辨識處理器
type Handler struct {
	images     *image.Service
	recognizer Recognizer
	tags       TagRecognizer
	matcher    Matcher
	debug      bool
}

// NewHandler 創建食材辨識處理器，tags 與 matcher 未啟用時可為 nil
func NewHandler(images *image.Service, recognizer Recognizer, tags TagRecognizer, matcher Matcher, debug bool) *Handler {
	return &Handler{
		images:     images,
		recognizer: recognizer,
		tags:       tags,
		matcher:    matcher,
		debug:      debug,
	}
}

// Recognize 以影像模型辨識圖片中的食材
func (h *Handler) Recognize(c *gin.Context) {
	var req RecognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, common.NewValidationError("invalid request: "+err.Error()))
		return
	}
	if h.recognizer == nil {
		h.fail(c, common.Wrap(common.ErrServiceUnavailable, errors.New("vision recognition is not configured")))
		return
	}

	img, err := h.images.Decode(req.Image)
	if err != nil {
		h.fail(c, err)
		return
	}

	common.LogInfo("Ingredient recognition request",
		zap.String("request_id", requestid.Get(c)),
		zap.String("mime_type", img.MIMEType),
		zap.Int("image_bytes", len(img.Data)),
		zap.String("language", req.Language),
	)

	out, err := h.recognizer.Recognize(c.Request.Context(), img.Data, img.MIMEType, req.Language)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, out)
}

// Tags 以標籤服務加目錄比對辨識圖片
func (h *Handler) Tags(c *gin.Context) {
	var req TagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, common.NewValidationError("invalid request: "+err.Error()))
		return
	}
	if h.tags == nil {
		h.fail(c, common.Wrap(common.ErrServiceUnavailable, errors.New("tag recognition is not configured")))
		return
	}

	img, err := h.images.Decode(req.Image)
	if err != nil {
		h.fail(c, err)
		return
	}

	out, err := h.tags.Recognize(c.Request.Context(), img.Data, img.MIMEType)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, out)
}

// Match 將呼叫端提供的標籤對應到目錄食材
func (h *Handler) Match(c *gin.Context) {
	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, common.NewValidationError("invalid request: "+err.Error()))
		return
	}
	if h.matcher == nil {
		h.fail(c, common.Wrap(common.ErrServiceUnavailable, errors.New("catalog is not configured")))
		return
	}

	out, err := h.matcher.Match(c.Request.Context(), req.Tags)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, out)
}

func respond(c *gin.Context, out []common.ProcessedIngredient) {
	status := StatusRecognized
	if len(out) == 0 {
		status = StatusNoIngredients
		out = []common.ProcessedIngredient{}
	}
	c.JSON(http.StatusOK, Response{Status: status, Ingredients: out})
}

// fail 依錯誤類型回傳對應的 HTTP 狀態與錯誤代碼
func (h *Handler) fail(c *gin.Context, err error) {
	status, code := common.StatusOf(err)
	resp := common.ErrorResponse{Code: code, Message: messageOf(err)}
	if h.debug {
		resp.Details = err.Error()
	}

	fields := []zap.Field{
		zap.String("request_id", requestid.Get(c)),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.String("code", code),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		common.LogError("Recognition request failed", fields...)
	} else {
		common.LogWarn("Recognition request rejected", fields...)
	}

	_ = c.Error(err)
	c.JSON(status, resp)
}

func messageOf(err error) string {
	var ve *common.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var ce *common.CustomError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return common.ErrInternalError.Message
}
