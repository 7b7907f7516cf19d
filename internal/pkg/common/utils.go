package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// GenerateUUID 生成 UUID
func GenerateUUID() string {
	return uuid.New().String()
}

// NormalizeName 正規化食材名稱：NFKC、轉小寫、去除前後空白並合併連續空白
func NormalizeName(name string) string {
	name = norm.NFKC.String(name)
	name = strings.ToLower(name)
	return strings.Join(strings.Fields(name), " ")
}

// HashBytes 計算資料的 SHA-256 哈希值
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// MaskSecret 遮罩密鑰，只顯示前後各 4 個字符
func MaskSecret(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
