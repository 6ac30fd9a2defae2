package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// TrackingTokenLength 公开查询令牌长度
const TrackingTokenLength = 12

// GenerateToken 生成随机令牌,去掉 base64 中的 "/" 和 "="
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid token length: %d", length)
	}
	// 多取一些字节,去掉字符后仍足够长
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	token := base64.StdEncoding.EncodeToString(buf)
	token = strings.NewReplacer("/", "", "=", "").Replace(token)
	if len(token) < length {
		return GenerateToken(length)
	}
	return token[:length], nil
}

// GenerateTrackingToken 生成公开查询令牌
func GenerateTrackingToken() (string, error) {
	return GenerateToken(TrackingTokenLength)
}
