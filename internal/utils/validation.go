package utils

import (
	"html"
	"regexp"
	"strings"
	"time"
	"unicode"
)

var (
	idPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9 ()-]{3,32}$`)
)

// SanitizeString 清理字符串，移除或转义危险字符
func SanitizeString(input string) string {
	// 1. HTML 转义，防止 XSS
	sanitized := html.EscapeString(input)

	// 2. 移除控制字符（除了换行符和制表符）
	var result strings.Builder
	for _, r := range sanitized {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		result.WriteRune(r)
	}

	return result.String()
}

// ValidateName 验证部门、用户等名称
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrEmptyName
	}
	if len(trimmed) > 255 {
		return ErrNameTooLong
	}
	if containsDangerousChars(trimmed) {
		return ErrDangerousChars
	}
	return nil
}

// ValidateID 验证资源 ID 格式
func ValidateID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if !idPattern.MatchString(id) {
		return ErrInvalidIDFormat
	}
	if len(id) > 64 {
		return ErrIDTooLong
	}
	return nil
}

// ValidatePhone 验证电话号码,允许空值
func ValidatePhone(phone string) error {
	if phone == "" {
		return nil
	}
	if !phonePattern.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}

// ParseDay 按业务时区解析 YYYY-MM-DD,end 为 true 时返回当天最后一刻
func ParseDay(value string, loc *time.Location, end bool) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	if end {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

// containsDangerousChars 检查字符串是否包含危险字符
func containsDangerousChars(s string) bool {
	dangerousPatterns := []string{
		"<script",
		"</script>",
		"javascript:",
		"onerror=",
		"onload=",
		"<iframe",
		"<svg",
	}

	lower := strings.ToLower(s)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// TrimAndValidate 清理并验证字符串
func TrimAndValidate(s string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ErrEmptyString
	}
	if maxLen > 0 && len(trimmed) > maxLen {
		return "", ErrStringTooLong
	}
	return SanitizeString(trimmed), nil
}

// 错误定义
var (
	ErrEmptyName       = &ValidationError{Code: "EMPTY_NAME", Message: "name cannot be empty"}
	ErrNameTooLong     = &ValidationError{Code: "NAME_TOO_LONG", Message: "name exceeds maximum length"}
	ErrDangerousChars  = &ValidationError{Code: "DANGEROUS_CHARS", Message: "name contains dangerous characters"}
	ErrEmptyID         = &ValidationError{Code: "EMPTY_ID", Message: "id cannot be empty"}
	ErrInvalidIDFormat = &ValidationError{Code: "INVALID_ID_FORMAT", Message: "id contains invalid characters"}
	ErrIDTooLong       = &ValidationError{Code: "ID_TOO_LONG", Message: "id exceeds maximum length"}
	ErrEmptyString     = &ValidationError{Code: "EMPTY_STRING", Message: "string cannot be empty"}
	ErrStringTooLong   = &ValidationError{Code: "STRING_TOO_LONG", Message: "string exceeds maximum length"}
	ErrInvalidPhone    = &ValidationError{Code: "INVALID_PHONE", Message: "phone number is invalid"}
	ErrInvalidDate     = &ValidationError{Code: "INVALID_DATE", Message: "date must be YYYY-MM-DD"}
)

// ValidationError 验证错误
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
