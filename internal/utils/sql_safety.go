package utils

import (
	"fmt"
	"strings"
)

var (
	ErrInvalidSortField = &ValidationError{Code: "INVALID_SORT_FIELD", Message: "unsupported sort field"}
	ErrInvalidSortOrder = &ValidationError{Code: "INVALID_SORT_ORDER", Message: "sort order must be asc or desc"}
)

// SortColumns 排序白名单,接口中的排序键 -> 数据库列名
// 列名只来自白名单,用户输入不会拼进 SQL
type SortColumns map[string]string

// OrderClause 生成 ORDER BY 子句,field 为空时使用 fallback
func (c SortColumns) OrderClause(field, order, fallback string) (string, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		field = fallback
	}
	column, ok := c[field]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSortField, field)
	}
	direction, err := NormalizeSortOrder(order)
	if err != nil {
		return "", err
	}
	return column + " " + direction, nil
}

// NormalizeSortOrder 排序方向,空值默认降序
func NormalizeSortOrder(order string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(order)) {
	case "", "DESC":
		return "DESC", nil
	case "ASC":
		return "ASC", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSortOrder, order)
}

// EscapeLike 转义 LIKE 通配符,查询需带 ESCAPE '\'
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
