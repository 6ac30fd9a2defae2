package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict 乐观锁冲突,记录已被其他请求修改
	ErrVersionConflict = errors.New("record was modified concurrently")
	// ErrDuplicate 唯一键冲突
	ErrDuplicate = errors.New("duplicate record")
)

// translate 将 gorm 错误转换为仓储错误
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
