package repository

import (
	"context"
	"errors"

	"github.com/mautops/repair-gin/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RepairNumberSequence 维修单编号序列名
const RepairNumberSequence = "repairId"

// SequenceRepository 持久化序列
type SequenceRepository interface {
	Next(ctx context.Context, name string) (int64, error)
	Current(ctx context.Context, name string) (int64, error)
}

type sequenceRepository struct {
	db *gorm.DB
}

// NewSequenceRepository 创建序列仓储
func NewSequenceRepository(db *gorm.DB) SequenceRepository {
	return &sequenceRepository{db: db}
}

// Next 原子递增并返回新的序列值
func (r *sequenceRepository) Next(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, errors.New("sequence name is required")
	}
	var seq int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"seq": gorm.Expr("counters.seq + 1")}),
		}).Create(&model.CounterModel{Name: name, Seq: 1}).Error
		if err != nil {
			return err
		}
		var counter model.CounterModel
		if err := tx.Where("name = ?", name).First(&counter).Error; err != nil {
			return err
		}
		seq = counter.Seq
		return nil
	})
	return seq, err
}

// Current 返回当前序列值,不存在时为 0
func (r *sequenceRepository) Current(ctx context.Context, name string) (int64, error) {
	var counter model.CounterModel
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return counter.Seq, err
}
