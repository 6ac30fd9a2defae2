package model

// CounterModel 持久化序列,用于生成维修单编号
type CounterModel struct {
	Name string `gorm:"primaryKey;type:varchar(64)"`
	Seq  int64  `gorm:"not null;default:0"`
}

// TableName 指定表名
func (CounterModel) TableName() string {
	return "counters"
}
