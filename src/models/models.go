package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DiagnosisRecord 提交历史记录
// 仅追加的审计日志：记录每次提交的最终结果，从不读回用于满足新的提交
type DiagnosisRecord struct {
	ID           uint   `gorm:"primaryKey"`
	SubmissionID string `gorm:"uniqueIndex;size:36"` // 提交的UUID
	Symptoms     string `gorm:"type:text"`
	OutcomeKind  string // success / plain_message / failure
	FailureKind  string // 失败时的错误分类
	TopDiseases  datatypes.JSON // 候选疾病名称数组
	Urgency      string
	Detail       string `gorm:"type:text"` // 纯文本结果或失败描述
	CreatedAt    time.Time
}

// AutoMigrate 初始化历史库表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&DiagnosisRecord{})
}

// SaveDiagnosisRecord 写入一条提交历史
func SaveDiagnosisRecord(db *gorm.DB, record *DiagnosisRecord) error {
	return db.Create(record).Error
}

// RecentRecords 按时间倒序查询最近的提交历史
func RecentRecords(db *gorm.DB, limit int) ([]DiagnosisRecord, error) {
	var records []DiagnosisRecord
	err := db.Order("created_at desc").Limit(limit).Find(&records).Error
	return records, err
}
