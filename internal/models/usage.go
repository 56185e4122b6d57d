package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one admitted metered call.
type UsageRecord struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index:idx_usage_tenant_ts,priority:1" json:"tenant_id"`
	Endpoint  string    `gorm:"not null" json:"endpoint"`
	Timestamp time.Time `gorm:"not null;index:idx_usage_tenant_ts,priority:2" json:"timestamp"`
}

func (UsageRecord) TableName() string {
	return "usage"
}
