package models

import "time"

type LatestRate struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Base      string    `gorm:"not null;uniqueIndex:idx_latest_rate_pair,priority:1" json:"base"`
	Target    string    `gorm:"not null;uniqueIndex:idx_latest_rate_pair,priority:2" json:"target"`
	Rate      float64   `gorm:"not null" json:"rate"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (LatestRate) TableName() string {
	return "latest_rate"
}

type RateHistory struct {
	ID        uint64    `gorm:"primaryKey" json:"-"`
	Base      string    `gorm:"not null;index:idx_rate_history_pair_ts,priority:1" json:"base"`
	Target    string    `gorm:"not null;index:idx_rate_history_pair_ts,priority:2" json:"target"`
	Rate      float64   `gorm:"not null" json:"rate"`
	Timestamp time.Time `gorm:"not null;index:idx_rate_history_pair_ts,priority:3" json:"timestamp"`
}

func (RateHistory) TableName() string {
	return "rate_history"
}

// Source says where a resolved rate came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
)
