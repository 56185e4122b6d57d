package models

import "time"

// Plan holds the policy attributes every tenant inherits from its tier.
type Plan struct {
	ID                    uint   `gorm:"primaryKey" json:"id"`
	Name                  string `gorm:"uniqueIndex;not null" json:"name"`
	DailyLimit            int    `gorm:"not null" json:"daily_limit"`
	MinIntervalMinutes    int    `gorm:"column:min_interval;not null" json:"min_interval"`
	UpdateIntervalMinutes int    `gorm:"column:update_interval;not null" json:"update_interval"`
	HistoryDays           int    `gorm:"not null" json:"history_days"`
}

func (Plan) TableName() string {
	return "plans"
}

func (p Plan) MinInterval() time.Duration {
	return time.Duration(p.MinIntervalMinutes) * time.Minute
}

// UpdateInterval is the freshness window for cached rates.
func (p Plan) UpdateInterval() time.Duration {
	return time.Duration(p.UpdateIntervalMinutes) * time.Minute
}

func (p Plan) HistoryWindow() time.Duration {
	return time.Duration(p.HistoryDays) * 24 * time.Hour
}
