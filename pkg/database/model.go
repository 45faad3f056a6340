package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Crash is a unique crash persisted under crash/tc-<ordinal>.
type Crash struct {
	ID         int       `gorm:"primaryKey;column:id"`
	CampaignID string    `gorm:"column:campaign_id;not null;uniqueIndex:idx_campaign_ordinal"`
	Ordinal    uint32    `gorm:"column:ordinal;not null;uniqueIndex:idx_campaign_ordinal"`
	Signature  string    `gorm:"column:signature;not null"`
	Path       string    `gorm:"column:path;not null"`
	MD5        string    `gorm:"column:md5"`
	Size       int       `gorm:"column:size"`
	CreatedAt  time.Time `gorm:"column:created_at;default:now()"`
}

// Seed is a test case that appeared in the campaign queue.
type Seed struct {
	ID         int       `gorm:"primaryKey;column:id"`
	CampaignID string    `gorm:"column:campaign_id;not null;index"`
	CreatedAt  time.Time `gorm:"column:created_at;default:now()"`
	Path       string    `gorm:"column:path"`
	Metric     Metric    `gorm:"column:metric;type:jsonb"`
}

// Metric represents a jsonb column
type Metric map[string]any

// Value implements the driver.Valuer interface for the Metric type
func (m Metric) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for the Metric type
func (m *Metric) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(raw, m)
}
