package database

import (
	"context"
	"time"

	"github.com/idkwim/baeum/internal/types"
	"gorm.io/gorm"
)

// NewCrash converts a unique crash notification into a row.
func NewCrash(msg *types.CrashMessage, md5sum string) *Crash {
	return &Crash{
		CampaignID: msg.CampaignID,
		Ordinal:    msg.Ordinal,
		Signature:  msg.Signature.String(),
		Path:       msg.CrashFile,
		MD5:        md5sum,
		Size:       msg.Size,
		CreatedAt:  msg.FoundAt,
	}
}

// inserts a single crash record into the database
func AddCrash(ctx context.Context, db *gorm.DB, crash *Crash) error {
	if crash == nil {
		return nil
	}
	return db.WithContext(ctx).Create(crash).Error
}

// NewSeed creates a seed row, with its size kept in the metric column
func NewSeed(campaignID, path string, size int64) *Seed {
	return &Seed{
		CampaignID: campaignID,
		CreatedAt:  time.Now(),
		Path:       path,
		Metric:     Metric{"size": size},
	}
}

// inserts multiple seed records into the database
func AddSeeds(ctx context.Context, db *gorm.DB, seeds []*Seed) error {
	if len(seeds) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(seeds).Error
}
