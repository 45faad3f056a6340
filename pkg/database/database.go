package database

import (
	"fmt"

	"github.com/idkwim/baeum/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type DBParams struct {
	fx.In

	Config *config.AppConfig
	Logger *zap.Logger
}

// NewDBConnection opens the campaign database and migrates its tables. It
// returns a nil handle when DATABASE_URL is unset.
func NewDBConnection(p DBParams) (*gorm.DB, error) {
	if p.Config.DatabaseURL == "" {
		p.Logger.Debug("no database configured, crash and seed records stay local")
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(p.Config.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := db.AutoMigrate(&Crash{}, &Seed{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	p.Logger.Debug("connected to database")
	return db, nil
}
