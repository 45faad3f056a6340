package campaign

import (
	"context"

	"github.com/idkwim/baeum/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type CampaignParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewCampaign lays out the workspace described by the campaign config. Any
// error aborts application startup.
func NewCampaign(p CampaignParams) (*Campaign, error) {
	cc := p.Config.Campaign
	var (
		c   *Campaign
		err error
	)
	if cc.SeedPath == "" {
		c, err = NewWithoutFilename(cc.Target, cc.OutputDir, cc.Timeout)
	} else {
		c, err = New(cc.Target, cc.OutputDir, cc.Timeout, cc.SeedPath)
	}
	if err != nil {
		return nil, err
	}

	p.Logger.Info("campaign workspace ready",
		zap.String("campaign_id", c.ID),
		zap.String("output_dir", c.OutputDir),
		zap.String("input_path", c.InputPath),
		zap.Bool("stdin", c.UsesStdin()),
		zap.Duration("timeout", c.Timeout))

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return c.Close()
		},
	})
	return c, nil
}
