package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/idkwim/baeum/config"
	"github.com/idkwim/baeum/internal/campaign"
	"github.com/idkwim/baeum/internal/utils"
	"github.com/idkwim/baeum/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Importer copies an initial corpus into the campaign queue at startup.
type Importer struct {
	logger        *zap.Logger
	campaign      *campaign.Campaign
	source        string
	tracerFactory *telemetry.TracerFactory
}

type ImporterParams struct {
	fx.In

	Logger        *zap.Logger
	Lifecycle     fx.Lifecycle
	Config        *config.AppConfig
	Campaign      *campaign.Campaign
	TracerFactory *telemetry.TracerFactory
}

func NewImporter(p ImporterParams) *Importer {
	i := &Importer{
		logger:        p.Logger,
		campaign:      p.Campaign,
		source:        p.Config.SeedCorpus,
		tracerFactory: p.TracerFactory,
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return i.Run(ctx)
		},
	})
	return i
}

// Run imports the configured corpus, if any.
func (i *Importer) Run(ctx context.Context) error {
	if i.source == "" {
		return nil
	}
	tracer := i.tracerFactory.NewTracer(ctx, "importing corpus")
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Setup).
		WithCampaignID(i.campaign.ID).
		WithExtraAttributes(map[string]any{"baeum.corpus.source": i.source}))
	tracer.Start()
	defer tracer.End()

	n, err := Import(i.source, i.campaign.QueueDir())
	if err != nil {
		return fmt.Errorf("failed to import corpus %s: %w", i.source, err)
	}
	tracer.WithAttributes(telemetry.EmptySpanAttributes().WithExtraAttributes(map[string]any{"baeum.corpus.size": n}))
	i.logger.Info("imported corpus", zap.String("source", i.source), zap.Int("seeds", n))
	return nil
}

// Import copies every regular, non-hidden file below src into queueDir. src
// is either a directory or a .tar.gz archive. It returns the number of files
// copied.
func Import(src, queueDir string) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}

	root := src
	if !info.IsDir() {
		if !utils.IsTarGz(src) {
			return 0, fmt.Errorf("%s is neither a directory nor a tar.gz archive", src)
		}
		tmpDir, err := os.MkdirTemp("", "corpus-*")
		if err != nil {
			return 0, fmt.Errorf("failed to create tmp dir for corpus: %w", err)
		}
		defer os.RemoveAll(tmpDir)
		if err := utils.UnpackTarGz(src, tmpDir); err != nil {
			return 0, err
		}
		root = tmpDir
	}

	count := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		hidden := path != root && strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !d.Type().IsRegular() {
			return nil
		}
		dst := filepath.Join(queueDir, fmt.Sprintf("import-%06d", count))
		if err := utils.CopyFile(path, dst); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}
