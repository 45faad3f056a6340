package crash

import (
	"context"
	"time"

	"github.com/idkwim/baeum/pkg/database"
	"github.com/idkwim/baeum/pkg/mq"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type ReporterParams struct {
	fx.In

	DB       *gorm.DB    `optional:"true"`
	RabbitMQ mq.RabbitMQ `optional:"true"`
}

// dbReporter inserts one Crash row per unique crash.
type dbReporter struct {
	db *gorm.DB
}

func NewDBReporter(p ReporterParams) Reporter {
	if p.DB == nil {
		return nil
	}
	return &dbReporter{db: p.DB}
}

func (r *dbReporter) Name() string { return "database" }

func (r *dbReporter) Report(ctx context.Context, crash *Crash) error {
	return database.AddCrash(ctx, r.db, database.NewCrash(&crash.CrashMessage, crash.MD5))
}

// CrashReport is the JSON body published to the crash queue.
type CrashReport struct {
	CampaignID string    `json:"campaign_id"`
	Ordinal    uint32    `json:"ordinal"`
	CrashFile  string    `json:"crash_file"`
	Signature  string    `json:"signature"`
	MD5        string    `json:"md5"`
	Size       int       `json:"size"`
	FoundAt    time.Time `json:"found_at"`
}

type mqReporter struct {
	rabbitMQ mq.RabbitMQ
	queue    string
}

func NewMQReporter(p ReporterParams) Reporter {
	if p.RabbitMQ == nil {
		return nil
	}
	return &mqReporter{rabbitMQ: p.RabbitMQ, queue: mq.CrashQueue}
}

func (r *mqReporter) Name() string { return "rabbitmq" }

func (r *mqReporter) Report(ctx context.Context, crash *Crash) error {
	return r.rabbitMQ.PublishJSON(ctx, r.queue, NewCrashReport(crash))
}

func NewCrashReport(crash *Crash) CrashReport {
	return CrashReport{
		CampaignID: crash.CampaignID,
		Ordinal:    crash.Ordinal,
		CrashFile:  crash.CrashFile,
		Signature:  crash.Signature.String(),
		MD5:        crash.MD5,
		Size:       crash.Size,
		FoundAt:    crash.FoundAt,
	}
}
