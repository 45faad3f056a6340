package main

import (
	"github.com/idkwim/baeum/internal/app"
	"github.com/idkwim/baeum/internal/fuzz"
	"github.com/idkwim/baeum/internal/fuzz/qemu"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		app.Infrastructure,
		app.Campaign,
		fx.Provide(
			fx.Annotate(qemu.ProvideExecutor, fx.As(new(fuzz.Executor))), // run targets under the coverage tracer
			fuzz.ProvideCorpusSource,                                      // replay seed and queue
		),
	).Run()
}
