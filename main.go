package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fiffu/dealwatch/app"
	"github.com/fiffu/dealwatch/config"
	"github.com/fiffu/dealwatch/lib"
	"github.com/fiffu/dealwatch/senders"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(NewLogger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(config.NewConfig),

		fx.Provide(app.NewTransport),
		fx.Provide(senders.NewSenderRegistry),
		fx.Provide(senders.NewAlerter),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewStore),
		fx.Provide(app.NewRedis),
		fx.Provide(app.NewCache),
		fx.Provide(app.NewFeedCache),
		fx.Provide(app.NewMetricsRegistry),
		fx.Provide(app.NewMetrics),

		fx.Provide(app.NewFetcher),
		fx.Provide(app.NewScorer),
		fx.Provide(app.NewScheduler),
		fx.Provide(app.NewGuard),
		fx.Provide(app.NewProviders),
		fx.Provide(app.NewOrchestrator),

		fx.Provide(lib.NewService),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*http.Server) {}),
	).Run()
}
