package logger

import (
	"giftledger/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger: console output in development, JSON in
// production. The result also replaces zap's global logger.
func New(cfg *config.Config) (*zap.Logger, error) {
	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	if cfg.App.IsProduction() {
		zcfg := zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zcfg.EncoderConfig.StacktraceKey = "stacktrace"
		zcfg.EncoderConfig.LevelKey = "severity"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zcfg.EncoderConfig.CallerKey = "caller"
		zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		zcfg.Encoding = "json"
		zcfg.OutputPaths = []string{"stdout"}
		zcfg.ErrorOutputPaths = []string{"stderr"}

		log, err = zcfg.Build()
		if err != nil {
			return nil, err
		}
	}

	log = log.With(
		zap.String("env", cfg.App.Env),
		zap.String("service_name", cfg.App.Name),
	)

	zap.ReplaceGlobals(log)
	return log, nil
}
