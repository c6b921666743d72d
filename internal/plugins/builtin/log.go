package builtin

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/plugin"
)

// Log writes each result to the structured log.
type Log struct {
	logger *zap.Logger
}

// NewLog is the PipelineFactory for LogID.
func NewLog(_ ingest.PluginConfig, deps plugin.Deps) (ingest.Pipeline, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}, nil
}

// Process logs result with the message it came from.
func (l *Log) Process(_ context.Context, cfg ingest.PluginConfig, result *ingest.Record, msg *ingest.Record) error {
	l.logger.Info("result",
		zap.String("class", cfg.Class),
		zap.Any("message", msg),
		zap.Any("result", result),
	)
	return nil
}
