package persistence

import (
	"context"
	"fmt"

	"github.com/neogan74/rentguard/internal/audit"
	"github.com/neogan74/rentguard/internal/logger"
)

// NewAuditWriter creates the audit sink named by cfg.Sink.
func NewAuditWriter(ctx context.Context, cfg audit.Config, log logger.Logger) (audit.Writer, error) {
	switch cfg.Sink {
	case "", SinkMemory:
		log.Info("Using in-memory audit sink")
		return audit.NewMemoryStore(audit.DefaultMemoryCapacity), nil
	case SinkStdout:
		log.Info("Using stdout audit sink")
		return audit.NewStdoutWriter(nil), nil
	case SinkFile:
		log.Info("Using file audit sink", logger.String("path", cfg.FilePath))
		return audit.NewFileWriter(cfg.FilePath)
	case SinkBadger:
		log.Info("Using BadgerDB audit sink", logger.String("data_dir", cfg.DataDir))
		return NewBadgerStore(cfg.DataDir, false, log)
	case SinkPostgres:
		log.Info("Using PostgreSQL audit sink")
		return OpenSQLStore(ctx, cfg.PostgresDSN, log)
	default:
		return nil, fmt.Errorf("unsupported audit sink: %s", cfg.Sink)
	}
}
