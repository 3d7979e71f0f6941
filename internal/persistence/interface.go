package persistence

import (
	"github.com/neogan74/rentguard/internal/audit"
)

// Store is an audit sink that can also be queried.
type Store interface {
	audit.Writer
	audit.Querier
}

var (
	_ Store = (*BadgerStore)(nil)
	_ Store = (*SQLStore)(nil)
	_ Store = (*audit.MemoryStore)(nil)
)

// Sink names accepted in audit.Config.Sink.
const (
	SinkMemory   = "memory"
	SinkStdout   = "stdout"
	SinkFile     = "file"
	SinkBadger   = "badger"
	SinkPostgres = "postgres"
)
