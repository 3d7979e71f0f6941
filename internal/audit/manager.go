package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/metrics"
)

var (
	ErrManagerClosed = errors.New("audit manager closed")
	// ErrNilRecord is returned when callers attempt to record a nil record.
	ErrNilRecord = errors.New("audit record is nil")
	// ErrBufferFull is returned under the drop policy when the buffer is full.
	ErrBufferFull = errors.New("audit buffer full")
	// ErrQueryUnsupported is returned when the configured sink cannot be queried.
	ErrQueryUnsupported = errors.New("audit sink does not support queries")
)

const defaultBlockTimeout = 100 * time.Millisecond

// DropPolicy decides what Record does when the buffer is full.
type DropPolicy string

const (
	DropPolicyDrop  DropPolicy = "drop"
	DropPolicyBlock DropPolicy = "block"
)

// Config selects the sink and tunes delivery. Sink-specific fields are
// read by persistence.NewAuditWriter.
type Config struct {
	Enabled       bool
	Sink          string
	FilePath      string
	DataDir       string
	PostgresDSN   string
	BufferSize    int
	FlushInterval time.Duration
	DropPolicy    DropPolicy
	// BlockTimeout bounds how long DropPolicyBlock waits for buffer room.
	BlockTimeout time.Duration
}

// Writer defines the sink contract for audit records.
type Writer interface {
	Write(record *Record) error
	Flush() error
	Close(ctx context.Context) error
}

// Querier is implemented by sinks that can read records back.
type Querier interface {
	Query(ctx context.Context, q Query) ([]Record, error)
}

// Manager decouples audit emission from sink I/O: records are queued on a
// bounded channel and written by a single goroutine, with a periodic flush.
type Manager struct {
	cfg    Config
	log    logger.Logger
	writer Writer

	records chan *Record
	wg      sync.WaitGroup

	flushTicker *time.Ticker
	stopOnce    sync.Once

	enabled bool
	closed  bool
	mu      sync.RWMutex
}

// NewManager starts the delivery goroutine. A disabled config yields a
// manager whose Record is a no-op, so callers never need a nil check.
func NewManager(cfg Config, writer Writer, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.GetDefault()
	}

	if !cfg.Enabled {
		return &Manager{
			cfg:     cfg,
			log:     log,
			enabled: false,
		}, nil
	}

	if writer == nil {
		return nil, errors.New("audit writer is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = DropPolicyDrop
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}

	m := &Manager{
		cfg:         cfg,
		log:         log,
		writer:      writer,
		records:     make(chan *Record, cfg.BufferSize),
		flushTicker: time.NewTicker(cfg.FlushInterval),
		enabled:     true,
	}

	m.wg.Add(1)
	go m.run()

	return m, nil
}

func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// Record stamps the record (timestamp, ULID) and queues it for the writer.
// Under DropPolicyDrop a full buffer fails fast with ErrBufferFull; under
// DropPolicyBlock the call waits for room, for ctx, or at most BlockTimeout,
// so a stalled sink never holds the audited call for long.
func (m *Manager) Record(ctx context.Context, record *Record) (string, error) {
	if !m.Enabled() {
		return "", nil
	}
	if record == nil {
		return "", ErrNilRecord
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.ID == "" {
		record.ID = NewID(record.Timestamp)
	}

	// The read lock is held across the send so Shutdown cannot close the
	// channel underneath a sender.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.dropped("manager_closed")
		return "", ErrManagerClosed
	}

	if m.cfg.DropPolicy == DropPolicyDrop {
		select {
		case m.records <- record:
			return record.ID, nil
		default:
			m.dropped("buffer_full")
			return "", ErrBufferFull
		}
	}

	timer := time.NewTimer(m.cfg.BlockTimeout)
	defer timer.Stop()
	select {
	case m.records <- record:
		return record.ID, nil
	case <-ctx.Done():
		m.dropped("context_cancelled")
		return "", ctx.Err()
	case <-timer.C:
		m.dropped("block_timeout")
		return "", ErrBufferFull
	}
}

func (m *Manager) dropped(reason string) {
	metrics.AuditEventsDroppedTotal.WithLabelValues(m.cfg.Sink, reason).Inc()
	m.log.Warn("Audit record dropped", logger.String("reason", reason), logger.String("sink", m.cfg.Sink))
}

// Query reads records back from the sink. Records still buffered in the
// channel are not visible yet.
func (m *Manager) Query(ctx context.Context, q Query) ([]Record, error) {
	if !m.Enabled() {
		return nil, ErrQueryUnsupported
	}
	querier, ok := m.writer.(Querier)
	if !ok {
		return nil, ErrQueryUnsupported
	}
	return querier.Query(ctx, q.Normalize())
}

// Sink returns the configured sink name.
func (m *Manager) Sink() string {
	if m == nil {
		return ""
	}
	return m.cfg.Sink
}

func (m *Manager) run() {
	defer m.wg.Done()

	for {
		select {
		case record, ok := <-m.records:
			if !ok {
				m.flush()
				return
			}
			m.write(record)
		case <-m.flushTicker.C:
			m.flush()
		}
	}
}

// Shutdown stops intake, writes everything still queued, then flushes and
// closes the writer. It returns ctx.Err() if draining outlives ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}

	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.records)
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.flushTicker.Stop()
	m.flush()
	return m.writer.Close(ctx)
}

func (m *Manager) write(record *Record) {
	if record == nil {
		return
	}
	if err := m.writer.Write(record); err != nil {
		m.log.Error("Failed to write audit record",
			logger.String("audit_id", record.ID),
			logger.Error(err))
		metrics.AuditEventsTotal.WithLabelValues(m.cfg.Sink, "error").Inc()
		return
	}
	metrics.AuditEventsTotal.WithLabelValues(m.cfg.Sink, "written").Inc()
}

func (m *Manager) flush() {
	start := time.Now()
	if err := m.writer.Flush(); err != nil {
		m.log.Error("Failed to flush audit writer", logger.Error(err))
		return
	}
	metrics.AuditWriterFlushDuration.WithLabelValues(m.cfg.Sink).Observe(time.Since(start).Seconds())
}
