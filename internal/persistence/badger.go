package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"

	"github.com/neogan74/rentguard/internal/audit"
	"github.com/neogan74/rentguard/internal/logger"
)

const (
	recordPrefix = "audit:rec:"
	entityPrefix = "audit:ent:"
	actorPrefix  = "audit:act:"
)

// BadgerStore is an append-only audit sink on BadgerDB. Records are keyed by
// their ULID, so key order is time order; entity and actor index keys point
// back at the record key.
type BadgerStore struct {
	db       *badger.DB
	log      logger.Logger
	inMemory bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewBadgerStore opens the store in dataDir. An empty dataDir keeps all data
// in memory.
func NewBadgerStore(dataDir string, syncWrites bool, log logger.Logger) (*BadgerStore, error) {
	if log == nil {
		log = logger.GetDefault()
	}

	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		opts = badger.DefaultOptions(dataDir)
		opts.SyncWrites = syncWrites
		opts.ValueLogFileSize = 64 << 20
		opts.MemTableSize = 64 << 20
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	store := &BadgerStore{
		db:       db,
		log:      log,
		inMemory: dataDir == "",
		stop:     make(chan struct{}),
	}

	if !store.inMemory {
		go store.runGarbageCollection()
	}

	log.Info("BadgerDB audit store initialized",
		logger.String("data_dir", dataDir),
		logger.Bool("sync_writes", syncWrites),
		logger.Bool("in_memory", store.inMemory))

	return store, nil
}

func (b *BadgerStore) runGarbageCollection() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.log.Warn("BadgerDB garbage collection failed", logger.Error(err))
			}
		case <-b.stop:
			return
		}
	}
}

// Write stores the record and its index entries in one transaction.
func (b *BadgerStore) Write(record *audit.Record) error {
	if record == nil {
		return nil
	}
	if record.ID == "" {
		record.ID = audit.NewID(record.Timestamp)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(recordPrefix+record.ID), payload); err != nil {
			return err
		}
		if err := txn.Set(indexKey(entityPrefix, record.EntityName, record.ID), nil); err != nil {
			return err
		}
		return txn.Set(indexKey(actorPrefix, record.ActorID, record.ID), nil)
	})
}

func indexKey(prefix, value, id string) []byte {
	return []byte(prefix + value + ":" + id)
}

// Query picks the narrowest key range for q, seeks to q.From and walks
// forward in ULID order.
func (b *BadgerStore) Query(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	q = q.Normalize()

	scanPrefix := recordPrefix
	switch {
	case q.EntityName != "":
		scanPrefix = entityPrefix + q.EntityName + ":"
	case q.ActorID != "":
		scanPrefix = actorPrefix + q.ActorID + ":"
	}

	seek := scanPrefix
	if !q.From.IsZero() {
		var lower ulid.ULID
		if err := lower.SetTime(ulid.Timestamp(q.From)); err == nil {
			seek += lower.String()
		}
	}

	records := []audit.Record{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = scanPrefix == recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(scanPrefix)
		for it.Seek([]byte(seek)); it.ValidForPrefix(prefixBytes); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			id := strings.TrimPrefix(string(it.Item().Key()), scanPrefix)
			if !q.To.IsZero() {
				if parsed, err := ulid.ParseStrict(id); err == nil && ulid.Time(parsed.Time()).After(q.To) {
					break
				}
			}

			record, err := b.load(txn, id)
			if err != nil {
				return err
			}
			if record == nil || !q.Matches(record) {
				continue
			}
			records = append(records, *record)
			if len(records) == q.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	return records, nil
}

func (b *BadgerStore) load(txn *badger.Txn, id string) (*audit.Record, error) {
	item, err := txn.Get([]byte(recordPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record audit.Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode audit record %s: %w", id, err)
	}
	return &record, nil
}

// Count returns the number of stored records.
func (b *BadgerStore) Count() (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(recordPrefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *BadgerStore) Flush() error {
	if b.inMemory {
		return nil
	}
	return b.db.Sync()
}

func (b *BadgerStore) Close(context.Context) error {
	b.stopOnce.Do(func() { close(b.stop) })
	return b.db.Close()
}
