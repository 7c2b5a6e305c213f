package memory

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

type BadgerOptions struct {
	// Dir is where badger keeps its files. Required unless InMemory is set.
	Dir      string
	InMemory bool
}

// BadgerDB owns the database. Stores for different purposes share it under
// separate namespaces.
type BadgerDB struct {
	db     *badger.DB
	closed atomic.Bool
}

func OpenBadger(opts BadgerOptions) (*BadgerDB, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("memory: badger dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{})
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerDB{db: db}, nil
}

func (b *BadgerDB) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}

// Store returns a view over the namespace. Closing the view does not close
// the database.
func (b *BadgerDB) Store(namespace string) *BadgerStore {
	return &BadgerStore{db: b, namespace: namespace}
}

type BadgerStore struct {
	db        *BadgerDB
	namespace string
	seq       atomic.Uint32
}

// prefix length-prefixes namespace and group id so no group's prefix is a
// prefix of another group's keys.
func (s *BadgerStore) prefix(groupID string) []byte {
	key := binary.AppendUvarint(nil, uint64(len(s.namespace)))
	key = append(key, s.namespace...)
	key = binary.AppendUvarint(key, uint64(len(groupID)))
	return append(key, groupID...)
}

// key orders records by timestamp, with a sequence suffix so records
// appended within the same nanosecond keep their order.
func (s *BadgerStore) key(groupID string, record Record) []byte {
	key := s.prefix(groupID)
	key = binary.BigEndian.AppendUint64(key, uint64(record.Timestamp.UnixNano()))
	return binary.BigEndian.AppendUint32(key, s.seq.Add(1))
}

func (s *BadgerStore) Append(_ context.Context, groupID string, records ...Record) error {
	if s.db.closed.Load() {
		return ErrClosed
	}

	return s.db.db.Update(func(txn *badger.Txn) error {
		for _, record := range records {
			value, err := msgpack.Marshal(record)
			if err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
			if err := txn.Set(s.key(groupID, record), value); err != nil {
				return fmt.Errorf("failed to store record: %w", err)
			}
		}
		return nil
	})
}

func (s *BadgerStore) Snapshot(_ context.Context, groupID string) ([]Record, error) {
	if s.db.closed.Load() {
		return nil, ErrClosed
	}

	prefix := s.prefix(groupID)
	records := []Record{}
	err := s.db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record Record
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("failed to decode record: %w", err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BadgerStore) Close() error { return nil }

// badgerLogger routes badger's chatter through the package logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
}
func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn(fmt.Sprintf(format, args...))
}
func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
