package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/vampirenirmal/stageflow/internal/gate"
	"github.com/vampirenirmal/stageflow/internal/stage"
)

// BadgerConfig holds the knobs for the embedded store.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory.
	Path string
	// InMemory disables disk persistence. Useful for tests.
	InMemory bool
	// SyncWrites trades write latency for durability.
	SyncWrites bool
	// Logger receives Badger's internal logging; nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns durable production defaults.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// Badger is a Store backed by an embedded BadgerDB instance. Every write is
// a single transaction, which gives CreateAccount its atomicity and
// UpdateStage its compare-and-swap semantics.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
}

func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", cfg.Path, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Badger{db: db, logger: logger.With("component", "store")}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func accountKey(id uuid.UUID) []byte {
	return []byte("account:" + id.String())
}

func stageKey(accountID uuid.UUID, number int) []byte {
	return []byte(fmt.Sprintf("stage:%s:%d", accountID, number))
}

func stagePrefix(accountID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("stage:%s:", accountID))
}

// validationKey orders records by append time within a stage.
func validationKey(accountID uuid.UUID, number int, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("validation:%s:%d:%020d:%s", accountID, number, time.Now().UnixNano(), id))
}

func validationPrefix(accountID uuid.UUID, number int) []byte {
	return []byte(fmt.Sprintf("validation:%s:%d:", accountID, number))
}

func (b *Badger) CreateAccount(ctx context.Context, account *stage.Account, stages []*stage.Stage) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(accountKey(account.ID)); err == nil {
			return fmt.Errorf("account %s already exists", account.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := setJSON(txn, accountKey(account.ID), account); err != nil {
			return err
		}
		for _, s := range stages {
			if err := setJSON(txn, stageKey(account.ID, s.Number), s); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) GetAccount(ctx context.Context, accountID uuid.UUID) (*stage.Account, error) {
	var account stage.Account
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, accountKey(accountID), &account)
	})
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", accountID, err)
	}
	return &account, nil
}

func (b *Badger) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, accountKey(accountID), &stage.Account{}); err != nil {
			return fmt.Errorf("account %s: %w", accountID, err)
		}
		if err := txn.Delete(accountKey(accountID)); err != nil {
			return err
		}
		// Cascade to stages and validation records.
		for n := 1; n <= 7; n++ {
			if err := txn.Delete(stageKey(accountID, n)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			keys, err := collectKeys(txn, validationPrefix(accountID, n))
			if err != nil {
				return err
			}
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (b *Badger) GetStage(ctx context.Context, accountID uuid.UUID, number int) (*stage.Stage, error) {
	var s stage.Stage
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, stageKey(accountID, number), &s)
	})
	if err != nil {
		return nil, fmt.Errorf("stage %d of account %s: %w", number, accountID, err)
	}
	return &s, nil
}

func (b *Badger) ListStages(ctx context.Context, accountID uuid.UUID) ([]*stage.Stage, error) {
	var stages []*stage.Stage
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: stagePrefix(accountID), PrefetchValues: true, PrefetchSize: 8})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var s stage.Stage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return err
			}
			stages = append(stages, &s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("account %s: %w", accountID, stage.ErrNotFound)
	}
	// Key order is lexicographic, so stage numbers come back sorted.
	return stages, nil
}

func (b *Badger) UpdateStage(ctx context.Context, s *stage.Stage, expectedVersion uint64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var current stage.Stage
		if err := getJSON(txn, stageKey(s.AccountID, s.Number), &current); err != nil {
			return fmt.Errorf("stage %d of account %s: %w", s.Number, s.AccountID, err)
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("stage %d of account %s: %w (have %d, expected %d)",
				s.Number, s.AccountID, stage.ErrVersionConflict, current.Version, expectedVersion)
		}

		s.Version = expectedVersion + 1
		return setJSON(txn, stageKey(s.AccountID, s.Number), s)
	})
}

func (b *Badger) AppendValidation(ctx context.Context, record *gate.Record) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, validationKey(record.AccountID, record.StageNumber, record.ID), record)
	})
}

func (b *Badger) ListValidations(ctx context.Context, accountID uuid.UUID, number int) ([]*gate.Record, error) {
	var records []*gate.Record
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: validationPrefix(accountID, number), PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var r gate.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			records = append(records, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return stage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func collectKeys(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

// badgerLogger adapts slog to Badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
