// Package kvstore implements ledgerstore.Store on an embedded badger database.
//
// Records are JSON documents under per-collection prefixes; lookups other than
// by primary key go through explicit index keys maintained in the same badger
// transaction as the record. Badger transactions are serializable snapshots:
// a commit whose read set was written concurrently fails with
// ledgerstore.ErrConflict.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
)

// Options configures Open.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// Logger receives badger's internal logs; nil silences them.
	Logger badger.Logger
}

// Store persists ledger aggregates in badger.
type Store struct {
	db       *badger.DB
	auditSeq *badger.Sequence
}

// tx implements ledgerstore.Tx over one read-write badger transaction. Every
// Get registers the key in the transaction's read set.
type tx struct {
	txn      *badger.Txn
	auditSeq *badger.Sequence
}

var _ ledgerstore.Store = (*Store)(nil)

// Open opens (or creates) the badger database described by opts.
func Open(opts Options) (*Store, error) {
	path := strings.TrimSpace(opts.Path)
	if !opts.InMemory && path == "" {
		return nil, errors.New("kvstore: path is required")
	}
	bopts := badger.DefaultOptions(path).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	if opts.Logger != nil {
		bopts = bopts.WithLogger(opts.Logger)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}
	// Audit keys carry a store-wide sequence so entries sharing a timestamp
	// list in append order.
	seq, err := db.GetSequence([]byte(seqAudit), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kvstore: audit sequence: %w", err)
	}
	return &Store{db: db, auditSeq: seq}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.auditSeq != nil {
		if err := s.auditSeq.Release(); err != nil {
			_ = s.db.Close()
			return fmt.Errorf("kvstore: release audit sequence: %w", err)
		}
	}
	return s.db.Close()
}

func (s *Store) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("kvstore: database not opened")
	}
	return nil
}

// WithTransaction runs fn inside one read-write badger transaction and commits
// it when fn succeeds.
func (s *Store) WithTransaction(ctx context.Context, fn func(context.Context, ledgerstore.Tx) error) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if fn == nil {
		return errors.New("kvstore: transaction function required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(ctx, &tx{txn: txn, auditSeq: s.auditSeq}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %v", ledgerstore.ErrConflict, err)
		}
		return fmt.Errorf("kvstore: commit: %w", err)
	}
	return nil
}

func (s *Store) view(ctx context.Context, fn func(*badger.Txn) error) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func getJSON(txn *badger.Txn, k []byte, dst any) error {
	item, err := txn.Get(k)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ledgerstore.ErrNotFound
		}
		return fmt.Errorf("kvstore: get: %w", err)
	}
	return item.Value(func(val []byte) error {
		return decode(val, dst)
	})
}

func decode(val []byte, dst any) error {
	if err := json.Unmarshal(val, dst); err != nil {
		return fmt.Errorf("kvstore: decode %T: %w", dst, err)
	}
	return nil
}

func setJSON(txn *badger.Txn, k []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: encode %T: %w", value, err)
	}
	if err := txn.Set(k, raw); err != nil {
		return fmt.Errorf("kvstore: set: %w", err)
	}
	return nil
}

func getString(txn *badger.Txn, k []byte) (string, bool, error) {
	item, err := txn.Get(k)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kvstore: get: %w", err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, fmt.Errorf("kvstore: read value: %w", err)
	}
	return string(raw), true, nil
}

func exists(txn *badger.Txn, k []byte) (bool, error) {
	_, err := txn.Get(k)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("kvstore: get: %w", err)
}

func setIndex(txn *badger.Txn, k []byte) error {
	if err := txn.Set(k, nil); err != nil {
		return fmt.Errorf("kvstore: set index: %w", err)
	}
	return nil
}

func deleteKey(txn *badger.Txn, k []byte) error {
	if err := txn.Delete(k); err != nil {
		return fmt.Errorf("kvstore: delete: %w", err)
	}
	return nil
}

// scanKeys visits keys under p in ascending (or descending) order until visit
// returns false.
func scanKeys(txn *badger.Txn, p []byte, reverse bool, visit func(k []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = p
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	start := p
	if reverse {
		start = prefixEnd(p)
	}
	for it.Seek(start); it.ValidForPrefix(p); it.Next() {
		cont, err := visit(it.Item().KeyCopy(nil))
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// collectIDs returns up to limit record ids from the index under p.
func collectIDs(txn *badger.Txn, p []byte, reverse bool, limit int) ([]string, error) {
	ids := make([]string, 0, limit)
	err := scanKeys(txn, p, reverse, func(k []byte) (bool, error) {
		ids = append(ids, lastSegment(k))
		return limit <= 0 || len(ids) < limit, nil
	})
	return ids, err
}
