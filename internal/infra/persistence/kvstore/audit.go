package kvstore

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

// auditStampPos is the index of the timestamp segment in an audit key:
// a, resourceType, resourceID, timestamp, sequence, entryID.
const auditStampPos = 3

func (t *tx) AppendAudit(_ context.Context, entry schema.AuditEntry) error {
	if t.auditSeq == nil {
		return errors.New("append audit: sequence not initialised")
	}
	idx := key(idxAuditID, entry.ID)
	found, err := exists(t.txn, idx)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("append audit %s: %w", entry.ID, ledgerstore.ErrDuplicate)
	}
	n, err := t.auditSeq.Next()
	if err != nil {
		return fmt.Errorf("append audit %s: next sequence: %w", entry.ID, err)
	}
	k := key(prefixAudit, entry.ResourceType, entry.ResourceID, stamp(entry.Timestamp), fmt.Sprintf("%020d", n), entry.ID)
	if err := setJSON(t.txn, k, entry); err != nil {
		return err
	}
	return setIndex(t.txn, idx)
}

// ListAudit returns entries of one resource with From <= timestamp <= To in
// ascending order. Zero bounds are open.
func (s *Store) ListAudit(ctx context.Context, query ledgerstore.AuditQuery) ([]schema.AuditEntry, error) {
	if query.ResourceType == "" || query.ResourceID == "" {
		return nil, errors.New("list audit: resource type and id required")
	}
	limit := ledgerstore.ClampLimit(query.Limit)
	p := prefix(prefixAudit, query.ResourceType, query.ResourceID)
	start := p
	if !query.From.IsZero() {
		start = append(append([]byte{}, p...), stamp(query.From)...)
	}

	var entries []schema.AuditEntry
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(start); it.ValidForPrefix(p) && len(entries) < limit; it.Next() {
			item := it.Item()
			if !query.To.IsZero() {
				at, err := stampAt(item.Key(), auditStampPos)
				if err != nil {
					return err
				}
				if at.After(query.To) {
					break
				}
			}
			var entry schema.AuditEntry
			if err := item.Value(func(val []byte) error { return decode(val, &entry) }); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return entries, nil
}
