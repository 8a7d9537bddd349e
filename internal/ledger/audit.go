package ledger

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/tradeledger/errs"
	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

// Audit actions.
const (
	ActionOrderCreated       = "order_created"
	ActionOrderStatusChanged = "order_status_changed"
	ActionOrderCancelled     = "order_cancelled"
	ActionTradeRecorded      = "trade_recorded"
	ActionBalanceUpdated     = "balance_updated"
	ActionPricesUpdated      = "prices_updated"
	ActionHoldCreated        = "hold_created"
	ActionHoldReleased       = "hold_released"
	ActionHoldApplied        = "hold_applied"
)

type auditRecord struct {
	resourceType string
	resourceID   string
	action       string
	previous     any
	next         any
	metadata     map[string]any
}

// appendAudit writes one entry inside tx. previous and next are snapshotted as JSON;
// pass untyped nil to omit a side.
func (s *Service) appendAudit(ctx context.Context, tx ledgerstore.Tx, rec auditRecord) error {
	actor := s.actorFrom(ctx)
	entry := schema.AuditEntry{
		ID:           s.newID(),
		ResourceType: rec.resourceType,
		ResourceID:   rec.resourceID,
		Action:       rec.action,
		ActorType:    actor.Type,
		ActorID:      actor.ID,
		Metadata:     rec.metadata,
		Timestamp:    s.now(),
	}
	if rec.previous != nil {
		raw, err := json.Marshal(rec.previous)
		if err != nil {
			return fmt.Errorf("audit %s: encode previous state: %w", rec.action, err)
		}
		entry.PreviousState = raw
	}
	if rec.next != nil {
		raw, err := json.Marshal(rec.next)
		if err != nil {
			return fmt.Errorf("audit %s: encode new state: %w", rec.action, err)
		}
		entry.NewState = raw
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("audit %s: %w", rec.action, err)
	}
	return nil
}

// AuditTrail returns the entries of one resource in ascending timestamp order.
func (s *Service) AuditTrail(ctx context.Context, query ledgerstore.AuditQuery) ([]schema.AuditEntry, error) {
	const op = "ledger.AuditTrail"
	query.ResourceType = strings.TrimSpace(query.ResourceType)
	query.ResourceID = strings.TrimSpace(query.ResourceID)
	if query.ResourceType == "" || query.ResourceID == "" {
		return nil, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("resource type and id required"))
	}
	if !query.From.IsZero() && !query.To.IsZero() && query.To.Before(query.From) {
		return nil, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("range end precedes start"))
	}
	query.Limit = ledgerstore.ClampLimit(query.Limit)
	entries, err := s.store.ListAudit(ctx, query)
	if err != nil {
		return nil, read(op, err, "")
	}
	return entries, nil
}
