package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

const (
	auditColumns = `
    id,
    resource_type,
    resource_id,
    action,
    actor_type,
    actor_id,
    previous_state,
    new_state,
    metadata,
    recorded_at`

	auditInsertSQL = `
INSERT INTO audit_log (
    id,
    resource_type,
    resource_id,
    action,
    actor_type,
    actor_id,
    previous_state,
    new_state,
    metadata,
    recorded_at
)
VALUES (
    @id,
    @resource_type,
    @resource_id,
    @action,
    @actor_type,
    @actor_id,
    @previous_state::jsonb,
    @new_state::jsonb,
    @metadata::jsonb,
    @recorded_at
);
`
)

func scanAudit(row scanner) (schema.AuditEntry, error) {
	var (
		entry                    schema.AuditEntry
		actorID                  *string
		previous, next, metadata []byte
	)
	if err := row.Scan(
		&entry.ID,
		&entry.ResourceType,
		&entry.ResourceID,
		&entry.Action,
		&entry.ActorType,
		&actorID,
		&previous,
		&next,
		&metadata,
		&entry.Timestamp,
	); err != nil {
		return schema.AuditEntry{}, err
	}
	meta, err := decodeMetadata(metadata)
	if err != nil {
		return schema.AuditEntry{}, err
	}
	entry.ActorID = stringValue(actorID)
	entry.PreviousState = previous
	entry.NewState = next
	entry.Metadata = meta
	entry.Timestamp = entry.Timestamp.UTC()
	return entry, nil
}

func (t *tx) AppendAudit(ctx context.Context, entry schema.AuditEntry) error {
	metadata, err := encodeJSON(entry.Metadata)
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"id":             entry.ID,
		"resource_type":  entry.ResourceType,
		"resource_id":    entry.ResourceID,
		"action":         entry.Action,
		"actor_type":     entry.ActorType,
		"actor_id":       nullableString(entry.ActorID),
		"previous_state": rawJSON(entry.PreviousState),
		"new_state":      rawJSON(entry.NewState),
		"metadata":       metadata,
		"recorded_at":    entry.Timestamp,
	}
	if _, err := t.tx.Exec(ctx, auditInsertSQL, args); err != nil {
		return fmt.Errorf("ledger store: append audit: %w", mapError(err))
	}
	return nil
}

// ListAudit returns one resource's entries in the requested window, oldest first.
func (s *Store) ListAudit(ctx context.Context, query ledgerstore.AuditQuery) ([]schema.AuditEntry, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	if query.ResourceType == "" || query.ResourceID == "" {
		return nil, errors.New("ledger store: list audit: resource type and id required")
	}

	builder := strings.Builder{}
	builder.WriteString("SELECT")
	builder.WriteString(auditColumns)
	builder.WriteString("\nFROM audit_log WHERE resource_type = $1 AND resource_id = $2")

	args := []any{query.ResourceType, query.ResourceID}
	argPos := 3
	if !query.From.IsZero() {
		fmt.Fprintf(&builder, " AND recorded_at >= $%d", argPos)
		args = append(args, query.From)
		argPos++
	}
	if !query.To.IsZero() {
		fmt.Fprintf(&builder, " AND recorded_at <= $%d", argPos)
		args = append(args, query.To)
		argPos++
	}
	fmt.Fprintf(&builder, " ORDER BY recorded_at ASC, seq ASC LIMIT $%d", argPos)
	args = append(args, ledgerstore.ClampLimit(query.Limit))

	return collectRows(ctx, pool, "list audit", builder.String(), args, scanAudit)
}
