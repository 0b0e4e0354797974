package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions recorded for administrative mutations.
const (
	AuditCreate = "create"
	AuditUpdate = "update"
	AuditDelete = "delete"
	AuditSync   = "sync"
	AuditAssign = "assign"
)

// ErrIncompleteAudit rejects entries missing action, entity or entity id.
var ErrIncompleteAudit = errors.New("audit log requires action, entity and entity id")

// AuditLog is one row of audit_logs. ActorID zero marks a system action
// such as the seeder or the CLI.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db  Execer
	now func() time.Time
}

// NewAuditLogger returns an AuditLogger writing through db.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db, now: time.Now}
}

const insertAudit = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// Record persists the log entry, stamping it with the current time when At is unset.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return ErrIncompleteAudit
	}
	meta := log.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}
	at := log.At
	if at.IsZero() {
		at = l.now()
	}
	if _, err := l.db.Exec(ctx, insertAudit, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at.UTC()); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

type auditActorKey struct{}

// ContextWithAuditActor tags ctx with the id of the user performing mutations.
func ContextWithAuditActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, auditActorKey{}, actorID)
}

// AuditActorFromContext returns the acting user id or zero for system actions.
func AuditActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(auditActorKey{}).(int64)
	return id
}

// NopAudit discards audit entries.
type NopAudit struct{}

// Record implements AuditRecorder.
func (NopAudit) Record(context.Context, AuditLog) error { return nil }
