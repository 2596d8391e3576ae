package core

import (
	"context"
	"time"

	"conservatory/pkg/domain"
)

// AuditStatus marks the outcome of an audited operation.
type AuditStatus string

// Audit statuses.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditAction classifies what an operation did.
type AuditAction string

// Audit actions.
const (
	ActionEnroll    AuditAction = "enroll"
	ActionWithdraw  AuditAction = "withdraw"
	ActionReconcile AuditAction = "reconcile"
	ActionDelete    AuditAction = "delete"
	ActionRestore   AuditAction = "restore"
)

// AuditEntry records a state-changing operation.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    AuditAction
	EntityID  string
	Status    AuditStatus
	Duration  time.Duration
	Timestamp time.Time
	Error     string
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type operationMeta struct {
	entity domain.EntityType
	action AuditAction
}

// auditedOperations maps operation names to audit metadata. An empty entity
// is taken from the operation's root at record time.
var auditedOperations = map[string]operationMeta{
	"add_member":       {entity: domain.EntityPerson, action: ActionEnroll},
	"remove_member":    {entity: domain.EntityPerson, action: ActionWithdraw},
	"reconcile_person": {entity: domain.EntityPerson, action: ActionReconcile},
	"reconcile_sweep":  {entity: domain.EntityPerson, action: ActionReconcile},
	"execute_deletion": {action: ActionDelete},
	"restore_snapshot": {action: ActionRestore},
}

func (s *Service) recordAudit(ctx context.Context, op string, ref domain.EntityRef, duration time.Duration, err error) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	entity := meta.entity
	if entity == "" {
		entity = ref.Type
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    entity,
		Action:    meta.action,
		EntityID:  ref.ID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.opts.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.opts.audit.Record(ctx, entry)
}
