package question

import (
	"context"
	"fmt"
)

// OriginKind names the type of object that produced a question.
type OriginKind string

const (
	OriginDocument     OriginKind = "document"
	OriginMessage      OriginKind = "message"
	OriginConversation OriginKind = "conversation"
	OriginTuningBatch  OriginKind = "tuning_batch"
)

// Valid reports whether k is a known origin kind.
func (k OriginKind) Valid() bool {
	switch k {
	case OriginDocument, OriginMessage, OriginConversation, OriginTuningBatch:
		return true
	}
	return false
}

// OriginRef is a tagged reference to the object that produced a question.
// It replaces path-string matching ("/documents/<uuid>") with an explicit
// variant resolved once at construction.
type OriginRef struct {
	Kind OriginKind `json:"kind"`
	UUID string     `json:"uuid"`
}

func (r OriginRef) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.UUID)
}

// Reference is the back-reference an origin keeps for a question it produced.
type Reference struct {
	UUID string `json:"uuid"`
	Text string `json:"text"`
}

// Notifier is the narrow contract the store uses to keep origins informed
// when questions are attached to or removed from them. Implementations must
// tolerate detaching a reference that is already gone so a retried delete
// converges.
type Notifier interface {
	AttachReference(ctx context.Context, originUUID string, ref Reference) error
	DetachReference(ctx context.Context, originUUID string, ref Reference) error
}

// Origins maps each origin kind to its Notifier. The mapping is fixed at
// construction; an unregistered kind is a wiring error surfaced on use.
type Origins struct {
	notifiers map[OriginKind]Notifier
}

// NewOrigins creates an empty registry.
func NewOrigins() *Origins {
	return &Origins{notifiers: make(map[OriginKind]Notifier)}
}

// Register binds a notifier to an origin kind, replacing any previous one.
func (o *Origins) Register(kind OriginKind, n Notifier) {
	o.notifiers[kind] = n
}

// Attach notifies the origin that a question now references it.
func (o *Origins) Attach(ctx context.Context, ref OriginRef, r Reference) error {
	n, ok := o.notifiers[ref.Kind]
	if !ok {
		return fmt.Errorf("no notifier registered for origin kind %q", ref.Kind)
	}
	if err := n.AttachReference(ctx, ref.UUID, r); err != nil {
		return fmt.Errorf("attaching reference to %s: %w", ref, err)
	}
	return nil
}

// Detach notifies the origin that a question reference was removed.
func (o *Origins) Detach(ctx context.Context, ref OriginRef, r Reference) error {
	n, ok := o.notifiers[ref.Kind]
	if !ok {
		return fmt.Errorf("no notifier registered for origin kind %q", ref.Kind)
	}
	if err := n.DetachReference(ctx, ref.UUID, r); err != nil {
		return fmt.Errorf("detaching reference from %s: %w", ref, err)
	}
	return nil
}
