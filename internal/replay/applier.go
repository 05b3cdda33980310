package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/toursync/internal/action"
)

// ErrNoApplier marks actions whose type has no registered applier.
var ErrNoApplier = errors.New("no applier registered for action type")

// Applier delivers one action to the remote store. It must enforce its
// own timeout and be safe to call twice for the same action.
type Applier interface {
	Apply(ctx context.Context, a action.QueuedAction) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, a action.QueuedAction) error

func (f ApplierFunc) Apply(ctx context.Context, a action.QueuedAction) error { return f(ctx, a) }

// Appliers maps action types to their appliers.
type Appliers map[action.Type]Applier

// Typed builds an Applier for one payload shape. Actions whose payload is
// not a P fail.
func Typed[P action.Payload](fn func(ctx context.Context, entityID string, p P) error) Applier {
	return ApplierFunc(func(ctx context.Context, a action.QueuedAction) error {
		p, ok := a.Payload.(P)
		if !ok {
			var want P
			return fmt.Errorf("action %s: payload %T is not %T", a.ID, a.Payload, want)
		}
		return fn(ctx, a.EntityID, p)
	})
}

// apply runs the applier and turns a panic into an error.
func apply(ctx context.Context, ap Applier, a action.QueuedAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("applier panic: %v", r)
		}
	}()
	return ap.Apply(ctx, a)
}
