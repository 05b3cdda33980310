// Package schema validates action payloads against CUE definitions before
// they enter the durable queue, so malformed intents fail at enqueue time
// instead of on every replay attempt.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/toursync/internal/action"
)

//go:embed payloads.cue
var defaultSchema string

// Validator checks JSON payloads against per-type CUE definitions named
// #<action type>. Types without a definition pass unchecked.
//
// Thread-safety: a CUE context is not safe for concurrent use, so every
// call is serialized.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// New compiles the built-in payload schemas.
func New() (*Validator, error) {
	return NewFromSource("payloads.cue", defaultSchema)
}

// NewFromSource compiles custom schema source.
func NewFromSource(filename, src string) (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %s", formatCUEError(err))
	}
	return &Validator{ctx: ctx, schema: v}, nil
}

// Has reports whether a definition exists for t.
func (v *Validator) Has(t action.Type) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.lookup(t)
	return ok
}

// Validate unifies raw with the definition for t and requires the result
// to be concrete.
func (v *Validator) Validate(t action.Type, raw json.RawMessage) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	def, ok := v.lookup(t)
	if !ok {
		return nil
	}

	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	data := v.ctx.CompileBytes(raw, cue.Filename(string(t)+".json"))
	if err := data.Err(); err != nil {
		return fmt.Errorf("%s payload is not valid JSON: %s", t, formatCUEError(err))
	}

	if err := def.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s payload: %s", t, formatCUEError(err))
	}
	return nil
}

// ValidatePayload encodes p and validates it.
func (v *Validator) ValidatePayload(p action.Payload) error {
	if p == nil {
		return nil
	}
	raw, err := action.EncodePayload(p)
	if err != nil {
		return err
	}
	return v.Validate(p.Kind(), raw)
}

func (v *Validator) lookup(t action.Type) (cue.Value, bool) {
	path := cue.ParsePath("#" + string(t))
	if path.Err() != nil {
		return cue.Value{}, false
	}
	def := v.schema.LookupPath(path)
	if !def.Exists() {
		return cue.Value{}, false
	}
	return def, true
}

// formatCUEError flattens a CUE error list into one line per error.
func formatCUEError(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) <= 1 {
		return err.Error()
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return msg
}
