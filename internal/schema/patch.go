package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ErrInvalidPatch is wrapped by every ApplyPatch failure.
var ErrInvalidPatch = errors.New("invalid schema patch")

// Op is a JSON Patch operation name.
type Op string

const (
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpReplace Op = "replace"
	OpMove    Op = "move"
	OpCopy    Op = "copy"
	OpTest    Op = "test"
)

// Operation is one RFC 6902 operation against the schema document.
type Operation struct {
	Op    Op              `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Patch is the argument of the schema design tool.
type Patch struct {
	Operations []Operation `json:"operations"`
}

// ParsePatch decodes tool arguments.
func ParsePatch(raw json.RawMessage) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if len(p.Operations) == 0 {
		return Patch{}, fmt.Errorf("%w: no operations", ErrInvalidPatch)
	}
	for i, op := range p.Operations {
		switch op.Op {
		case OpAdd, OpReplace, OpTest:
			if len(op.Value) == 0 {
				return Patch{}, fmt.Errorf("%w: operation %d (%s %s) has no value", ErrInvalidPatch, i, op.Op, op.Path)
			}
		case OpMove, OpCopy:
			if op.From == "" {
				return Patch{}, fmt.Errorf("%w: operation %d (%s %s) has no from", ErrInvalidPatch, i, op.Op, op.Path)
			}
		case OpRemove:
		default:
			return Patch{}, fmt.Errorf("%w: operation %d has unknown op %q", ErrInvalidPatch, i, op.Op)
		}
	}
	return p, nil
}

// Apply returns a new schema with ops applied; s is not modified.
// Intermediate objects are created on add, so a new table can be added
// column by column. The result must pass Validate.
func (s Schema) Apply(ops []Operation) (Schema, error) {
	doc, err := json.Marshal(s.normalize())
	if err != nil {
		return Schema{}, fmt.Errorf("%w: encode schema: %v", ErrInvalidPatch, err)
	}
	rawOps, err := json.Marshal(ops)
	if err != nil {
		return Schema{}, fmt.Errorf("%w: encode operations: %v", ErrInvalidPatch, err)
	}
	patch, err := jsonpatch.DecodePatch(rawOps)
	if err != nil {
		return Schema{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	opts := jsonpatch.NewApplyOptions()
	opts.EnsurePathExistsOnAdd = true
	patched, err := patch.ApplyWithOptions(doc, opts)
	if err != nil {
		return Schema{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	var out Schema
	if err := json.Unmarshal(patched, &out); err != nil {
		return Schema{}, fmt.Errorf("%w: decode patched schema: %v", ErrInvalidPatch, err)
	}
	out = out.normalize()
	if err := out.Validate(); err != nil {
		return Schema{}, fmt.Errorf("%w: %w", ErrInvalidPatch, err)
	}
	return out, nil
}
