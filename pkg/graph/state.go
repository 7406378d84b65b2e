// Package graph is a small state-graph runtime: named nodes produce
// partial state updates that merge into shared state through
// per-field reducers, with checkpointing and human-in-the-loop
// interrupts per thread.
package graph

import (
	"encoding/json"
	"fmt"
)

// State is the shared graph state, keyed by field name.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Reducer describes how an update value combines with the current
// value of a field. Fields without a reducer are overwritten.
type Reducer func(current, update any) (any, error)

// Field declares the merge and checkpoint behavior for one state field.
type Field struct {
	// Reduce merges an update into the current value. Nil means
	// last-value-wins.
	Reduce Reducer

	// Decode restores the field's typed value from checkpoint JSON.
	// Nil means plain json.Unmarshal into any.
	Decode func([]byte) (any, error)
}

// Schema maps state fields to their merge behavior.
type Schema map[string]Field

// Merge applies a partial update to the current state and returns the
// merged result. The current state is not mutated.
func (sc Schema) Merge(current, update State) (State, error) {
	merged := current.Clone()
	for k, v := range update {
		field, ok := sc[k]
		if !ok || field.Reduce == nil {
			merged[k] = v
			continue
		}
		reduced, err := field.Reduce(merged[k], v)
		if err != nil {
			return nil, fmt.Errorf("reduce field %q: %w", k, err)
		}
		merged[k] = reduced
	}
	return merged, nil
}

// rehydrate restores typed field values on a state loaded from a
// checkpoint, where values may still be raw JSON.
func (sc Schema) rehydrate(s State) (State, error) {
	out := make(State, len(s))
	for k, v := range s {
		raw, ok := v.(json.RawMessage)
		if !ok {
			out[k] = v
			continue
		}

		if field, ok := sc[k]; ok && field.Decode != nil {
			decoded, err := field.Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("decode field %q: %w", k, err)
			}
			out[k] = decoded
			continue
		}

		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", k, err)
		}
		out[k] = generic
	}
	return out, nil
}
