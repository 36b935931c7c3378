// Package syncengine reconciles local state changes against the remote
// authoritative copy, detecting and resolving conflicts per the configured
// strategy.
package syncengine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// Paths are "/"-separated segments addressing into the session document,
// e.g. "session/current_step" or "features/cover_letter/enabled".

// PathsOverlap reports whether two change paths address overlapping state:
// equal paths or a prefix relationship.
func PathsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// stateToDoc converts the aggregate to a generic JSON document so change
// paths can be addressed uniformly.
func stateToDoc(state *types.EnhancedSessionState) (map[string]any, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode state document: %w", err)
	}
	return doc, nil
}

// docToState converts a generic document back to the typed aggregate.
func docToState(doc map[string]any) (*types.EnhancedSessionState, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state document: %w", err)
	}
	var state types.EnhancedSessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &state, nil
}

// valueAt returns the value at path, and whether the path exists. Array
// segments address elements by their "id" field, so substep paths like
// "step_progress/upload/substeps/choose_file/status" resolve into the
// substep list.
func valueAt(doc map[string]any, path string) (any, bool) {
	var current any = doc
	for _, seg := range strings.Split(path, "/") {
		switch c := current.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			elem, ok := elementByID(c, seg)
			if !ok {
				return nil, false
			}
			current = elem
		default:
			return nil, false
		}
	}
	return current, true
}

// setValueAt writes value at path, creating intermediate objects as needed.
// Array segments are addressed by "id"; a missing element is appended rather
// than replacing the list with an object.
func setValueAt(doc map[string]any, path string, value any) {
	setPath(doc, strings.Split(path, "/"), value)
}

func setPath(current map[string]any, segs []string, value any) {
	seg := segs[0]
	if len(segs) == 1 {
		if value == nil {
			delete(current, seg)
			return
		}
		current[seg] = value
		return
	}
	switch next := current[seg].(type) {
	case map[string]any:
		setPath(next, segs[1:], value)
	case []any:
		id := segs[1]
		if len(segs) == 2 {
			for i, v := range next {
				if m, ok := v.(map[string]any); ok {
					if s, _ := m["id"].(string); s == id {
						if value == nil {
							current[seg] = append(next[:i], next[i+1:]...)
							return
						}
						next[i] = value
						return
					}
				}
			}
			if value != nil {
				current[seg] = append(next, value)
			}
			return
		}
		elem, ok := elementByID(next, id)
		if !ok {
			elem = map[string]any{"id": id}
			current[seg] = append(next, elem)
		}
		setPath(elem, segs[2:], value)
	default:
		// Substep collections are lists in the document; rebuilding one as an
		// object would make the merged document undecodable.
		if seg == "substeps" && len(segs) > 2 {
			elem := map[string]any{"id": segs[1]}
			current[seg] = []any{elem}
			setPath(elem, segs[2:], value)
			return
		}
		m := make(map[string]any)
		current[seg] = m
		setPath(m, segs[1:], value)
	}
}

// elementByID finds the list element whose "id" field equals id.
func elementByID(list []any, id string) (map[string]any, bool) {
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			if s, ok := m["id"].(string); ok && s == id {
				return m, true
			}
		}
	}
	return nil, false
}

// jsonEqual compares two values after JSON normalization so typed values and
// decoded documents compare consistently.
func jsonEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
