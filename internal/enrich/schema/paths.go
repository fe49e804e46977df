package schema

import (
	"strconv"
	"strings"
)

type pathStep struct {
	key   string
	index int
}

// parsePath splits "events[0].date" into steps. index is -1 for map keys.
func parsePath(path string) ([]pathStep, bool) {
	var steps []pathStep
	for _, part := range strings.Split(path, ".") {
		name, rest, hasIndex := strings.Cut(part, "[")
		if name != "" {
			steps = append(steps, pathStep{key: name, index: -1})
		}
		for hasIndex {
			var idx string
			idx, rest, _ = strings.Cut(rest, "]")
			n, err := strconv.Atoi(idx)
			if err != nil || n < 0 {
				return nil, false
			}
			steps = append(steps, pathStep{index: n})
			_, rest, hasIndex = strings.Cut(rest, "[")
		}
	}
	return steps, len(steps) > 0
}

func walk(fields map[string]any, steps []pathStep) (parent any, last pathStep, ok bool) {
	var cur any = fields
	for i, step := range steps {
		if i == len(steps)-1 {
			return cur, step, true
		}
		switch node := cur.(type) {
		case map[string]any:
			if step.index >= 0 {
				return nil, last, false
			}
			cur = node[step.key]
		case []any:
			if step.index < 0 || step.index >= len(node) {
				return nil, last, false
			}
			cur = node[step.index]
		default:
			return nil, last, false
		}
	}
	return nil, last, false
}

// GetPath reads the value at a violation field path.
func GetPath(fields map[string]any, path string) (any, bool) {
	steps, ok := parsePath(path)
	if !ok {
		return nil, false
	}
	parent, last, ok := walk(fields, steps)
	if !ok {
		return nil, false
	}
	switch node := parent.(type) {
	case map[string]any:
		v, ok := node[last.key]
		return v, ok && last.index < 0
	case []any:
		if last.index < 0 || last.index >= len(node) {
			return nil, false
		}
		return node[last.index], true
	}
	return nil, false
}

// SetPath replaces the value at an existing violation field path.
// Top-level keys may be created.
func SetPath(fields map[string]any, path string, v any) bool {
	steps, ok := parsePath(path)
	if !ok {
		return false
	}
	parent, last, ok := walk(fields, steps)
	if !ok {
		return false
	}
	switch node := parent.(type) {
	case map[string]any:
		if last.index >= 0 {
			return false
		}
		node[last.key] = v
		return true
	case []any:
		if last.index < 0 || last.index >= len(node) {
			return false
		}
		node[last.index] = v
		return true
	}
	return false
}
