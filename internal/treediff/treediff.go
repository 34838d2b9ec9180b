// File: internal/treediff/treediff.go

// Package treediff computes flat change lists between two parsed JSON
// documents. Every change is addressed by a JSONPath-style string rooted at
// "$", with ".key" for object members, "[i]" for array indices, and the
// ".__len__" pseudo-member for array length changes.
package treediff

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/zap"
)

// ChangeType enumerates the kinds of change the differ reports.
type ChangeType string

const (
	ChangeAdded        ChangeType = "added"
	ChangeRemoved      ChangeType = "removed"
	ChangeTypeChanged  ChangeType = "type_changed"
	ChangeValueChanged ChangeType = "value_changed"
)

// JSON value kind names carried on Change records.
const (
	KindNull    = "null"
	KindBool    = "bool"
	KindNumber  = "number"
	KindString  = "string"
	KindArray   = "array"
	KindObject  = "object"
	KindUnknown = "unknown"
)

// RootPath addresses the document root. Changes at exactly this path carry no
// addressable member and are filtered from the output.
const RootPath = "$"

// LenMember is the pseudo-member that records array length changes.
const LenMember = "__len__"

// Change is a single difference between the baseline and current documents.
// Before and After hold the parsed values on each side; they are nil when the
// value is absent on that side, and the matching Kind field is then empty.
type Change struct {
	Path       string      `json:"path"`
	Type       ChangeType  `json:"type"`
	Before     interface{} `json:"before,omitempty"`
	After      interface{} `json:"after,omitempty"`
	BeforeKind string      `json:"before_kind,omitempty"`
	AfterKind  string      `json:"after_kind,omitempty"`
}

// Differ walks two parsed JSON trees and reports their differences.
type Differ struct {
	logger *zap.Logger
}

// NewDiffer creates a differ. The logger is only consulted on degraded paths.
func NewDiffer(logger *zap.Logger) *Differ {
	return &Differ{logger: logger.Named("treediff")}
}

// Diff compares two parsed JSON documents and returns the flat change list.
// Output order is deterministic: document order with object keys sorted.
func (d *Differ) Diff(before, after interface{}) []Change {
	changes := d.walk(RootPath, before, after, nil)

	// A change at the bare root has no member to address; drop it.
	filtered := changes[:0]
	for _, c := range changes {
		if c.Path != RootPath {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func (d *Differ) walk(path string, before, after interface{}, changes []Change) []Change {
	beforeKind := KindOf(before)
	afterKind := KindOf(after)

	if beforeKind != afterKind {
		return append(changes, Change{
			Path:       path,
			Type:       ChangeTypeChanged,
			Before:     before,
			After:      after,
			BeforeKind: beforeKind,
			AfterKind:  afterKind,
		})
	}

	switch beforeKind {
	case KindObject:
		return d.walkObject(path, before.(map[string]interface{}), after.(map[string]interface{}), changes)
	case KindArray:
		return d.walkArray(path, before.([]interface{}), after.([]interface{}), changes)
	case KindNull:
		return changes
	case KindNumber:
		bf, _ := NumberOf(before)
		af, _ := NumberOf(after)
		if bf != af {
			changes = append(changes, valueChange(path, before, after, beforeKind, afterKind))
		}
		return changes
	case KindBool, KindString:
		if before != after {
			changes = append(changes, valueChange(path, before, after, beforeKind, afterKind))
		}
		return changes
	default:
		// Values outside the JSON type set still compare, by deep equality.
		if !reflect.DeepEqual(before, after) {
			d.logger.Debug("comparing values of unknown kind",
				zap.String("path", path),
				zap.String("go_type", fmt.Sprintf("%T", before)),
			)
			changes = append(changes, valueChange(path, before, after, beforeKind, afterKind))
		}
		return changes
	}
}

func (d *Differ) walkObject(path string, before, after map[string]interface{}, changes []Change) []Change {
	keys := make([]string, 0, len(before)+len(after))
	seen := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys = append(keys, k)
		seen[k] = struct{}{}
	}
	for k := range after {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		childPath := path + "." + k
		beforeVal, inBefore := before[k]
		afterVal, inAfter := after[k]
		switch {
		case inBefore && !inAfter:
			changes = append(changes, Change{
				Path:       childPath,
				Type:       ChangeRemoved,
				Before:     beforeVal,
				BeforeKind: KindOf(beforeVal),
			})
		case !inBefore && inAfter:
			changes = append(changes, Change{
				Path:      childPath,
				Type:      ChangeAdded,
				After:     afterVal,
				AfterKind: KindOf(afterVal),
			})
		default:
			changes = d.walk(childPath, beforeVal, afterVal, changes)
		}
	}
	return changes
}

func (d *Differ) walkArray(path string, before, after []interface{}, changes []Change) []Change {
	if len(before) != len(after) {
		changes = append(changes, Change{
			Path:       path + "." + LenMember,
			Type:       ChangeValueChanged,
			Before:     float64(len(before)),
			After:      float64(len(after)),
			BeforeKind: KindNumber,
			AfterKind:  KindNumber,
		})
	}

	// Compare shared indices only. The __len__ record already carries the
	// cardinality change; diffing the tail would double-count it.
	shared := len(before)
	if len(after) < shared {
		shared = len(after)
	}
	for i := 0; i < shared; i++ {
		changes = d.walk(fmt.Sprintf("%s[%d]", path, i), before[i], after[i], changes)
	}
	return changes
}

func valueChange(path string, before, after interface{}, beforeKind, afterKind string) Change {
	return Change{
		Path:       path,
		Type:       ChangeValueChanged,
		Before:     before,
		After:      after,
		BeforeKind: beforeKind,
		AfterKind:  afterKind,
	}
}

// KindOf classifies a parsed JSON value. Checks run in a fixed order so the
// classification is stable: null, bool, number, string, array, object.
func KindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case float64, float32, int, int32, int64, json.Number:
		return KindNumber
	case string:
		return KindString
	case []interface{}:
		return KindArray
	case map[string]interface{}:
		return KindObject
	default:
		return KindUnknown
	}
}

// NumberOf converts any numeric JSON representation to float64. The second
// return reports whether the value was numeric.
func NumberOf(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
