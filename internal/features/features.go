// File: internal/features/features.go

// Package features folds a change list and its criticality weights into the
// fixed-shape vector the scorers consume.
package features

import (
	"math"
	"strings"

	"github.com/varelix/qoegate/internal/treediff"
)

// Criticality bucket boundaries.
const (
	CriticalThreshold = 0.9
	HighThreshold     = 0.7
	MediumThreshold   = 0.4
)

// Vector summarizes one diff. Counter semantics: ValueChanges includes the
// __len__ records that ArrayLenChanges counts separately; numeric deltas
// accumulate only over value changes where both sides are numbers.
type Vector struct {
	AddedFields              int     `json:"added_fields"`
	RemovedFields            int     `json:"removed_fields"`
	TypeChanges              int     `json:"type_changes"`
	ValueChanges             int     `json:"value_changes"`
	ArrayLenChanges          int     `json:"array_len_changes"`
	NumericDeltaSum          float64 `json:"numeric_delta_sum"`
	NumericDeltaMax          float64 `json:"numeric_delta_max"`
	CriticalChanges          int     `json:"critical_changes"`           // criticality >= 0.9
	HighCriticalityChanges   int     `json:"high_criticality_changes"`   // [0.7, 0.9)
	MediumCriticalityChanges int     `json:"medium_criticality_changes"` // [0.4, 0.7)
	LowCriticalityChanges    int     `json:"low_criticality_changes"`    // < 0.4
}

// TotalChanges is the number of change records behind the vector.
func (v Vector) TotalChanges() int {
	return v.AddedFields + v.RemovedFields + v.TypeChanges + v.ValueChanges
}

// Extract builds the vector for a change list. Every change lands in exactly
// one criticality bucket; resolve maps a path to its criticality weight, and a
// nil resolve counts every change as low.
func Extract(changes []treediff.Change, resolve func(path string) float64) Vector {
	var v Vector

	for _, c := range changes {
		switch c.Type {
		case treediff.ChangeAdded:
			v.AddedFields++
		case treediff.ChangeRemoved:
			v.RemovedFields++
		case treediff.ChangeTypeChanged:
			v.TypeChanges++
		case treediff.ChangeValueChanged:
			v.ValueChanges++
			if strings.HasSuffix(c.Path, "."+treediff.LenMember) {
				v.ArrayLenChanges++
			}
			if before, okB := treediff.NumberOf(c.Before); okB {
				if after, okA := treediff.NumberOf(c.After); okA {
					delta := math.Abs(after - before)
					v.NumericDeltaSum += delta
					if delta > v.NumericDeltaMax {
						v.NumericDeltaMax = delta
					}
				}
			}
		}

		var weight float64
		if resolve != nil {
			weight = resolve(c.Path)
		}
		switch {
		case weight >= CriticalThreshold:
			v.CriticalChanges++
		case weight >= HighThreshold:
			v.HighCriticalityChanges++
		case weight >= MediumThreshold:
			v.MediumCriticalityChanges++
		default:
			v.LowCriticalityChanges++
		}
	}

	return v
}
