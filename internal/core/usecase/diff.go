package usecase

import (
	"bytes"
	"encoding/json"
	"math/big"
	"reflect"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

// reservedFields are bookkeeping columns that never show up in a diff.
var reservedFields = map[string]struct{}{
	"id":      {},
	"tenant":  {},
	"version": {},
}

// Diff reports every non-reserved field of curr whose value differs from prev.
// Fields present only in prev are not reported. An absent field and a JSON
// null compare equal.
func Diff(prev, curr map[string]any) map[string]domain.FieldChange {
	changes := make(map[string]domain.FieldChange)
	for key, next := range curr {
		if _, reserved := reservedFields[key]; reserved {
			continue
		}
		old := prev[key]
		if valuesEqual(old, next) {
			continue
		}
		changes[key] = domain.FieldChange{Old: old, New: next}
	}
	return changes
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	na, err := normalizeJSON(a)
	if err != nil {
		return false
	}
	nb, err := normalizeJSON(b)
	if err != nil {
		return false
	}
	return jsonEqual(na, nb)
}

// normalizeJSON maps v onto the generic JSON tree with numbers kept as
// json.Number so that large integers survive exactly.
func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// jsonEqual compares two normalized trees. Object key order is ignored,
// array order is not, and numbers compare by exact value.
func jsonEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case json.Number:
		bv, ok := b.(json.Number)
		return ok && numbersEqual(av, bv)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, present := bv[k]
			if !present || !jsonEqual(x, y) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	ra, ok := new(big.Rat).SetString(string(a))
	if !ok {
		return false
	}
	rb, ok := new(big.Rat).SetString(string(b))
	if !ok {
		return false
	}
	return ra.Cmp(rb) == 0
}
