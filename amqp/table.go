package amqp

// PropTable is an unordered mapping from short-string key to a typed
// field-table value (bool, int32, int64, float64, string, nested
// PropTable, or nil for the AMQP "no value" tag). It backs both method
// argument tables (Exchange/Queue.Declare "arguments", and so on) and the
// "headers" basic property.
type PropTable map[string]any

// NewTable returns an empty, non-nil PropTable, mirroring the convenience
// constructors the pack's AMQP-adjacent code (and real client libraries)
// expose so callers don't have to know the zero value of a map is usable
// but nil checks elsewhere in this package assume non-nil.
func NewTable() PropTable {
	return make(PropTable)
}

// EquivalentTables reports whether two tables hold the same keys with
// equivalent values, comparing nested tables recursively.
func EquivalentTables(a, b PropTable) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		other, ok := b[k]
		if !ok || !equivalentValue(v, other) {
			return false
		}
	}
	return true
}

// equivalentValue compares one field-table value pair. PropTable is the
// only non-comparable value type writeField/readField ever produce, so it
// is the only one handled by recursion rather than plain ==.
func equivalentValue(a, b any) bool {
	at, aIsTable := a.(PropTable)
	bt, bIsTable := b.(PropTable)
	if aIsTable || bIsTable {
		if !aIsTable || !bIsTable {
			return false
		}
		return EquivalentTables(at, bt)
	}
	return a == b
}
