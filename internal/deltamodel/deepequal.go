package deltamodel

// deepEqual performs a recursive structural compare over JSON-shaped
// values (the result of encoding/json.Unmarshal into `any`): maps,
// slices, and scalars. Object key order is irrelevant.
func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}

		for k, aVal := range av {
			bVal, ok := bv[k]
			if !ok || !deepEqual(aVal, bVal) {
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
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}

		return true

	case float64:
		bv, ok := b.(float64)
		if !ok {
			return false
		}

		return sameNumber(av, bv)

	case string:
		bv, ok := b.(string)
		return ok && av == bv

	case bool:
		bv, ok := b.(bool)
		return ok && av == bv

	case nil:
		return b == nil

	default:
		return false
	}
}
