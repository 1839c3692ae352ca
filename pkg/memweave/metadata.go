package memweave

import "reflect"

// maxMetadataDepth bounds how deep classifier-supplied metadata is copied.
// Anything deeper is replaced by truncatedMarker rather than walked.
const maxMetadataDepth = 16

const truncatedMarker = "[truncated]"

// sanitizeMetadata returns a bounded-depth, cycle-safe copy of an opaque
// metadata payload. The classifier's output is untrusted: it may be deeply
// nested or, when assembled by a caller, self-referential. The copy walks
// maps and slices at most maxMetadataDepth levels and replaces any
// container already on the current path with truncatedMarker, so core code
// never recurses unboundedly over metadata.
func sanitizeMetadata(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return nil
	}

	visiting := make(map[uintptr]bool)
	out, _ := sanitizeValue(meta, 0, visiting).(map[string]interface{})
	return out
}

func sanitizeValue(v interface{}, depth int, visiting map[uintptr]bool) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if val == nil {
			return nil
		}
		if depth >= maxMetadataDepth {
			return truncatedMarker
		}
		ptr := reflect.ValueOf(val).Pointer()
		if visiting[ptr] {
			return truncatedMarker
		}
		visiting[ptr] = true
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = sanitizeValue(item, depth+1, visiting)
		}
		delete(visiting, ptr)
		return out

	case []interface{}:
		if val == nil {
			return nil
		}
		if depth >= maxMetadataDepth {
			return truncatedMarker
		}
		ptr := reflect.ValueOf(val).Pointer()
		if visiting[ptr] {
			return truncatedMarker
		}
		visiting[ptr] = true
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item, depth+1, visiting)
		}
		delete(visiting, ptr)
		return out

	default:
		// Scalars (and anything non-container) pass through untouched.
		return val
	}
}
