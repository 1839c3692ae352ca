package memweave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMetadata_PassThrough(t *testing.T) {
	meta := map[string]interface{}{
		"lang":   "en",
		"score":  0.7,
		"count":  3,
		"flag":   true,
		"nested": map[string]interface{}{"a": []interface{}{"x", "y"}},
	}

	out := sanitizeMetadata(meta)
	assert.Equal(t, meta, out)
}

func TestSanitizeMetadata_Nil(t *testing.T) {
	assert.Nil(t, sanitizeMetadata(nil))
}

func TestSanitizeMetadata_CopiesContainers(t *testing.T) {
	meta := map[string]interface{}{
		"inner": map[string]interface{}{"k": "v"},
	}

	out := sanitizeMetadata(meta)
	out["inner"].(map[string]interface{})["k"] = "mutated"

	assert.Equal(t, "v", meta["inner"].(map[string]interface{})["k"],
		"source payload must not be reachable through the copy")
}

func TestSanitizeMetadata_DeepNestingTruncated(t *testing.T) {
	root := map[string]interface{}{}
	cursor := root
	for i := 0; i < 40; i++ {
		next := map[string]interface{}{}
		cursor["n"] = next
		cursor = next
	}
	cursor["leaf"] = "value"

	out := sanitizeMetadata(root)

	depth := 0
	node := out
	for {
		child, ok := node["n"]
		if !ok {
			t.Fatal("walk ended without hitting the truncation marker")
		}
		next, ok := child.(map[string]interface{})
		if !ok {
			assert.Equal(t, truncatedMarker, child)
			break
		}
		node = next
		depth++
	}
	assert.Less(t, depth, maxMetadataDepth)
}

func TestSanitizeMetadata_SelfReferentialMap(t *testing.T) {
	meta := map[string]interface{}{"name": "loop"}
	meta["self"] = meta

	var out map[string]interface{}
	require.NotPanics(t, func() { out = sanitizeMetadata(meta) })

	assert.Equal(t, "loop", out["name"])
	assert.Equal(t, truncatedMarker, out["self"])
}

func TestSanitizeMetadata_CyclicSlice(t *testing.T) {
	items := make([]interface{}, 1)
	items[0] = items
	meta := map[string]interface{}{"items": items}

	var out map[string]interface{}
	require.NotPanics(t, func() { out = sanitizeMetadata(meta) })

	copied, ok := out["items"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, truncatedMarker, copied[0])
}

func TestSanitizeMetadata_SharedSubtreeIsNotACycle(t *testing.T) {
	shared := map[string]interface{}{"k": "v"}
	meta := map[string]interface{}{"a": shared, "b": shared}

	out := sanitizeMetadata(meta)

	// The same subtree referenced twice from different keys is a DAG, not
	// a cycle, and both copies survive intact.
	assert.Equal(t, map[string]interface{}{"k": "v"}, out["a"])
	assert.Equal(t, map[string]interface{}{"k": "v"}, out["b"])
}
