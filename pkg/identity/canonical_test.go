package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalBytes_KeyOrderIndependent(t *testing.T) {
	a, err := CanonicalBytes(map[string]any{"z": 1, "a": 2, "m": 3})
	require.NoError(t, err)
	b, err := CanonicalBytes(map[string]any{"a": 2, "m": 3, "z": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalBytes_ArrayOrderPreserved(t *testing.T) {
	a, err := CanonicalBytes([]any{1, 2, 3})
	require.NoError(t, err)
	b, err := CanonicalBytes([]any{3, 2, 1})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCanonicalBytes_NestedObjects(t *testing.T) {
	v1 := map[string]any{"outer": map[string]any{"b": 1, "a": 2}}
	v2 := map[string]any{"outer": map[string]any{"a": 2, "b": 1}}
	a, err := CanonicalBytes(v1)
	require.NoError(t, err)
	b, err := CanonicalBytes(v2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSignBytes_DifferByMetadata(t *testing.T) {
	m1 := SignedMetadata{ID: "1", Sender: "a", Timestamp: 100}
	m2 := SignedMetadata{ID: "2", Sender: "a", Timestamp: 100}

	b1, err := SignBytes("order.created", map[string]any{"x": 1}, m1)
	require.NoError(t, err)
	b2, err := SignBytes("order.created", map[string]any{"x": 1}, m2)
	require.NoError(t, err)
	assert.NotEqual(t, b1, b2)
}

func TestCanonicalBytes_RejectsUnsupportedType(t *testing.T) {
	_, err := CanonicalBytes(map[string]any{"f": func() {}})
	require.Error(t, err)
	var cerr *CanonicalisationError
	assert.ErrorAs(t, err, &cerr)
}
