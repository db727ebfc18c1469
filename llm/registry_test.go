package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelRegistry_FirstRegisteredIsDefault(t *testing.T) {
	r := NewModelRegistry(
		ModelSpec{ID: "b", Engine: "echo"},
		ModelSpec{ID: "a", Engine: "openai"},
	)

	m, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "b", m.ID)

	m, err = r.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "openai", m.Engine)

	_, err = r.Resolve("missing")
	assert.EqualError(t, err, `model "missing" not registered`)

	ids := []string{}
	for _, spec := range r.List() {
		ids = append(ids, spec.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestModelRegistry_DefaultLifecycle(t *testing.T) {
	r := NewModelRegistry()
	_, err := r.Resolve("")
	assert.EqualError(t, err, "no default model set")

	r.Register(ModelSpec{ID: "x"})
	r.Register(ModelSpec{ID: "y"})
	require.NoError(t, r.SetDefault("y"))
	assert.Error(t, r.SetDefault("z"))

	r.Unregister("y")
	_, err = r.Resolve("")
	assert.Error(t, err)
	assert.Equal(t, 1, r.Len())

	_, ok := r.Get("x")
	assert.True(t, ok)
}
