package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator

	a, err := g.NewID()
	require.NoError(t, err)
	b, err := g.NewID()
	require.NoError(t, err)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "v7 ids sort by creation time")
}

func TestFixedGenerator(t *testing.T) {
	g := &FixedGenerator{Prefix: "run"}
	for _, want := range []string{"run-1", "run-2", "run-3"} {
		got, err := g.NewID()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	def := &FixedGenerator{}
	got, err := def.NewID()
	require.NoError(t, err)
	assert.Equal(t, "exec-1", got)
}

func TestOpen_DefaultGeneratorIsUUIDv7(t *testing.T) {
	s, err := Open(t.TempDir() + "/ids.db")
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.ids.(UUIDv7Generator)
	assert.True(t, ok)
}
