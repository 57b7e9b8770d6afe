package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewIDIsV7(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Valid("0190b2a4-5c3e-7d2f-9a1b-3c4d5e6f7a8b"))
	assert.False(t, Valid("0190B2A4-5C3E-7D2F-9A1B-3C4D5E6F7A8B"))
	assert.False(t, Valid("urn:uuid:0190b2a4-5c3e-7d2f-9a1b-3c4d5e6f7a8b"))
	assert.False(t, Valid("../etc/passwd"))
	assert.False(t, Valid(""))
}
