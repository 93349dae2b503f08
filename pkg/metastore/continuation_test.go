package metastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContinuationTokenRoundtrip(t *testing.T) {
	token := NewContinuationToken("org.example", "lib", "1.2.3")
	fields, err := token.Fields(3)
	require.NoError(t, err)
	assert.Equal(t, []string{"org.example", "lib", "1.2.3"}, fields)
}

func TestContinuationTokenEmpty(t *testing.T) {
	fields, err := ContinuationToken("").Fields(3)
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestContinuationTokenFieldMismatch(t *testing.T) {
	token := NewContinuationToken("only-one")
	_, err := token.Fields(3)
	assert.Error(t, err)
}

func TestContinuationTokenGarbage(t *testing.T) {
	_, err := ContinuationToken("not!valid!base64!").Fields(1)
	assert.Error(t, err)
}

func TestContinuationTokenOpaqueValues(t *testing.T) {
	// Field values containing the join byte or path separators survive.
	token := NewContinuationToken("a/b/c", "with space")
	fields, err := token.Fields(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/c", "with space"}, fields)
}
