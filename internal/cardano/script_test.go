// internal/cardano/script_test.go
package cardano

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveAssetNameDeterministic(t *testing.T) {
	txHash := strings.Repeat("ab", 32)

	first, err := DeriveAssetName(txHash, 0)
	require.NoError(t, err)
	again, err := DeriveAssetName(txHash, 0)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, first, 64)
}

func TestDeriveAssetNameVariesByInput(t *testing.T) {
	txHash := strings.Repeat("ab", 32)
	otherHash := strings.Repeat("cd", 32)

	byIndex0, err := DeriveAssetName(txHash, 0)
	require.NoError(t, err)
	byIndex1, err := DeriveAssetName(txHash, 1)
	require.NoError(t, err)
	byOtherHash, err := DeriveAssetName(otherHash, 0)
	require.NoError(t, err)

	assert.NotEqual(t, byIndex0, byIndex1)
	assert.NotEqual(t, byIndex0, byOtherHash)
}

func TestDeriveAssetNameRejectsNonHex(t *testing.T) {
	_, err := DeriveAssetName("zzzz", 0)
	assert.Error(t, err)
}

func TestApplyParamsChangesHash(t *testing.T) {
	compiled := []byte{0x59, 0x01, 0x00, 0x01, 0x02, 0x03}

	bare, err := ScriptHash(compiled)
	require.NoError(t, err)
	assert.Len(t, bare, 28)

	applied, err := ApplyParams(compiled, []byte{0xaa})
	require.NoError(t, err)
	withParams, err := ScriptHash(applied)
	require.NoError(t, err)

	assert.NotEqual(t, bare, withParams)

	// No parameters leaves the script untouched.
	same, err := ApplyParams(compiled)
	require.NoError(t, err)
	assert.Equal(t, compiled, same)
}
