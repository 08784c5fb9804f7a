// internal/cardano/value_test.go
package cardano

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueCovers(t *testing.T) {
	asset := strings.Repeat("ab", 28) + "0001"

	requested := NewValue().Add("", 10_000_000).Add(asset, 5)

	held := NewValue().Add("", 15_000_000).Add(asset, 5)
	assert.True(t, held.Covers(requested, 5_000_000))

	// Lovelace one short of requested plus collateral.
	short := NewValue().Add("", 14_999_999).Add(asset, 5)
	assert.False(t, short.Covers(requested, 5_000_000))

	// Native assets must match exactly, surplus is as wrong as a deficit.
	surplus := NewValue().Add("", 15_000_000).Add(asset, 6)
	assert.False(t, surplus.Covers(requested, 5_000_000))

	missing := NewValue().Add("", 15_000_000)
	assert.False(t, missing.Covers(requested, 5_000_000))

	// Extra lovelace beyond the requirement is fine.
	generous := NewValue().Add("", 50_000_000).Add(asset, 5)
	assert.True(t, generous.Covers(requested, 5_000_000))
}

func TestValueArithmetic(t *testing.T) {
	a := NewValue().Add("", 10).Add("unit-a", 3)
	b := NewValue().Add("", 4).Add("unit-b", 1)

	sum := a.Plus(b)
	assert.Equal(t, int64(14), sum.Lovelace())
	assert.Equal(t, int64(3), sum["unit-a"])
	assert.Equal(t, int64(1), sum["unit-b"])

	diff := a.Minus(b)
	assert.Equal(t, int64(6), diff.Lovelace())
	assert.Equal(t, int64(-1), diff["unit-b"])

	// Entries netting to zero disappear.
	gone := a.Minus(a)
	assert.True(t, gone.IsZero())
	assert.Empty(t, gone)
}

func TestValueAddNormalizesLovelace(t *testing.T) {
	v := NewValue().Add("", 5).Add(LovelaceUnit, 7)
	assert.Equal(t, int64(12), v.Lovelace())

	v.Add("", -12)
	assert.True(t, v.IsZero())
}
