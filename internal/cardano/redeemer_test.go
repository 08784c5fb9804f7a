// internal/cardano/redeemer_test.go
package cardano

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeemerConstructorTags(t *testing.T) {
	// Constructor indexes 0..6 map to CBOR tags 121..127. A bare constructor
	// encodes as the tag byte pair followed by an empty array.
	for kind := RedeemerWithdraw; kind <= RedeemerAllowRefund; kind++ {
		raw, err := EncodeRedeemer(kind)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xd8, byte(121 + uint64(kind)), 0x80}, raw, kind.String())
	}
}

func TestRedeemerRoundTrip(t *testing.T) {
	for kind := RedeemerWithdraw; kind <= RedeemerAllowRefund; kind++ {
		raw, err := EncodeRedeemer(kind)
		require.NoError(t, err)

		out, err := DecodeRedeemer(raw)
		require.NoError(t, err)
		assert.Equal(t, kind, out)
	}
}

func TestRedeemerRejectsUnknownIndex(t *testing.T) {
	_, err := EncodeRedeemer(RedeemerKind(7))
	assert.Error(t, err)

	raw, err := MarshalData(Constr{Index: 9, Fields: []Data{}})
	require.NoError(t, err)
	_, err = DecodeRedeemer(raw)
	assert.Error(t, err)
}

func TestRedeemerRejectsFields(t *testing.T) {
	raw, err := MarshalData(Constr{Index: 0, Fields: []Data{int64(1)}})
	require.NoError(t, err)
	_, err = DecodeRedeemer(raw)
	assert.Error(t, err)
}
