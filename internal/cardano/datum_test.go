// internal/cardano/datum_test.go
package cardano

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddress(t *testing.T, withStake bool) Address {
	t.Helper()
	addr := Address{
		NetworkID:      TestnetID,
		PaymentKeyHash: []byte(strings.Repeat("\x01", 28)),
	}
	if withStake {
		addr.StakeKeyHash = []byte(strings.Repeat("\x02", 28))
	}
	return addr
}

func testDatum(t *testing.T) EscrowDatum {
	t.Helper()
	return EscrowDatum{
		BuyerVkey:     strings.Repeat("ab", 28),
		BuyerAddress:  testAddress(t, true),
		SellerVkey:    strings.Repeat("cd", 28),
		SellerAddress: testAddress(t, false),

		BlockchainIdentifier: "6c0c076e0c0c076e0c0c076e0c0c076e0c0c076e1234567890abcd",
		InputHash:            strings.Repeat("ef", 32),
		ResultHash:           "",

		PayByTime:                 1700000000000,
		ResultTime:                1700000600000,
		UnlockTime:                1700001200000,
		ExternalDisputeUnlockTime: 1700001800000,
		BuyerCooldownTime:         0,
		SellerCooldownTime:        0,

		State:                    StateFundsLocked,
		CollateralReturnLovelace: 5_000_000,
	}
}

func TestDatumRoundTrip(t *testing.T) {
	in := testDatum(t)

	raw, err := EncodeDatum(in)
	require.NoError(t, err)

	out, err := DecodeDatum(raw, TestnetID)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDatumRoundTripAllStates(t *testing.T) {
	for _, state := range []SmartContractState{StateFundsLocked, StateResultSubmitted, StateRefundRequested, StateDisputed} {
		in := testDatum(t)
		in.State = state
		if state == StateResultSubmitted || state == StateDisputed {
			in.ResultHash = strings.Repeat("99", 32)
		}

		raw, err := EncodeDatum(in)
		require.NoError(t, err)

		out, err := DecodeDatum(raw, TestnetID)
		require.NoError(t, err)
		assert.Equal(t, state, out.State, state.String())
		assert.Equal(t, in.ResultHash, out.ResultHash)
	}
}

func TestDatumRejectsWrongShape(t *testing.T) {
	// A bare constructor with too few fields must not decode.
	raw, err := MarshalData(Constr{Index: 0, Fields: []Data{[]byte{0x01}}})
	require.NoError(t, err)

	_, err = DecodeDatum(raw, TestnetID)
	assert.Error(t, err)

	// State must be one of the four contract constructors.
	in := testDatum(t)
	data, err := in.ToData()
	require.NoError(t, err)
	c := data.(Constr)
	c.Fields[13] = Constr{Index: 5, Fields: []Data{}}
	raw, err = MarshalData(c)
	require.NoError(t, err)

	_, err = DecodeDatum(raw, TestnetID)
	assert.Error(t, err)
}

func TestDatumRejectsNonHexVkey(t *testing.T) {
	in := testDatum(t)
	in.BuyerVkey = "not-hex"
	_, err := EncodeDatum(in)
	assert.Error(t, err)
}
