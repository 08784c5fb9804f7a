// internal/cardano/txbuilder_test.go
package cardano

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBech32Address(t *testing.T) string {
	t.Helper()
	addr, err := Address{
		NetworkID:      TestnetID,
		PaymentKeyHash: bytes.Repeat([]byte{0x01}, 28),
	}.Bech32()
	require.NoError(t, err)
	return addr
}

func TestBuildRequiresInputs(t *testing.T) {
	_, err := NewTxBuilder().Build()
	assert.Error(t, err)
}

func TestBuildProducesStableID(t *testing.T) {
	build := func() *BuiltTx {
		tx, err := NewTxBuilder().
			AddInput(TxInput{TxHash: strings.Repeat("ab", 32), Index: 0}).
			AddOutput(TxOutput{Address: testBech32Address(t), Value: NewValue().Add("", 5_000_000)}).
			SetFee(2_000_000).
			Build()
		require.NoError(t, err)
		return tx
	}

	first := build()
	second := build()
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, first.ID, 64)
	assert.Equal(t, first.Body, second.Body)
}

func TestExtractRedeemersRoundTrip(t *testing.T) {
	builder := NewTxBuilder().
		AddInput(TxInput{TxHash: strings.Repeat("ab", 32), Index: 1}).
		AddOutput(TxOutput{Address: testBech32Address(t), Value: NewValue().Add("", 3_000_000)}).
		SetFee(2_000_000).
		AddRedeemer(RedeemerEntry{
			Tag:   RedeemerTagSpend,
			Index: 0,
			Data:  RedeemerSubmitResult.ToData(),
			Units: ExUnits{Mem: 1200, Steps: 340000},
		})

	built, err := builder.Build()
	require.NoError(t, err)

	raw, err := built.Assemble(nil)
	require.NoError(t, err)

	entries, err := ExtractRedeemers(raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, RedeemerTagSpend, entries[0].Tag)
	assert.Equal(t, uint32(0), entries[0].Index)
	assert.Equal(t, ExUnits{Mem: 1200, Steps: 340000}, entries[0].Units)

	kind, err := RedeemerFromData(entries[0].Data)
	require.NoError(t, err)
	assert.Equal(t, RedeemerSubmitResult, kind)
}

func TestExtractRedeemersEmptyWitnessSet(t *testing.T) {
	built, err := NewTxBuilder().
		AddInput(TxInput{TxHash: strings.Repeat("cd", 32), Index: 0}).
		AddOutput(TxOutput{Address: testBech32Address(t), Value: NewValue().Add("", 1_000_000)}).
		Build()
	require.NoError(t, err)

	raw, err := built.Assemble(nil)
	require.NoError(t, err)

	entries, err := ExtractRedeemers(raw)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSetRedeemerUnits(t *testing.T) {
	builder := NewTxBuilder().AddRedeemer(RedeemerEntry{Tag: RedeemerTagSpend, Index: 0, Data: RedeemerWithdraw.ToData()})

	require.NoError(t, builder.SetRedeemerUnits(0, ExUnits{Mem: 7, Steps: 9}))
	assert.Equal(t, ExUnits{Mem: 7, Steps: 9}, builder.Redeemers()[0].Units)

	assert.Error(t, builder.SetRedeemerUnits(1, ExUnits{}))
	assert.Error(t, builder.SetRedeemerUnits(-1, ExUnits{}))
}

func TestSlotForTime(t *testing.T) {
	assert.Equal(t, uint64(4492800), SlotForTime(MainnetID, time.Unix(1596059091, 0)))
	assert.Equal(t, uint64(4492810), SlotForTime(MainnetID, time.Unix(1596059101, 0)))

	assert.Equal(t, uint64(86400), SlotForTime(TestnetID, time.Unix(1655769600, 0)))
	assert.Equal(t, uint64(86550), SlotForTime(TestnetID, time.Unix(1655769750, 0)))

	// Times before the reference clamp to the reference slot.
	assert.Equal(t, uint64(86400), SlotForTime(TestnetID, time.Unix(1655769599, 0)))
}
