// internal/services/sync_logic_test.go
package services

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masumi-network/payment-coordinator/internal/cardano"
	"github.com/masumi-network/payment-coordinator/internal/chain"
	"github.com/masumi-network/payment-coordinator/internal/models"
)

func TestTransitionState(t *testing.T) {
	withResult := &cardano.EscrowDatum{ResultHash: strings.Repeat("ab", 32), State: cardano.StateResultSubmitted}
	noResult := &cardano.EscrowDatum{State: cardano.StateFundsLocked}
	disputed := &cardano.EscrowDatum{ResultHash: strings.Repeat("ab", 32), State: cardano.StateDisputed}

	cases := []struct {
		name     string
		kind     cardano.RedeemerKind
		newDatum *cardano.EscrowDatum
		amountOK bool
		want     models.OnChainState
	}{
		{"withdraw", cardano.RedeemerWithdraw, nil, true, models.OnChainStateWithdrawn},
		{"request refund without result", cardano.RedeemerRequestRefund, noResult, true, models.OnChainStateRefundRequested},
		{"request refund with result disputes", cardano.RedeemerRequestRefund, withResult, true, models.OnChainStateDisputed},
		{"cancel refund back to result", cardano.RedeemerCancelRefund, withResult, true, models.OnChainStateResultSubmitted},
		{"cancel refund back to locked", cardano.RedeemerCancelRefund, noResult, true, models.OnChainStateFundsLocked},
		{"cancel refund with short funds", cardano.RedeemerCancelRefund, noResult, false, models.OnChainStateFundsOrDatumInvalid},
		{"withdraw refund", cardano.RedeemerWithdrawRefund, nil, true, models.OnChainStateRefundWithdrawn},
		{"withdraw disputed", cardano.RedeemerWithdrawDisputed, nil, true, models.OnChainStateDisputedWithdrawn},
		{"submit result", cardano.RedeemerSubmitResult, withResult, true, models.OnChainStateResultSubmitted},
		{"submit result into open refund disputes", cardano.RedeemerSubmitResult, disputed, true, models.OnChainStateDisputed},
		{"allow refund", cardano.RedeemerAllowRefund, nil, true, models.OnChainStateRefundRequested},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, transitionState(tc.kind, tc.newDatum, tc.amountOK))
		})
	}
}

const testScriptAddr = "addr_test1scriptscriptscript"

func rawTxWithRedeemers(t *testing.T, redeemers ...cardano.RedeemerEntry) []byte {
	t.Helper()
	walletAddr, err := cardano.Address{
		NetworkID:      cardano.TestnetID,
		PaymentKeyHash: bytes.Repeat([]byte{0x01}, 28),
	}.Bech32()
	require.NoError(t, err)

	builder := cardano.NewTxBuilder().
		AddInput(cardano.TxInput{TxHash: strings.Repeat("ab", 32), Index: 0}).
		AddOutput(cardano.TxOutput{Address: walletAddr, Value: cardano.NewValue().Add("", 1_000_000)}).
		SetFee(2_000_000)
	for _, r := range redeemers {
		builder.AddRedeemer(r)
	}

	built, err := builder.Build()
	require.NoError(t, err)
	raw, err := built.Assemble(nil)
	require.NoError(t, err)
	return raw
}

func TestClassifyTxInitial(t *testing.T) {
	info := &chain.TxInfo{
		TxHash: strings.Repeat("aa", 32),
		Inputs: []chain.UTxO{{Address: "addr_test1buyer"}},
		Outputs: []chain.UTxO{
			{Address: testScriptAddr, InlineDatum: "d87980"},
			{Address: "addr_test1buyer"},
		},
		RawBody: rawTxWithRedeemers(t),
	}

	c := classifyTx(testScriptAddr, info)
	assert.Equal(t, txInitial, c.class)
	assert.Len(t, c.scriptOutputs, 1)
	assert.Empty(t, c.scriptInputs)
}

func TestClassifyTxTransition(t *testing.T) {
	info := &chain.TxInfo{
		TxHash: strings.Repeat("bb", 32),
		Inputs: []chain.UTxO{
			{Address: testScriptAddr, InlineDatum: "d87980"},
			{Address: "addr_test1wallet"},
			{Address: "addr_test1wallet", Collateral: true},
		},
		Outputs: []chain.UTxO{
			{Address: testScriptAddr, InlineDatum: "d87980"},
			{Address: "addr_test1wallet"},
		},
		RawBody: rawTxWithRedeemers(t, cardano.RedeemerEntry{
			Tag:  cardano.RedeemerTagSpend,
			Data: cardano.RedeemerSubmitResult.ToData(),
		}),
	}

	c := classifyTx(testScriptAddr, info)
	require.Equal(t, txTransition, c.class)
	require.NotNil(t, c.redeemer)

	kind, err := cardano.RedeemerFromData(c.redeemer.Data)
	require.NoError(t, err)
	assert.Equal(t, cardano.RedeemerSubmitResult, kind)
}

func TestClassifyTxInvalidShapes(t *testing.T) {
	// Two script inputs in one transaction.
	twoInputs := &chain.TxInfo{
		Inputs: []chain.UTxO{
			{Address: testScriptAddr},
			{Address: testScriptAddr},
		},
		RawBody: rawTxWithRedeemers(t, cardano.RedeemerEntry{Tag: cardano.RedeemerTagSpend, Data: cardano.RedeemerWithdraw.ToData()}),
	}
	assert.Equal(t, txInvalid, classifyTx(testScriptAddr, twoInputs).class)

	// Script output carrying a reference script.
	refScript := &chain.TxInfo{
		Outputs: []chain.UTxO{{Address: testScriptAddr, ReferenceScriptHash: strings.Repeat("ab", 28)}},
		RawBody: rawTxWithRedeemers(t),
	}
	c := classifyTx(testScriptAddr, refScript)
	assert.Equal(t, txInvalid, c.class)
	assert.Contains(t, c.reason, "reference script")

	// A spend redeemer with no script input.
	strayRedeemer := &chain.TxInfo{
		Outputs: []chain.UTxO{{Address: testScriptAddr}},
		RawBody: rawTxWithRedeemers(t, cardano.RedeemerEntry{Tag: cardano.RedeemerTagSpend, Data: cardano.RedeemerWithdraw.ToData()}),
	}
	assert.Equal(t, txInvalid, classifyTx(testScriptAddr, strayRedeemer).class)

	// A mint-only redeemer does not make an initial tx a transition.
	mintOnly := &chain.TxInfo{
		Outputs: []chain.UTxO{{Address: testScriptAddr}},
		RawBody: rawTxWithRedeemers(t, cardano.RedeemerEntry{Tag: cardano.RedeemerTagMint, Data: cardano.Constr{Index: 0, Fields: []cardano.Data{}}}),
	}
	assert.Equal(t, txInitial, classifyTx(testScriptAddr, mintOnly).class)
}

func testInitialFixture(t *testing.T) (cardano.EscrowDatum, chain.UTxO, *chain.TxInfo, initialExpectation) {
	t.Helper()

	seller := cardano.Address{NetworkID: cardano.TestnetID, PaymentKeyHash: bytes.Repeat([]byte{0x01}, 28)}
	buyer := cardano.Address{NetworkID: cardano.TestnetID, PaymentKeyHash: bytes.Repeat([]byte{0x02}, 28)}
	sellerAddr, err := seller.Bech32()
	require.NoError(t, err)
	buyerAddr, err := buyer.Bech32()
	require.NoError(t, err)

	datum := cardano.EscrowDatum{
		BuyerVkey:     strings.Repeat("02", 28),
		BuyerAddress:  buyer,
		SellerVkey:    strings.Repeat("01", 28),
		SellerAddress: seller,

		BlockchainIdentifier: "identifier",
		InputHash:            strings.Repeat("ef", 32),

		PayByTime:                 1700000000000,
		ResultTime:                1700000600000,
		UnlockTime:                1700001200000,
		ExternalDisputeUnlockTime: 1700001800000,

		State:                    cardano.StateFundsLocked,
		CollateralReturnLovelace: 5_000_000,
	}

	out := chain.UTxO{
		Address: testScriptAddr,
		Amounts: []chain.Amount{{Unit: "lovelace", Quantity: 15_000_000}},
	}

	info := &chain.TxInfo{
		TxHash:    strings.Repeat("aa", 32),
		BlockTime: 1700000000, // exactly the pay-by deadline in seconds
		Inputs:    []chain.UTxO{{Address: buyerAddr}},
	}

	expect := initialExpectation{
		sellerVkey:    datum.SellerVkey,
		sellerAddress: sellerAddr,
		base: models.EscrowBase{
			PayByTime:                 datum.PayByTime,
			SubmitResultTime:          datum.ResultTime,
			UnlockTime:                datum.UnlockTime,
			ExternalDisputeUnlockTime: datum.ExternalDisputeUnlockTime,
			CollateralReturnLovelace:  datum.CollateralReturnLovelace,
		},
		requested: cardano.NewValue().Add("", 10_000_000),
	}

	return datum, out, info, expect
}

func TestValidateInitialAccepts(t *testing.T) {
	datum, out, info, expect := testInitialFixture(t)
	assert.Empty(t, validateInitial(datum, out, info, expect))
}

func TestValidateInitialPayByBoundary(t *testing.T) {
	datum, out, info, expect := testInitialFixture(t)

	// Landing exactly at the deadline is still in time.
	info.BlockTime = expect.base.PayByTime / 1000
	assert.Empty(t, validateInitial(datum, out, info, expect))

	// One second later is not.
	info.BlockTime = expect.base.PayByTime/1000 + 1
	violations := validateInitial(datum, out, info, expect)
	assert.Contains(t, violations, "Funds were locked after the pay by time")
}

func TestValidateInitialRequiresBuyerInput(t *testing.T) {
	datum, out, info, expect := testInitialFixture(t)

	// Funds arriving from a wallet other than the datum's buyer are the
	// spoofing case: the violation must be reported.
	info.Inputs = []chain.UTxO{{Address: "addr_test1stranger"}}
	violations := validateInitial(datum, out, info, expect)
	assert.Contains(t, violations, "No transaction input from the buyer wallet")

	// A collateral input from the buyer does not count as funding.
	buyerAddr, err := datum.BuyerAddress.Bech32()
	require.NoError(t, err)
	info.Inputs = []chain.UTxO{{Address: buyerAddr, Collateral: true}}
	violations = validateInitial(datum, out, info, expect)
	assert.Contains(t, violations, "No transaction input from the buyer wallet")
}

func TestValidateInitialTimeChecks(t *testing.T) {
	datum, out, info, expect := testInitialFixture(t)

	// A later unlock time only helps the seller and is accepted.
	datum.UnlockTime = expect.base.UnlockTime + 60_000
	assert.Empty(t, validateInitial(datum, out, info, expect))

	// An earlier one is a violation.
	datum.UnlockTime = expect.base.UnlockTime - 1
	violations := validateInitial(datum, out, info, expect)
	assert.Contains(t, violations, "Unlock time is before the agreed upon time.")

	datum, out, info, expect = testInitialFixture(t)
	datum.PayByTime++
	violations = validateInitial(datum, out, info, expect)
	assert.Contains(t, violations, "Pay by time is not the agreed upon time")
}

func TestValidateInitialDatumChecks(t *testing.T) {
	datum, out, info, expect := testInitialFixture(t)
	datum.BuyerCooldownTime = 1
	datum.State = cardano.StateRefundRequested
	datum.ResultHash = strings.Repeat("ab", 32)
	datum.CollateralReturnLovelace = 1

	violations := validateInitial(datum, out, info, expect)
	assert.Contains(t, violations, "Cooldown times are not zero")
	assert.Contains(t, violations, "Initial state is not valid")
	assert.Contains(t, violations, "Result hash is not empty")
	assert.Contains(t, violations, "Collateral return does not match the agreed upon amount")
}

func TestValidateInitialAmountChecks(t *testing.T) {
	datum, out, info, expect := testInitialFixture(t)

	// Requested plus collateral is 15 ada; one lovelace short fails.
	out.Amounts = []chain.Amount{{Unit: "lovelace", Quantity: 14_999_999}}
	violations := validateInitial(datum, out, info, expect)
	assert.Contains(t, violations, "Amounts do not match the requested funds")

	out.Amounts = []chain.Amount{{Unit: "lovelace", Quantity: 15_000_000}}
	assert.Empty(t, validateInitial(datum, out, info, expect))

	// Reference scripts on the escrow output are never accepted.
	out.ReferenceScriptHash = strings.Repeat("ab", 28)
	violations = validateInitial(datum, out, info, expect)
	assert.Contains(t, violations, "Reference script attached to the escrow output")
}

func TestUtxoAndRequestedValue(t *testing.T) {
	u := chain.UTxO{Amounts: []chain.Amount{
		{Unit: "lovelace", Quantity: 5},
		{Unit: strings.Repeat("ab", 28) + "0001", Quantity: 2},
	}}
	v := utxoValue(u)
	assert.Equal(t, int64(5), v.Lovelace())
	assert.Equal(t, int64(2), v[strings.Repeat("ab", 28)+"0001"])

	funds := []models.UnitValue{
		{Unit: "", Amount: 7},
		{Unit: "lovelace", Amount: 3},
	}
	assert.Equal(t, int64(10), requestedValue(funds).Lovelace())
}
