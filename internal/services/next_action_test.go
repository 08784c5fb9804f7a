// internal/services/next_action_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/masumi-network/payment-coordinator/internal/models"
)

func TestChainErrorNote(t *testing.T) {
	assert.Equal(t, "new", ChainErrorNote("", "SubmitResultInitiated", "new"))
	assert.Equal(t, "prev", ChainErrorNote("prev", "SubmitResultInitiated", ""))
	assert.Equal(t,
		"prev (SubmitResultInitiated) -> new",
		ChainErrorNote("prev", "SubmitResultInitiated", "new"))

	// Chains keep growing left to right.
	first := ChainErrorNote("", "FundsLockingInitiated", "submit failed")
	second := ChainErrorNote(first, "FundsLockingInitiated", "submit failed again")
	assert.Equal(t, "submit failed (FundsLockingInitiated) -> submit failed again", second)
}

func TestNextPaymentAction(t *testing.T) {
	cases := []struct {
		name    string
		current models.PaymentAction
		state   models.OnChainState
		want    models.PaymentAction
		wantErr bool
	}{
		{"funds locked waits for seller", models.PaymentActionWaitingForExternal, models.OnChainStateFundsLocked, models.PaymentActionWaitingForExternal, false},
		{"result submitted queues withdraw", models.PaymentActionSubmitResultInitiated, models.OnChainStateResultSubmitted, models.PaymentActionWithdrawRequested, false},
		{"refund requested waits", models.PaymentActionWaitingForExternal, models.OnChainStateRefundRequested, models.PaymentActionWaitingForExternal, false},
		{"disputed waits", models.PaymentActionWaitingForExternal, models.OnChainStateDisputed, models.PaymentActionWaitingForExternal, false},
		{"withdrawn is terminal", models.PaymentActionWithdrawInitiated, models.OnChainStateWithdrawn, models.PaymentActionNone, false},
		{"disputed withdraw confirms terminal", models.PaymentActionWithdrawInitiated, models.OnChainStateDisputedWithdrawn, models.PaymentActionNone, false},
		{"refund withdrawn is terminal", models.PaymentActionWaitingForExternal, models.OnChainStateRefundWithdrawn, models.PaymentActionNone, false},
		{"disputed withdrawn is terminal", models.PaymentActionWaitingForExternal, models.OnChainStateDisputedWithdrawn, models.PaymentActionNone, false},
		{"invalid funds need a human", models.PaymentActionWaitingForExternal, models.OnChainStateFundsOrDatumInvalid, models.PaymentActionWaitingForManual, true},
		{"submit result may land disputed", models.PaymentActionSubmitResultInitiated, models.OnChainStateDisputed, models.PaymentActionWaitingForExternal, false},
		{"unexpected state during withdraw", models.PaymentActionWithdrawInitiated, models.OnChainStateRefundRequested, models.PaymentActionWaitingForManual, true},
		{"unexpected state during refund authorization", models.PaymentActionAuthorizeRefundInitiated, models.OnChainStateWithdrawn, models.PaymentActionWaitingForManual, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, update := NextPaymentAction(tc.current, tc.state)
			assert.Equal(t, tc.want, next)
			if tc.wantErr {
				assert.NotEmpty(t, update.ErrorNote)
				assert.Equal(t, models.ErrorTypeUnknown, update.ErrorType)
			} else {
				assert.Empty(t, update.ErrorNote)
			}
		})
	}
}

func TestNextPurchaseAction(t *testing.T) {
	cases := []struct {
		name    string
		current models.PurchasingAction
		state   models.OnChainState
		want    models.PurchasingAction
		wantErr bool
	}{
		{"funds locked confirmed", models.PurchasingActionFundsLockingInitiated, models.OnChainStateFundsLocked, models.PurchasingActionWaitingForExternal, false},
		{"result submitted waits", models.PurchasingActionWaitingForExternal, models.OnChainStateResultSubmitted, models.PurchasingActionWaitingForExternal, false},
		{"refund requested queues withdraw", models.PurchasingActionSetRefundInitiated, models.OnChainStateRefundRequested, models.PurchasingActionWithdrawRefundRequested, false},
		{"refund request may land disputed", models.PurchasingActionSetRefundInitiated, models.OnChainStateDisputed, models.PurchasingActionWaitingForExternal, false},
		{"cancel refund back to locked", models.PurchasingActionUnSetRefundInitiated, models.OnChainStateFundsLocked, models.PurchasingActionWaitingForExternal, false},
		{"refund withdrawn is terminal", models.PurchasingActionWithdrawRefundInitiated, models.OnChainStateRefundWithdrawn, models.PurchasingActionNone, false},
		{"invalid funds need a human", models.PurchasingActionWaitingForExternal, models.OnChainStateFundsOrDatumInvalid, models.PurchasingActionWaitingForManual, true},
		{"unexpected state during locking", models.PurchasingActionFundsLockingInitiated, models.OnChainStateRefundRequested, models.PurchasingActionWaitingForManual, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, update := NextPurchaseAction(tc.current, tc.state)
			assert.Equal(t, tc.want, next)
			if tc.wantErr {
				assert.NotEmpty(t, update.ErrorNote)
			} else {
				assert.Empty(t, update.ErrorNote)
			}
		})
	}
}
