// internal/services/next_action.go
package services

import (
	"fmt"

	"github.com/masumi-network/payment-coordinator/internal/models"
)

// ActionUpdate is the outcome of one next-action table lookup.
type ActionUpdate struct {
	ErrorType models.ErrorType
	ErrorNote string
}

// ChainErrorNote appends a new note to an existing one, preserving the
// action that produced the previous note.
func ChainErrorNote(prevNote string, prevAction, newNote string) string {
	if newNote == "" {
		return prevNote
	}
	if prevNote == "" {
		return newNote
	}
	return fmt.Sprintf("%s (%s) -> %s", prevNote, prevAction, newNote)
}

// expectedPaymentStates maps an Initiated seller-side action to the on-chain
// states its confirmation may legitimately produce.
var expectedPaymentStates = map[models.PaymentAction][]models.OnChainState{
	models.PaymentActionSubmitResultInitiated:    {models.OnChainStateResultSubmitted, models.OnChainStateDisputed},
	models.PaymentActionWithdrawInitiated:        {models.OnChainStateWithdrawn, models.OnChainStateDisputedWithdrawn},
	models.PaymentActionAuthorizeRefundInitiated: {models.OnChainStateRefundRequested},
}

var expectedPurchaseStates = map[models.PurchasingAction][]models.OnChainState{
	models.PurchasingActionFundsLockingInitiated:   {models.OnChainStateFundsLocked},
	models.PurchasingActionSetRefundInitiated:      {models.OnChainStateRefundRequested, models.OnChainStateDisputed},
	models.PurchasingActionUnSetRefundInitiated:    {models.OnChainStateFundsLocked, models.OnChainStateResultSubmitted},
	models.PurchasingActionWithdrawRefundInitiated: {models.OnChainStateRefundWithdrawn},
}

func stateExpected(states []models.OnChainState, state models.OnChainState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// NextPaymentAction is the deterministic (current action, new on-chain
// state) table for the seller-side mirror. Every observed transition runs
// through it; the work queue only ever advances here or in the dispatchers'
// failure paths.
func NextPaymentAction(current models.PaymentAction, state models.OnChainState) (models.PaymentAction, ActionUpdate) {
	if expected, ok := expectedPaymentStates[current]; ok && !stateExpected(expected, state) {
		return models.PaymentActionWaitingForManual, ActionUpdate{
			ErrorType: models.ErrorTypeUnknown,
			ErrorNote: fmt.Sprintf("Unexpected on-chain state %s while %s", state, current),
		}
	}

	switch state {
	case models.OnChainStateFundsLocked:
		return models.PaymentActionWaitingForExternal, ActionUpdate{}
	case models.OnChainStateResultSubmitted:
		// The withdraw dispatcher gates on unlock_time itself.
		return models.PaymentActionWithdrawRequested, ActionUpdate{}
	case models.OnChainStateRefundRequested:
		return models.PaymentActionWaitingForExternal, ActionUpdate{}
	case models.OnChainStateDisputed:
		return models.PaymentActionWaitingForExternal, ActionUpdate{}
	case models.OnChainStateWithdrawn,
		models.OnChainStateRefundWithdrawn,
		models.OnChainStateDisputedWithdrawn:
		return models.PaymentActionNone, ActionUpdate{}
	case models.OnChainStateFundsOrDatumInvalid:
		return models.PaymentActionWaitingForManual, ActionUpdate{
			ErrorType: models.ErrorTypeUnknown,
			ErrorNote: "Escrow funds or datum invalid",
		}
	default:
		return models.PaymentActionWaitingForManual, ActionUpdate{
			ErrorType: models.ErrorTypeUnknown,
			ErrorNote: fmt.Sprintf("Unknown on-chain state %s", state),
		}
	}
}

// NextPurchaseAction is the buyer-side twin of NextPaymentAction.
func NextPurchaseAction(current models.PurchasingAction, state models.OnChainState) (models.PurchasingAction, ActionUpdate) {
	if expected, ok := expectedPurchaseStates[current]; ok && !stateExpected(expected, state) {
		return models.PurchasingActionWaitingForManual, ActionUpdate{
			ErrorType: models.ErrorTypeUnknown,
			ErrorNote: fmt.Sprintf("Unexpected on-chain state %s while %s", state, current),
		}
	}

	switch state {
	case models.OnChainStateFundsLocked:
		return models.PurchasingActionWaitingForExternal, ActionUpdate{}
	case models.OnChainStateResultSubmitted:
		return models.PurchasingActionWaitingForExternal, ActionUpdate{}
	case models.OnChainStateRefundRequested:
		// The refund-withdraw dispatcher gates on unlock_time itself.
		return models.PurchasingActionWithdrawRefundRequested, ActionUpdate{}
	case models.OnChainStateDisputed:
		return models.PurchasingActionWaitingForExternal, ActionUpdate{}
	case models.OnChainStateWithdrawn,
		models.OnChainStateRefundWithdrawn,
		models.OnChainStateDisputedWithdrawn:
		return models.PurchasingActionNone, ActionUpdate{}
	case models.OnChainStateFundsOrDatumInvalid:
		return models.PurchasingActionWaitingForManual, ActionUpdate{
			ErrorType: models.ErrorTypeUnknown,
			ErrorNote: "Escrow funds or datum invalid",
		}
	default:
		return models.PurchasingActionWaitingForManual, ActionUpdate{
			ErrorType: models.ErrorTypeUnknown,
			ErrorNote: fmt.Sprintf("Unknown on-chain state %s", state),
		}
	}
}
