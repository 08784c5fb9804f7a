// internal/services/sync_transition.go
package services

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/cardano"
	"github.com/masumi-network/payment-coordinator/internal/chain"
	"github.com/masumi-network/payment-coordinator/internal/models"
	"github.com/masumi-network/payment-coordinator/internal/repository"
)

// transitionState maps an observed spend to the escrow's new logical state.
// The table is the contract's transition semantics seen from the outside:
// the redeemer picks the branch, the produced datum and the amount check
// disambiguate the rest.
func transitionState(kind cardano.RedeemerKind, newDatum *cardano.EscrowDatum, amountOK bool) models.OnChainState {
	switch kind {
	case cardano.RedeemerWithdraw:
		return models.OnChainStateWithdrawn
	case cardano.RedeemerRequestRefund:
		if newDatum != nil && newDatum.ResultHash != "" {
			return models.OnChainStateDisputed
		}
		return models.OnChainStateRefundRequested
	case cardano.RedeemerCancelRefund:
		if newDatum != nil && newDatum.ResultHash != "" {
			return models.OnChainStateResultSubmitted
		}
		if amountOK {
			return models.OnChainStateFundsLocked
		}
		return models.OnChainStateFundsOrDatumInvalid
	case cardano.RedeemerWithdrawRefund:
		return models.OnChainStateRefundWithdrawn
	case cardano.RedeemerWithdrawDisputed:
		return models.OnChainStateDisputedWithdrawn
	case cardano.RedeemerSubmitResult:
		if newDatum != nil && (newDatum.State == cardano.StateRefundRequested || newDatum.State == cardano.StateDisputed) {
			return models.OnChainStateDisputed
		}
		return models.OnChainStateResultSubmitted
	case cardano.RedeemerAllowRefund:
		return models.OnChainStateRefundRequested
	default:
		return models.OnChainStateFundsOrDatumInvalid
	}
}

// applyTransition handles a spend of one escrow output: it identifies the
// escrow via the consumed datum, verifies the spend descends from a
// transaction the coordinator knows, derives the new state and applies it
// to both mirrors.
func (s *SyncService) applyTransition(ctx context.Context, tx *gorm.DB, adapter chain.Adapter, source *models.PaymentSource, info *chain.TxInfo, c *classified) error {
	networkID := cardano.NetworkIDFor(string(source.Network))

	consumed := c.scriptInputs[0]
	if consumed.InlineDatum == "" {
		s.log.WithField("tx", info.TxHash).Warn("Script input without inline datum, cannot identify escrow")
		return nil
	}
	rawOld, err := hex.DecodeString(consumed.InlineDatum)
	if err != nil {
		return nil
	}
	oldDatum, err := cardano.DecodeDatum(rawOld, networkID)
	if err != nil {
		s.log.WithError(err).WithField("tx", info.TxHash).Error("Undecodable consumed datum")
		return nil
	}

	kind, err := cardano.RedeemerFromData(c.redeemer.Data)
	if err != nil {
		s.log.WithError(err).WithField("tx", info.TxHash).Error("Unknown redeemer on escrow spend")
		return nil
	}

	var newDatum *cardano.EscrowDatum
	var outValue cardano.Value
	if len(c.scriptOutputs) == 1 {
		out := c.scriptOutputs[0]
		outValue = utxoValue(out)
		if out.InlineDatum != "" {
			if rawNew, err := hex.DecodeString(out.InlineDatum); err == nil {
				if d, err := cardano.DecodeDatum(rawNew, networkID); err == nil {
					newDatum = &d
				}
			}
		}
	}

	identifier := oldDatum.BlockchainIdentifier
	payment, err := repository.PaymentByIdentifier(tx, source.ID, identifier)
	if err != nil {
		return err
	}
	purchase, err := repository.PurchaseByIdentifier(tx, source.ID, identifier)
	if err != nil {
		return err
	}
	if payment == nil && purchase == nil {
		return nil
	}

	known, err := knownTxHashes(tx, payment, purchase)
	if err != nil {
		return err
	}
	legit, err := s.isSuccessor(ctx, adapter, source.SmartContractAddress, consumed.TxHash, known)
	if err != nil {
		return err
	}
	if !legit {
		s.log.WithFields(logrus.Fields{
			"tx":         info.TxHash,
			"identifier": identifier,
		}).Warn("Escrow spend does not descend from a known transaction, not applying")
		return nil
	}

	var requested cardano.Value
	var collateral int64
	if payment != nil {
		requested = requestedValue(payment.RequestedFunds())
		collateral = payment.CollateralReturnLovelace
	} else {
		requested = requestedValue(purchase.RequestedFunds())
		collateral = purchase.CollateralReturnLovelace
	}
	amountOK := outValue.Covers(requested, collateral)

	newState := transitionState(kind, newDatum, amountOK)

	if payment != nil {
		if err := s.applyTransitionToPayment(tx, payment, info, newState, newDatum, &oldDatum); err != nil {
			return err
		}
	}
	if purchase != nil {
		if err := s.applyTransitionToPurchase(tx, purchase, info, newState, newDatum, &oldDatum); err != nil {
			return err
		}
	}
	return nil
}

func knownTxHashes(tx *gorm.DB, payment *models.PaymentRequest, purchase *models.PurchaseRequest) (map[string]bool, error) {
	known := make(map[string]bool)

	collect := func(where string, id uuid.UUID) error {
		var txs []models.Transaction
		if err := tx.Where(where, id).Find(&txs).Error; err != nil {
			return err
		}
		for _, t := range txs {
			if t.TxHash != "" {
				known[t.TxHash] = true
			}
		}
		return nil
	}

	if payment != nil {
		if err := collect("payment_request_id = ?", payment.ID); err != nil {
			return nil, err
		}
	}
	if purchase != nil {
		if err := collect("purchase_request_id = ?", purchase.ID); err != nil {
			return nil, err
		}
	}
	return known, nil
}

// isSuccessor walks the consumed-input ancestry until it reaches a
// transaction the coordinator recorded, giving up after MaxHistoryLevels
// hops. A spend whose lineage never meets the recorded history belongs to a
// foreign chain of transactions touching the script and is not applied.
func (s *SyncService) isSuccessor(ctx context.Context, adapter chain.Adapter, scriptAddress, startHash string, known map[string]bool) (bool, error) {
	hash := startHash
	for level := 0; level < s.cfg.Engine.MaxHistoryLevels; level++ {
		if known[hash] {
			return true, nil
		}

		info, err := adapter.GetTx(ctx, hash)
		if errors.Is(err, chain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		parent := ""
		for _, in := range info.Inputs {
			if in.Collateral || in.Address != scriptAddress {
				continue
			}
			parent = in.TxHash
			break
		}
		if parent == "" {
			return false, nil
		}
		hash = parent
	}
	return false, nil
}

func (s *SyncService) applyTransitionToPayment(tx *gorm.DB, req *models.PaymentRequest, info *chain.TxInfo, state models.OnChainState, newDatum, oldDatum *cardano.EscrowDatum) error {
	if err := finalizeCurrentIfPending(tx, req.CurrentTransaction, info.TxHash); err != nil {
		return err
	}

	confirmed := models.Transaction{
		TxHash:           info.TxHash,
		Status:           models.TransactionStatusConfirmed,
		PaymentRequestID: &req.ID,
	}
	if err := tx.Create(&confirmed).Error; err != nil {
		return err
	}

	next, update := NextPaymentAction(req.NextAction, state)
	changes := map[string]interface{}{
		"on_chain_state":         state,
		"next_action":            next,
		"current_transaction_id": confirmed.ID,
	}
	if d := newDatum; d != nil {
		changes["result_hash"] = d.ResultHash
		changes["buyer_cooldown_time"] = d.BuyerCooldownTime
		changes["seller_cooldown_time"] = d.SellerCooldownTime
	}
	if update.ErrorNote != "" {
		changes["error_type"] = update.ErrorType
		changes["error_note"] = ChainErrorNote(req.ErrorNote, string(req.NextAction), update.ErrorNote)
	}
	if err := tx.Model(&models.PaymentRequest{}).Where("id = ?", req.ID).Updates(changes).Error; err != nil {
		return err
	}

	if state == models.OnChainStateDisputedWithdrawn {
		return recordDisputedSplit(tx, info, oldDatum, &req.ID, nil)
	}
	return nil
}

func (s *SyncService) applyTransitionToPurchase(tx *gorm.DB, req *models.PurchaseRequest, info *chain.TxInfo, state models.OnChainState, newDatum, oldDatum *cardano.EscrowDatum) error {
	if err := finalizeCurrentIfPending(tx, req.CurrentTransaction, info.TxHash); err != nil {
		return err
	}

	confirmed := models.Transaction{
		TxHash:            info.TxHash,
		Status:            models.TransactionStatusConfirmed,
		PurchaseRequestID: &req.ID,
	}
	if err := tx.Create(&confirmed).Error; err != nil {
		return err
	}

	next, update := NextPurchaseAction(req.NextAction, state)
	changes := map[string]interface{}{
		"on_chain_state":         state,
		"next_action":            next,
		"current_transaction_id": confirmed.ID,
	}
	if d := newDatum; d != nil {
		changes["result_hash"] = d.ResultHash
		changes["buyer_cooldown_time"] = d.BuyerCooldownTime
		changes["seller_cooldown_time"] = d.SellerCooldownTime
	}
	if update.ErrorNote != "" {
		changes["error_type"] = update.ErrorType
		changes["error_note"] = ChainErrorNote(req.ErrorNote, string(req.NextAction), update.ErrorNote)
	}
	if err := tx.Model(&models.PurchaseRequest{}).Where("id = ?", req.ID).Updates(changes).Error; err != nil {
		return err
	}

	if state == models.OnChainStateDisputedWithdrawn {
		return recordDisputedSplit(tx, info, oldDatum, nil, &req.ID)
	}
	return nil
}

// finalizeCurrentIfPending confirms the request's in-flight transaction
// when the observed spend is the one the dispatcher submitted. The empty
// hash case covers a crash between submit and recording the hash; the
// observed spend is the only candidate, so the placeholder is resolved to it.
func finalizeCurrentIfPending(tx *gorm.DB, current *models.Transaction, observedHash string) error {
	if current == nil || current.Status != models.TransactionStatusPending {
		return nil
	}
	if current.TxHash != observedHash && current.TxHash != "" {
		return nil
	}
	if current.TxHash == "" {
		if err := tx.Model(&models.Transaction{}).Where("id = ?", current.ID).Update("tx_hash", observedHash).Error; err != nil {
			return err
		}
	}
	return repository.FinalizeTransaction(tx, current.ID, models.TransactionStatusConfirmed)
}

// recordDisputedSplit stores who got what out of an admin dispute
// settlement: the per-party net flow (outputs minus inputs) at the seller
// and buyer addresses of the settled escrow.
func recordDisputedSplit(tx *gorm.DB, info *chain.TxInfo, datum *cardano.EscrowDatum, paymentID, purchaseID *uuid.UUID) error {
	if datum == nil {
		return nil
	}

	sellerAddress, err := datum.SellerAddress.Bech32()
	if err != nil {
		return err
	}
	buyerAddress, err := datum.BuyerAddress.Bech32()
	if err != nil {
		return err
	}

	write := func(addr string, recipient models.WithdrawRecipient) error {
		net := netFlow(info, addr)
		for unit, amount := range net {
			if amount <= 0 {
				continue
			}
			row := models.UnitValue{
				Unit:              unit,
				Amount:            amount,
				Category:          models.FundCategoryPaid,
				Recipient:         recipient,
				PaymentRequestID:  paymentID,
				PurchaseRequestID: purchaseID,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	}

	if err := write(sellerAddress, models.WithdrawRecipientSeller); err != nil {
		return err
	}
	return write(buyerAddress, models.WithdrawRecipientBuyer)
}

func netFlow(info *chain.TxInfo, address string) cardano.Value {
	out := cardano.NewValue()
	for _, o := range info.Outputs {
		if o.Collateral || o.Address != address {
			continue
		}
		for _, a := range o.Amounts {
			out.Add(a.Unit, a.Quantity)
		}
	}
	for _, i := range info.Inputs {
		if i.Collateral || i.Address != address {
			continue
		}
		for _, a := range i.Amounts {
			out.Add(a.Unit, -a.Quantity)
		}
	}
	return out
}
