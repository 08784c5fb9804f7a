// internal/services/sync_initial.go
package services

import (
	"encoding/hex"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/cardano"
	"github.com/masumi-network/payment-coordinator/internal/chain"
	"github.com/masumi-network/payment-coordinator/internal/models"
	"github.com/masumi-network/payment-coordinator/internal/repository"
)

// applyInitial handles a transaction that opens escrows: zero script
// inputs, one or more script outputs, no redeemers. Each output is matched
// independently against the purchase and the payment mirror. The two sides
// treat a failed match differently on purpose: the purchase side silently
// ignores what it did not author, the payment side records the output as
// invalid so the seller's operator sees it.
func (s *SyncService) applyInitial(tx *gorm.DB, source *models.PaymentSource, info *chain.TxInfo, scriptOutputs []chain.UTxO) error {
	networkID := cardano.NetworkIDFor(string(source.Network))

	for _, out := range scriptOutputs {
		if out.InlineDatum == "" {
			continue
		}
		raw, err := hex.DecodeString(out.InlineDatum)
		if err != nil {
			continue
		}
		datum, err := cardano.DecodeDatum(raw, networkID)
		if err != nil {
			s.log.WithError(err).WithField("tx", info.TxHash).Debug("Undecodable inline datum, skipping output")
			continue
		}

		if err := s.matchInitialPurchase(tx, source, info, out, datum); err != nil {
			return err
		}
		if err := s.matchInitialPayment(tx, source, info, out, datum); err != nil {
			return err
		}
	}
	return nil
}

type initialExpectation struct {
	sellerVkey    string
	sellerAddress string
	buyerVkey     string // empty when the buyer is not yet known
	buyerAddress  string
	base          models.EscrowBase
	requested     cardano.Value
}

func (s *SyncService) matchInitialPurchase(tx *gorm.DB, source *models.PaymentSource, info *chain.TxInfo, out chain.UTxO, datum cardano.EscrowDatum) error {
	req, err := repository.PurchaseByIdentifier(tx, source.ID, datum.BlockchainIdentifier)
	if err != nil {
		return err
	}
	if req == nil || req.NextAction != models.PurchasingActionFundsLockingInitiated {
		return nil
	}
	if req.SellerWallet == nil || req.SmartContractWallet == nil {
		return nil
	}

	expect := initialExpectation{
		sellerVkey:    req.SellerWallet.Vkey,
		sellerAddress: req.SellerWallet.Address,
		buyerVkey:     req.SmartContractWallet.Vkey,
		buyerAddress:  req.SmartContractWallet.Address,
		base:          req.EscrowBase,
		requested:     requestedValue(req.RequestedFunds()),
	}

	if violations := validateInitial(datum, out, info, expect); len(violations) > 0 {
		// Spoof policy on the buyer mirror: the record the coordinator
		// authored stays untouched.
		s.log.WithFields(logrus.Fields{
			"tx":         info.TxHash,
			"identifier": datum.BlockchainIdentifier,
			"violations": violations,
		}).Debug("Ignoring non-matching escrow output for purchase")
		return nil
	}

	if req.CurrentTransaction != nil && req.CurrentTransaction.Status == models.TransactionStatusPending {
		if err := repository.FinalizeTransaction(tx, req.CurrentTransaction.ID, models.TransactionStatusConfirmed); err != nil {
			return err
		}
	}

	confirmed := models.Transaction{
		TxHash:            info.TxHash,
		Status:            models.TransactionStatusConfirmed,
		PurchaseRequestID: &req.ID,
	}
	if err := tx.Create(&confirmed).Error; err != nil {
		return err
	}

	next, _ := NextPurchaseAction(req.NextAction, models.OnChainStateFundsLocked)
	return tx.Model(&models.PurchaseRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
		"on_chain_state":         models.OnChainStateFundsLocked,
		"next_action":            next,
		"unlock_time":            datum.UnlockTime,
		"current_transaction_id": confirmed.ID,
	}).Error
}

func (s *SyncService) matchInitialPayment(tx *gorm.DB, source *models.PaymentSource, info *chain.TxInfo, out chain.UTxO, datum cardano.EscrowDatum) error {
	req, err := repository.PaymentByIdentifier(tx, source.ID, datum.BlockchainIdentifier)
	if err != nil {
		return err
	}
	if req == nil || req.NextAction != models.PaymentActionWaitingForExternal || req.BuyerWalletID != nil {
		return nil
	}
	if req.SmartContractWallet == nil {
		return nil
	}

	expect := initialExpectation{
		sellerVkey:    req.SmartContractWallet.Vkey,
		sellerAddress: req.SmartContractWallet.Address,
		base:          req.EscrowBase,
		requested:     requestedValue(req.RequestedFunds()),
	}

	if violations := validateInitial(datum, out, info, expect); len(violations) > 0 {
		// Spoof policy on the seller mirror: the operator gets the details.
		return tx.Model(&models.PaymentRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
			"on_chain_state": models.OnChainStateFundsOrDatumInvalid,
			"next_action":    models.PaymentActionWaitingForManual,
			"error_type":     models.ErrorTypeUnknown,
			"error_note":     ChainErrorNote(req.ErrorNote, string(req.NextAction), strings.Join(violations, "; ")),
		}).Error
	}

	buyerAddress, err := datum.BuyerAddress.Bech32()
	if err != nil {
		return err
	}
	buyer, err := repository.FindOrCreateWalletBase(tx, source.ID, datum.BuyerVkey, buyerAddress)
	if err != nil {
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

	next, _ := NextPaymentAction(req.NextAction, models.OnChainStateFundsLocked)
	return tx.Model(&models.PaymentRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
		"on_chain_state":         models.OnChainStateFundsLocked,
		"next_action":            next,
		"unlock_time":            datum.UnlockTime,
		"buyer_wallet_id":        buyer.ID,
		"current_transaction_id": confirmed.ID,
	}).Error
}

// validateInitial checks an escrow-opening output against the stored
// request. It returns every violation rather than the first so the seller's
// error note carries the full picture.
func validateInitial(datum cardano.EscrowDatum, out chain.UTxO, info *chain.TxInfo, expect initialExpectation) []string {
	var violations []string

	sellerAddress, err := datum.SellerAddress.Bech32()
	if err != nil {
		violations = append(violations, "Seller address is not decodable")
	}
	if expect.sellerVkey != "" && (datum.SellerVkey != expect.sellerVkey || sellerAddress != expect.sellerAddress) {
		violations = append(violations, "Seller wallet does not match the agreed upon wallet")
	}

	buyerAddress, err := datum.BuyerAddress.Bech32()
	if err != nil {
		violations = append(violations, "Buyer address is not decodable")
	}
	if expect.buyerVkey != "" && (datum.BuyerVkey != expect.buyerVkey || buyerAddress != expect.buyerAddress) {
		violations = append(violations, "Buyer wallet does not match the agreed upon wallet")
	}

	buyerFunded := false
	for _, in := range info.Inputs {
		if in.Collateral {
			continue
		}
		if in.Address == buyerAddress {
			buyerFunded = true
			break
		}
	}
	if !buyerFunded {
		violations = append(violations, "No transaction input from the buyer wallet")
	}

	if datum.PayByTime != expect.base.PayByTime {
		violations = append(violations, "Pay by time is not the agreed upon time")
	}
	if datum.ResultTime != expect.base.SubmitResultTime {
		violations = append(violations, "Submit result time is not the agreed upon time")
	}
	if datum.UnlockTime < expect.base.UnlockTime {
		violations = append(violations, "Unlock time is before the agreed upon time.")
	}
	if datum.ExternalDisputeUnlockTime != expect.base.ExternalDisputeUnlockTime {
		violations = append(violations, "External dispute unlock time is not the agreed upon time")
	}

	if datum.CollateralReturnLovelace != expect.base.CollateralReturnLovelace {
		violations = append(violations, "Collateral return does not match the agreed upon amount")
	}
	if datum.BuyerCooldownTime != 0 || datum.SellerCooldownTime != 0 {
		violations = append(violations, "Cooldown times are not zero")
	}
	if datum.State == cardano.StateRefundRequested || datum.State == cardano.StateDisputed {
		violations = append(violations, "Initial state is not valid")
	}
	if datum.ResultHash != "" {
		violations = append(violations, "Result hash is not empty")
	}

	// Equality is still in time: the funds arrived at the deadline.
	if info.BlockTime*1000 > expect.base.PayByTime {
		violations = append(violations, "Funds were locked after the pay by time")
	}

	if out.ReferenceScriptHash != "" {
		violations = append(violations, "Reference script attached to the escrow output")
	}

	if !utxoValue(out).Covers(expect.requested, expect.base.CollateralReturnLovelace) {
		violations = append(violations, "Amounts do not match the requested funds")
	}

	return violations
}

func utxoValue(u chain.UTxO) cardano.Value {
	v := cardano.NewValue()
	for _, a := range u.Amounts {
		v.Add(a.Unit, a.Quantity)
	}
	return v
}

func requestedValue(funds []models.UnitValue) cardano.Value {
	v := cardano.NewValue()
	for _, f := range funds {
		v.Add(f.Unit, f.Amount)
	}
	return v
}
