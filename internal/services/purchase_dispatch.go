// internal/services/purchase_dispatch.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/cardano"
	"github.com/masumi-network/payment-coordinator/internal/chain"
	"github.com/masumi-network/payment-coordinator/internal/models"
	"github.com/masumi-network/payment-coordinator/internal/repository"
)

// purchaseWallet resolves the hot wallet a purchase request spends from.
func purchaseWallet(source *models.PaymentSource, req *models.PurchaseRequest) *models.HotWallet {
	if req.SmartContractWallet != nil {
		return req.SmartContractWallet
	}
	return walletByRole(source, models.WalletRolePurchasing)
}

// datumForPurchase reconstructs the escrow datum from the coordinator's own
// record of the purchase. Used both when opening the escrow and when
// producing the continuation datum of a spend.
func datumForPurchase(req *models.PurchaseRequest, wallet *models.HotWallet, state cardano.SmartContractState) (*cardano.EscrowDatum, error) {
	if req.SellerWallet == nil {
		return nil, fmt.Errorf("purchase %s has no seller wallet", req.ID)
	}

	buyerAddress, err := cardano.ParseAddress(wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("buyer address: %w", err)
	}
	sellerAddress, err := cardano.ParseAddress(req.SellerWallet.Address)
	if err != nil {
		return nil, fmt.Errorf("seller address: %w", err)
	}

	return &cardano.EscrowDatum{
		BuyerVkey:                 wallet.Vkey,
		BuyerAddress:              buyerAddress,
		SellerVkey:                req.SellerWallet.Vkey,
		SellerAddress:             sellerAddress,
		BlockchainIdentifier:      req.BlockchainIdentifier,
		InputHash:                 req.InputHash,
		ResultHash:                req.ResultHash,
		PayByTime:                 req.PayByTime,
		ResultTime:                req.SubmitResultTime,
		UnlockTime:                req.UnlockTime,
		ExternalDisputeUnlockTime: req.ExternalDisputeUnlockTime,
		BuyerCooldownTime:         req.BuyerCooldownTime,
		SellerCooldownTime:        req.SellerCooldownTime,
		State:                     state,
		CollateralReturnLovelace:  req.CollateralReturnLovelace,
	}, nil
}

// dispatchFundsLocking produces the escrow-opening transaction for every
// purchase awaiting funds locking.
func (s *DispatchService) dispatchFundsLocking(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	reqs, err := repository.PurchasesWithAction(s.store.DB(), source.ID, models.PurchasingActionFundsLockingRequested)
	if err != nil {
		s.log.WithError(err).Error("Failed to list funds-locking requests")
		return
	}

	for i := range reqs {
		req := &reqs[i]
		wallet := purchaseWallet(source, req)
		if wallet == nil {
			s.log.WithField("purchase", req.ID).Error("Source has no purchasing wallet")
			continue
		}

		job := dispatchJob{
			wallet: wallet,
			build: func() (*cardano.TxBuilder, error) {
				datum, err := datumForPurchase(req, wallet, cardano.StateFundsLocked)
				if err != nil {
					return nil, err
				}
				datumData, err := datum.ToData()
				if err != nil {
					return nil, err
				}

				utxos, err := s.selectUTXOs(ctx, adapter, wallet.Address)
				if err != nil {
					return nil, err
				}

				escrowValue := requestedValue(req.RequestedFunds())
				escrowValue.Add(cardano.LovelaceUnit, req.CollateralReturnLovelace)

				change := totalValue(utxos).Minus(escrowValue)
				change.Add(cardano.LovelaceUnit, -defaultFeeLovelace)
				if change.Lovelace() <= 0 {
					return nil, fmt.Errorf("insufficient funds to lock the escrow")
				}

				builder := cardano.NewTxBuilder().
					SetFee(defaultFeeLovelace).
					AddOutput(cardano.TxOutput{
						Address: source.SmartContractAddress,
						Value:   escrowValue,
						Datum:   datumData,
					}).
					AddOutput(cardano.TxOutput{Address: wallet.Address, Value: change})
				for _, in := range inputsOf(utxos) {
					builder.AddInput(in)
				}

				networkID := cardano.NetworkIDFor(string(source.Network))
				start, end := s.validityWindow(networkID)
				builder.SetValidity(start, end)
				return builder, nil
			},
			attach: func(t *models.Transaction) {
				t.PurchaseRequestID = &req.ID
			},
			markInitiated: func(tx *gorm.DB, transactionID uuid.UUID) error {
				return tx.Model(&models.PurchaseRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
					"next_action":              models.PurchasingActionFundsLockingInitiated,
					"current_transaction_id":   transactionID,
					"smart_contract_wallet_id": wallet.ID,
				}).Error
			},
			onFailure: purchaseFailure(req, models.PurchasingActionFundsLockingRequested),
		}
		s.run(ctx, adapter, job)
	}
}

// dispatchRefundRequests performs the RequestRefund spend for purchases the
// buyer asked to refund.
func (s *DispatchService) dispatchRefundRequests(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	s.dispatchPurchaseSpend(ctx, adapter, source, purchaseSpendSpec{
		from:      models.PurchasingActionSetRefundRequested,
		to:        models.PurchasingActionSetRefundInitiated,
		redeemer:  cardano.RedeemerRequestRefund,
		makeDatum: func(req *models.PurchaseRequest, wallet *models.HotWallet) (*cardano.EscrowDatum, error) {
			state := cardano.StateRefundRequested
			if req.ResultHash != "" {
				state = cardano.StateDisputed
			}
			return datumForPurchase(req, wallet, state)
		},
	})
}

// dispatchCancelRefundRequests performs the CancelRefundRequest spend.
func (s *DispatchService) dispatchCancelRefundRequests(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	s.dispatchPurchaseSpend(ctx, adapter, source, purchaseSpendSpec{
		from:     models.PurchasingActionUnSetRefundRequested,
		to:       models.PurchasingActionUnSetRefundInitiated,
		redeemer: cardano.RedeemerCancelRefund,
		makeDatum: func(req *models.PurchaseRequest, wallet *models.HotWallet) (*cardano.EscrowDatum, error) {
			state := cardano.StateFundsLocked
			if req.ResultHash != "" {
				state = cardano.StateResultSubmitted
			}
			return datumForPurchase(req, wallet, state)
		},
	})
}

// dispatchRefundWithdrawals performs the WithdrawRefund spend once the
// unlock time has passed: escrow funds return to the buyer, the collateral
// goes back to the seller.
func (s *DispatchService) dispatchRefundWithdrawals(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	reqs, err := repository.PurchasesWithAction(s.store.DB(), source.ID, models.PurchasingActionWithdrawRefundRequested)
	if err != nil {
		s.log.WithError(err).Error("Failed to list refund withdrawals")
		return
	}

	nowMs := s.now().UnixMilli()
	for i := range reqs {
		req := &reqs[i]
		if req.OnChainState != models.OnChainStateRefundRequested || nowMs < req.UnlockTime {
			continue
		}
		wallet := purchaseWallet(source, req)
		if wallet == nil || req.SellerWallet == nil || req.CurrentTransaction == nil {
			continue
		}

		job := dispatchJob{
			wallet: wallet,
			build: func() (*cardano.TxBuilder, error) {
				escrow, err := escrowUTXO(ctx, adapter, source.SmartContractAddress, req.CurrentTransaction.TxHash)
				if err != nil {
					return nil, err
				}

				payout := utxoValue(*escrow)
				var outputs []cardano.TxOutput
				if req.CollateralReturnLovelace > 0 {
					payout.Add(cardano.LovelaceUnit, -req.CollateralReturnLovelace)
					outputs = append(outputs, cardano.TxOutput{
						Address: req.SellerWallet.Address,
						Value:   cardano.NewValue().Add(cardano.LovelaceUnit, req.CollateralReturnLovelace),
					})
				}
				destination := wallet.Address
				if wallet.CollectionAddress != nil && *wallet.CollectionAddress != "" {
					destination = *wallet.CollectionAddress
				}
				outputs = append(outputs, cardano.TxOutput{Address: destination, Value: payout})

				return s.buildEscrowSpend(ctx, adapter, escrowSpend{
					source:        source,
					wallet:        wallet,
					currentTxHash: req.CurrentTransaction.TxHash,
					redeemer:      cardano.RedeemerWithdrawRefund,
					extraOutputs:  outputs,
				})
			},
			attach: func(t *models.Transaction) {
				t.PurchaseRequestID = &req.ID
			},
			markInitiated: func(tx *gorm.DB, transactionID uuid.UUID) error {
				return tx.Model(&models.PurchaseRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
					"next_action":            models.PurchasingActionWithdrawRefundInitiated,
					"current_transaction_id": transactionID,
				}).Error
			},
			onFailure: purchaseFailure(req, models.PurchasingActionWithdrawRefundRequested),
		}
		s.run(ctx, adapter, job)
	}
}

type purchaseSpendSpec struct {
	from      models.PurchasingAction
	to        models.PurchasingAction
	redeemer  cardano.RedeemerKind
	makeDatum func(req *models.PurchaseRequest, wallet *models.HotWallet) (*cardano.EscrowDatum, error)
}

func (s *DispatchService) dispatchPurchaseSpend(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource, spec purchaseSpendSpec) {
	reqs, err := repository.PurchasesWithAction(s.store.DB(), source.ID, spec.from)
	if err != nil {
		s.log.WithError(err).WithField("action", spec.from).Error("Failed to list purchase work queue")
		return
	}

	for i := range reqs {
		req := &reqs[i]
		wallet := purchaseWallet(source, req)
		if wallet == nil || req.CurrentTransaction == nil {
			continue
		}

		job := dispatchJob{
			wallet: wallet,
			build: func() (*cardano.TxBuilder, error) {
				datum, err := spec.makeDatum(req, wallet)
				if err != nil {
					return nil, err
				}
				return s.buildEscrowSpend(ctx, adapter, escrowSpend{
					source:        source,
					wallet:        wallet,
					currentTxHash: req.CurrentTransaction.TxHash,
					redeemer:      spec.redeemer,
					newDatum:      datum,
				})
			},
			attach: func(t *models.Transaction) {
				t.PurchaseRequestID = &req.ID
			},
			markInitiated: func(tx *gorm.DB, transactionID uuid.UUID) error {
				return tx.Model(&models.PurchaseRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
					"next_action":            spec.to,
					"current_transaction_id": transactionID,
				}).Error
			},
			onFailure: purchaseFailure(req, spec.from),
		}
		s.run(ctx, adapter, job)
	}
}

func purchaseFailure(req *models.PurchaseRequest, backTo models.PurchasingAction) func(tx *gorm.DB, note string) error {
	return func(tx *gorm.DB, note string) error {
		return tx.Model(&models.PurchaseRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
			"next_action":            backTo,
			"error_type":             models.ErrorTypeNetwork,
			"error_note":             ChainErrorNote(req.ErrorNote, string(req.NextAction), note),
			"current_transaction_id": req.CurrentTransactionID,
		}).Error
	}
}
