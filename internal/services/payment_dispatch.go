// internal/services/payment_dispatch.go
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

func paymentWallet(source *models.PaymentSource, req *models.PaymentRequest) *models.HotWallet {
	if req.SmartContractWallet != nil {
		return req.SmartContractWallet
	}
	return walletByRole(source, models.WalletRoleSelling)
}

// datumForPayment reconstructs the escrow datum from the seller-side
// record. The buyer wallet must already be attached, which is true for
// every state past FundsLocked.
func datumForPayment(req *models.PaymentRequest, wallet *models.HotWallet, state cardano.SmartContractState) (*cardano.EscrowDatum, error) {
	if req.BuyerWallet == nil {
		return nil, fmt.Errorf("payment %s has no buyer wallet", req.ID)
	}

	buyerAddress, err := cardano.ParseAddress(req.BuyerWallet.Address)
	if err != nil {
		return nil, fmt.Errorf("buyer address: %w", err)
	}
	sellerAddress, err := cardano.ParseAddress(wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("seller address: %w", err)
	}

	return &cardano.EscrowDatum{
		BuyerVkey:                 req.BuyerWallet.Vkey,
		BuyerAddress:              buyerAddress,
		SellerVkey:                wallet.Vkey,
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

// adminSigners resolves the key hashes of the source's admin wallets, up to
// the cosign threshold. They are attached as required signers on admin
// spends; the co-signatures themselves are collected out of band.
func adminSigners(source *models.PaymentSource) ([][]byte, error) {
	count := source.CosignThreshold
	if count > len(source.AdminWalletAddresses) {
		count = len(source.AdminWalletAddresses)
	}

	signers := make([][]byte, 0, count)
	for _, addr := range source.AdminWalletAddresses[:count] {
		parsed, err := cardano.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("admin wallet address: %w", err)
		}
		signers = append(signers, parsed.PaymentKeyHash)
	}
	return signers, nil
}

// dispatchResultSubmissions performs the SubmitResult spend for sellers
// whose result hash is queued.
func (s *DispatchService) dispatchResultSubmissions(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	reqs, err := repository.PaymentsWithAction(s.store.DB(), source.ID, models.PaymentActionSubmitResultRequested)
	if err != nil {
		s.log.WithError(err).Error("Failed to list result submissions")
		return
	}

	for i := range reqs {
		req := &reqs[i]
		wallet := paymentWallet(source, req)
		if wallet == nil || req.CurrentTransaction == nil {
			continue
		}

		job := dispatchJob{
			wallet: wallet,
			build: func() (*cardano.TxBuilder, error) {
				state := cardano.StateResultSubmitted
				if req.OnChainState == models.OnChainStateRefundRequested {
					state = cardano.StateDisputed
				}
				datum, err := datumForPayment(req, wallet, state)
				if err != nil {
					return nil, err
				}
				return s.buildEscrowSpend(ctx, adapter, escrowSpend{
					source:        source,
					wallet:        wallet,
					currentTxHash: req.CurrentTransaction.TxHash,
					redeemer:      cardano.RedeemerSubmitResult,
					newDatum:      datum,
				})
			},
			attach: func(t *models.Transaction) {
				t.PaymentRequestID = &req.ID
			},
			markInitiated: paymentInitiated(req, models.PaymentActionSubmitResultInitiated),
			onFailure:     paymentFailure(req, models.PaymentActionSubmitResultRequested),
		}
		s.run(ctx, adapter, job)
	}
}

// dispatchWithdrawals performs the seller's Withdraw spend once the unlock
// time has passed: the escrow funds minus the protocol fee go to the
// seller, the fee to the fee receiver, the collateral back to the buyer.
func (s *DispatchService) dispatchWithdrawals(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	reqs, err := repository.PaymentsWithAction(s.store.DB(), source.ID, models.PaymentActionWithdrawRequested)
	if err != nil {
		s.log.WithError(err).Error("Failed to list withdrawals")
		return
	}

	nowMs := s.now().UnixMilli()
	for i := range reqs {
		req := &reqs[i]
		if req.OnChainState != models.OnChainStateResultSubmitted || nowMs < req.UnlockTime {
			continue
		}
		s.runPaymentWithdraw(ctx, adapter, source, req, cardano.RedeemerWithdraw,
			models.PaymentActionWithdrawInitiated, models.PaymentActionWithdrawRequested, nil)
	}
}

// dispatchDisputedWithdrawals settles escrows stuck in Disputed after the
// external dispute window lapsed without arbitration. The spend requires
// the admin quorum as co-signers.
func (s *DispatchService) dispatchDisputedWithdrawals(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	reqs, err := repository.PaymentsWithAction(s.store.DB(), source.ID, models.PaymentActionWaitingForExternal)
	if err != nil {
		s.log.WithError(err).Error("Failed to list disputed escrows")
		return
	}

	signers, err := adminSigners(source)
	if err != nil {
		s.log.WithError(err).WithField("source", source.ID).Error("Unusable admin wallet configuration")
		return
	}

	nowMs := s.now().UnixMilli()
	for i := range reqs {
		req := &reqs[i]
		if req.OnChainState != models.OnChainStateDisputed || nowMs < req.ExternalDisputeUnlockTime {
			continue
		}
		s.runPaymentWithdraw(ctx, adapter, source, req, cardano.RedeemerWithdrawDisputed,
			models.PaymentActionWithdrawInitiated, models.PaymentActionWaitingForExternal, signers)
	}
}

func (s *DispatchService) runPaymentWithdraw(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource, req *models.PaymentRequest, redeemer cardano.RedeemerKind, to, backTo models.PaymentAction, signers [][]byte) {
	wallet := paymentWallet(source, req)
	if wallet == nil || req.BuyerWallet == nil || req.CurrentTransaction == nil {
		return
	}
	feeWallet := walletByRole(source, models.WalletRoleFeeReceiver)
	if feeWallet == nil {
		s.log.WithField("source", source.ID).Error("Source has no fee receiver wallet")
		return
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
					Address: req.BuyerWallet.Address,
					Value:   cardano.NewValue().Add(cardano.LovelaceUnit, req.CollateralReturnLovelace),
				})
			}

			fee := payout.Lovelace() * int64(source.FeeRatePermille) / 1000
			if fee > 0 {
				payout.Add(cardano.LovelaceUnit, -fee)
				outputs = append(outputs, cardano.TxOutput{
					Address: feeWallet.Address,
					Value:   cardano.NewValue().Add(cardano.LovelaceUnit, fee),
				})
			}

			destination := wallet.Address
			if wallet.CollectionAddress != nil && *wallet.CollectionAddress != "" {
				destination = *wallet.CollectionAddress
			}
			outputs = append(outputs, cardano.TxOutput{Address: destination, Value: payout})

			return s.buildEscrowSpend(ctx, adapter, escrowSpend{
				source:          source,
				wallet:          wallet,
				currentTxHash:   req.CurrentTransaction.TxHash,
				redeemer:        redeemer,
				extraOutputs:    outputs,
				requiredSigners: signers,
			})
		},
		attach: func(t *models.Transaction) {
			t.PaymentRequestID = &req.ID
		},
		markInitiated: paymentInitiated(req, to),
		onFailure:     paymentFailure(req, backTo),
	}
	s.run(ctx, adapter, job)
}

// dispatchRefundAuthorizations performs the admin AllowRefund spend for
// payments an operator approved for refund.
func (s *DispatchService) dispatchRefundAuthorizations(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	reqs, err := repository.PaymentsWithAction(s.store.DB(), source.ID, models.PaymentActionAuthorizeRefundRequested)
	if err != nil {
		s.log.WithError(err).Error("Failed to list refund authorizations")
		return
	}

	signers, err := adminSigners(source)
	if err != nil {
		s.log.WithError(err).WithField("source", source.ID).Error("Unusable admin wallet configuration")
		return
	}

	for i := range reqs {
		req := &reqs[i]
		wallet := paymentWallet(source, req)
		if wallet == nil || req.CurrentTransaction == nil {
			continue
		}

		job := dispatchJob{
			wallet: wallet,
			build: func() (*cardano.TxBuilder, error) {
				datum, err := datumForPayment(req, wallet, cardano.StateRefundRequested)
				if err != nil {
					return nil, err
				}
				return s.buildEscrowSpend(ctx, adapter, escrowSpend{
					source:          source,
					wallet:          wallet,
					currentTxHash:   req.CurrentTransaction.TxHash,
					redeemer:        cardano.RedeemerAllowRefund,
					newDatum:        datum,
					requiredSigners: signers,
				})
			},
			attach: func(t *models.Transaction) {
				t.PaymentRequestID = &req.ID
			},
			markInitiated: paymentInitiated(req, models.PaymentActionAuthorizeRefundInitiated),
			onFailure:     paymentFailure(req, models.PaymentActionAuthorizeRefundRequested),
		}
		s.run(ctx, adapter, job)
	}
}

func paymentInitiated(req *models.PaymentRequest, to models.PaymentAction) func(tx *gorm.DB, transactionID uuid.UUID) error {
	return func(tx *gorm.DB, transactionID uuid.UUID) error {
		return tx.Model(&models.PaymentRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
			"next_action":            to,
			"current_transaction_id": transactionID,
		}).Error
	}
}

func paymentFailure(req *models.PaymentRequest, backTo models.PaymentAction) func(tx *gorm.DB, note string) error {
	return func(tx *gorm.DB, note string) error {
		return tx.Model(&models.PaymentRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
			"next_action":            backTo,
			"error_type":             models.ErrorTypeNetwork,
			"error_note":             ChainErrorNote(req.ErrorNote, string(req.NextAction), note),
			"current_transaction_id": req.CurrentTransactionID,
		}).Error
	}
}
