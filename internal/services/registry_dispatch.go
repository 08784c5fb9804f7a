// internal/services/registry_dispatch.go
package services

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/cardano"
	"github.com/masumi-network/payment-coordinator/internal/chain"
	"github.com/masumi-network/payment-coordinator/internal/models"
	"github.com/masumi-network/payment-coordinator/internal/repository"
)

func walletByRole(source *models.PaymentSource, role models.WalletRole) *models.HotWallet {
	for i := range source.HotWallets {
		if source.HotWallets[i].Role == role {
			return &source.HotWallets[i]
		}
	}
	return nil
}

// dispatchRegistrations mints the agent identity NFT for every registry
// request awaiting registration. The asset name is derived from the first
// selected input, so a re-run of a confirmed registration can never mint a
// second asset.
func (s *DispatchService) dispatchRegistrations(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	reqs, err := repository.RegistriesInState(s.store.DB(), source.ID, models.RegistrationStateRequested)
	if err != nil {
		s.log.WithError(err).Error("Failed to list registration requests")
		return
	}
	if len(reqs) == 0 {
		return
	}

	wallet := walletByRole(source, models.WalletRoleSelling)
	if wallet == nil {
		s.log.WithField("source", source.ID).Error("Source has no selling wallet")
		return
	}

	for i := range reqs {
		req := &reqs[i]
		s.runRegistryMint(ctx, adapter, source, wallet, req, 1)
	}
}

// dispatchDeregistrations burns the NFT of agents awaiting deregistration.
func (s *DispatchService) dispatchDeregistrations(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	reqs, err := repository.RegistriesInState(s.store.DB(), source.ID, models.RegistrationStateDeregisterRequested)
	if err != nil {
		s.log.WithError(err).Error("Failed to list deregistration requests")
		return
	}
	if len(reqs) == 0 {
		return
	}

	wallet := walletByRole(source, models.WalletRoleSelling)
	if wallet == nil {
		s.log.WithField("source", source.ID).Error("Source has no selling wallet")
		return
	}

	for i := range reqs {
		req := &reqs[i]
		s.runRegistryMint(ctx, adapter, source, wallet, req, -1)
	}
}

func (s *DispatchService) runRegistryMint(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource, wallet *models.HotWallet, req *models.RegistryRequest, quantity int64) {
	registering := quantity > 0
	networkID := cardano.NetworkIDFor(string(source.Network))

	var agentIdentifier string

	job := dispatchJob{
		wallet: wallet,
		build: func() (*cardano.TxBuilder, error) {
			utxos, err := s.selectUTXOs(ctx, adapter, wallet.Address)
			if err != nil {
				return nil, err
			}

			var assetName string
			if registering {
				first := utxos[0]
				assetName, err = cardano.DeriveAssetName(first.TxHash, first.OutputIndex)
				if err != nil {
					return nil, err
				}
			} else {
				if req.AgentIdentifier == nil || len(*req.AgentIdentifier) != 120 {
					return nil, fmt.Errorf("registry request %s has no valid agent identifier to burn", req.ID)
				}
				assetName = (*req.AgentIdentifier)[56:]
			}
			agentIdentifier = source.PolicyID + assetName

			policy, err := hex.DecodeString(source.CompiledRegistryPolicy)
			if err != nil {
				return nil, fmt.Errorf("registry policy script is not hex: %w", err)
			}

			change := totalValue(utxos)
			change.Add(cardano.LovelaceUnit, -defaultFeeLovelace)
			change.Add(agentIdentifier, quantity)
			if change.Lovelace() <= 0 {
				return nil, fmt.Errorf("wallet balance below the flat fee")
			}

			builder := cardano.NewTxBuilder().
				SetScript(policy).
				SetFee(defaultFeeLovelace).
				AddMint(source.PolicyID, assetName, quantity).
				AddRedeemer(cardano.RedeemerEntry{
					Tag:  cardano.RedeemerTagMint,
					Data: cardano.Constr{Index: 0, Fields: []cardano.Data{}},
				}).
				AddOutput(cardano.TxOutput{Address: wallet.Address, Value: change})
			for _, in := range inputsOf(utxos) {
				builder.AddInput(in)
			}
			if collateral, ok := pickCollateral(utxos, s.cfg.Engine.MinCollateralLovelace); ok {
				builder.AddCollateral(cardano.TxInput{TxHash: collateral.TxHash, Index: collateral.OutputIndex})
			}

			if registering {
				builder.SetMetadata(cardano.BuildAgentMetadata(source.PolicyID, assetName, registryMetadataInput(req), "RegisterAgent"))
			} else {
				builder.SetMetadata(cardano.BuildAgentMetadata(source.PolicyID, assetName, registryMetadataInput(req), "DeregisterAgent"))
			}

			start, end := s.validityWindow(networkID)
			builder.SetValidity(start, end)
			return builder, nil
		},
		attach: func(t *models.Transaction) {
			t.RegistryRequestID = &req.ID
		},
		markInitiated: func(tx *gorm.DB, transactionID uuid.UUID) error {
			state := models.RegistrationStateInitiated
			changes := map[string]interface{}{
				"current_transaction_id":   transactionID,
				"smart_contract_wallet_id": wallet.ID,
			}
			if registering {
				changes["agent_identifier"] = agentIdentifier
			} else {
				state = models.RegistrationStateDeregisterInitiated
			}
			changes["state"] = state
			return tx.Model(&models.RegistryRequest{}).Where("id = ?", req.ID).Updates(changes).Error
		},
		onFailure: func(tx *gorm.DB, note string) error {
			changes := map[string]interface{}{"error": &note}
			if registering {
				changes["state"] = models.RegistrationStateFailed
			} else {
				changes["state"] = models.RegistrationStateDeregisterRequested
			}
			return tx.Model(&models.RegistryRequest{}).Where("id = ?", req.ID).Updates(changes).Error
		},
	}

	s.run(ctx, adapter, job)
}

func registryMetadataInput(req *models.RegistryRequest) cardano.AgentMetadataInput {
	pricing := make([]cardano.PricingEntry, 0, len(req.Pricing))
	for _, p := range req.Pricing {
		pricing = append(pricing, cardano.PricingEntry{Unit: p.Unit, Amount: p.Amount})
	}

	return cardano.AgentMetadataInput{
		Name:              req.Name,
		Description:       req.Description,
		APIBaseURL:        req.APIBaseURL,
		CapabilityName:    req.CapabilityName,
		CapabilityVersion: req.CapabilityVersion,
		Author:            req.Author,
		Legal:             req.Legal,
		Tags:              req.Tags,
		ExampleOutputs:    req.ExampleOutputs,
		PricingType:       string(req.PricingType),
		Pricing:           pricing,
		MetadataVersion:   req.MetadataVersion,
	}
}
