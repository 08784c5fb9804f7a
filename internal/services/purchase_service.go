// internal/services/purchase_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/config"
	"github.com/masumi-network/payment-coordinator/internal/models"
	"github.com/masumi-network/payment-coordinator/internal/repository"
	"github.com/masumi-network/payment-coordinator/internal/utils"
)

// PurchaseService exposes the buyer-side downstream operations: creating a
// purchase intent, queueing refund requests and their cancellation, and
// listing purchases.
type PurchaseService struct {
	store *repository.Store
	cfg   *config.Config
	log   *logrus.Entry
}

func NewPurchaseService(store *repository.Store, cfg *config.Config) *PurchaseService {
	return &PurchaseService{
		store: store,
		cfg:   cfg,
		log:   logrus.WithField("service", "purchase"),
	}
}

type CreatePurchaseInput struct {
	Network                   string            `json:"network" validate:"required,oneof=Mainnet Preprod"`
	BlockchainIdentifier      string            `json:"blockchainIdentifier" validate:"required,min=54,max=512"`
	SellerVkey                string            `json:"sellerVkey" validate:"required,len=56"`
	SellerAddress             string            `json:"sellerAddress" validate:"required"`
	AgentIdentifier           string            `json:"agentIdentifier" validate:"required,min=57,max=120"`
	PaymentType               string            `json:"paymentType" validate:"required,oneof=None Web3CardanoV1"`
	PayByTime                 int64             `json:"payByTime" validate:"required,gt=0"`
	SubmitResultTime          int64             `json:"submitResultTime" validate:"required,gt=0"`
	UnlockTime                int64             `json:"unlockTime" validate:"required,gt=0"`
	ExternalDisputeUnlockTime int64             `json:"externalDisputeUnlockTime" validate:"required,gt=0"`
	IdentifierFromPurchaser   string            `json:"identifierFromPurchaser" validate:"required,min=14,max=26"`
	InputHash                 string            `json:"inputHash" validate:"required"`
	CollateralReturnLovelace  int64             `json:"collateralReturnLovelace" validate:"gte=0"`
	RequestedFunds            []UnitAmountInput `json:"requestedFunds" validate:"dive"`
}

func (in *CreatePurchaseInput) validateSemantics(minCollateral int64) error {
	if !utils.ValidInputHash(in.InputHash) {
		return fmt.Errorf("inputHash must be lowercase hex of at least 56 characters")
	}
	if !utils.IsLowerHex(in.SellerVkey) {
		return fmt.Errorf("sellerVkey must be lowercase hex")
	}
	if !(in.PayByTime < in.SubmitResultTime && in.SubmitResultTime <= in.UnlockTime && in.UnlockTime <= in.ExternalDisputeUnlockTime) {
		return fmt.Errorf("times must satisfy payByTime < submitResultTime <= unlockTime <= externalDisputeUnlockTime")
	}
	if in.CollateralReturnLovelace != 0 && in.CollateralReturnLovelace < minCollateral {
		return fmt.Errorf("collateralReturnLovelace must be 0 or at least %d", minCollateral)
	}
	return nil
}

// CreatePurchase records the buyer's side of an escrow and queues the
// funds-locking transaction. The blockchain identifier is the seller's full
// handle, which must end in the purchaser-supplied part.
func (s *PurchaseService) CreatePurchase(ctx context.Context, in CreatePurchaseInput) (*models.PurchaseRequest, error) {
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, err
	}
	if err := in.validateSemantics(s.cfg.Engine.MinCollateralLovelace); err != nil {
		return nil, err
	}
	if len(in.BlockchainIdentifier) <= len(in.IdentifierFromPurchaser) ||
		in.BlockchainIdentifier[len(in.BlockchainIdentifier)-len(in.IdentifierFromPurchaser):] != in.IdentifierFromPurchaser {
		return nil, fmt.Errorf("blockchainIdentifier does not end in identifierFromPurchaser")
	}

	source, err := s.sourceForNetwork(models.Network(in.Network))
	if err != nil {
		return nil, err
	}
	wallet := walletByRole(source, models.WalletRolePurchasing)
	if wallet == nil {
		return nil, fmt.Errorf("payment source has no purchasing wallet")
	}

	var req *models.PurchaseRequest
	err = s.store.InTx(ctx, func(tx *gorm.DB) error {
		seller, err := repository.FindOrCreateWalletBase(tx, source.ID, in.SellerVkey, in.SellerAddress)
		if err != nil {
			return err
		}

		req = &models.PurchaseRequest{
			PaymentSourceID: source.ID,
			EscrowBase: models.EscrowBase{
				BlockchainIdentifier:      in.BlockchainIdentifier,
				InputHash:                 in.InputHash,
				PayByTime:                 in.PayByTime,
				SubmitResultTime:          in.SubmitResultTime,
				UnlockTime:                in.UnlockTime,
				ExternalDisputeUnlockTime: in.ExternalDisputeUnlockTime,
				CollateralReturnLovelace:  in.CollateralReturnLovelace,
			},
			AgentIdentifier:       in.AgentIdentifier,
			PaymentType:           models.PaymentType(in.PaymentType),
			NextAction:            models.PurchasingActionFundsLockingRequested,
			SmartContractWalletID: &wallet.ID,
			SellerWalletID:        &seller.ID,
		}
		if err := tx.Create(req).Error; err != nil {
			return err
		}

		for _, f := range in.RequestedFunds {
			fund := models.UnitValue{
				Unit:              f.Unit,
				Amount:            f.Amount,
				Category:          models.FundCategoryRequested,
				PurchaseRequestID: &req.ID,
			}
			if err := tx.Create(&fund).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("identifier", in.BlockchainIdentifier).Info("Purchase request created")
	return req, nil
}

type PurchaseActionInput struct {
	Network              string `json:"network" validate:"required,oneof=Mainnet Preprod"`
	BlockchainIdentifier string `json:"blockchainIdentifier" validate:"required"`
}

// RequestRefund queues the buyer's refund request spend.
func (s *PurchaseService) RequestRefund(ctx context.Context, in PurchaseActionInput) (*models.PurchaseRequest, error) {
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, err
	}
	return s.queueAction(ctx, models.Network(in.Network), in.BlockchainIdentifier,
		func(req *models.PurchaseRequest) (models.PurchasingAction, error) {
			if req.NextAction != models.PurchasingActionWaitingForExternal {
				return "", ErrInvalidState
			}
			if req.OnChainState != models.OnChainStateFundsLocked && req.OnChainState != models.OnChainStateResultSubmitted {
				return "", ErrInvalidState
			}
			return models.PurchasingActionSetRefundRequested, nil
		})
}

// CancelRefundRequest queues the spend that takes the refund request back.
func (s *PurchaseService) CancelRefundRequest(ctx context.Context, in PurchaseActionInput) (*models.PurchaseRequest, error) {
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, err
	}
	return s.queueAction(ctx, models.Network(in.Network), in.BlockchainIdentifier,
		func(req *models.PurchaseRequest) (models.PurchasingAction, error) {
			if req.NextAction != models.PurchasingActionWaitingForExternal &&
				req.NextAction != models.PurchasingActionWithdrawRefundRequested {
				return "", ErrInvalidState
			}
			if req.OnChainState != models.OnChainStateRefundRequested && req.OnChainState != models.OnChainStateDisputed {
				return "", ErrInvalidState
			}
			return models.PurchasingActionUnSetRefundRequested, nil
		})
}

func (s *PurchaseService) queueAction(ctx context.Context, network models.Network, identifier string, decide func(*models.PurchaseRequest) (models.PurchasingAction, error)) (*models.PurchaseRequest, error) {
	source, err := s.sourceForNetwork(network)
	if err != nil {
		return nil, err
	}

	var out *models.PurchaseRequest
	err = s.store.InTx(ctx, func(tx *gorm.DB) error {
		req, err := repository.PurchaseByIdentifier(tx, source.ID, identifier)
		if err != nil {
			return err
		}
		if req == nil {
			return ErrNotFoundRequest
		}

		next, err := decide(req)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.PurchaseRequest{}).Where("id = ?", req.ID).Update("next_action", next).Error; err != nil {
			return err
		}
		out = req
		return nil
	})
	return out, err
}

type QueryPurchasesInput struct {
	Network        string
	CursorID       string
	IncludeHistory bool
}

// QueryPurchases lists purchases newest first with cursor-id pagination.
func (s *PurchaseService) QueryPurchases(in QueryPurchasesInput) ([]models.PurchaseRequest, error) {
	query := utils.ApplyCursor(s.store.DB(), "purchase_requests", in.CursorID).
		Preload("SmartContractWallet").
		Preload("SellerWallet").
		Preload("Funds").
		Preload("CurrentTransaction")
	if in.IncludeHistory {
		query = query.Preload("TransactionHistory")
	}
	if in.Network != "" {
		query = query.Where(
			"payment_source_id IN (SELECT id FROM payment_sources WHERE network = ?)",
			in.Network,
		)
	}

	var out []models.PurchaseRequest
	err := query.Find(&out).Error
	return out, err
}

func (s *PurchaseService) sourceForNetwork(network models.Network) (*models.PaymentSource, error) {
	var source models.PaymentSource
	err := s.store.DB().Preload("HotWallets").
		Where("network = ? AND disabled_at IS NULL", network).
		First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no enabled payment source for network %s", network)
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}
