// internal/services/payment_service.go
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/config"
	"github.com/masumi-network/payment-coordinator/internal/models"
	"github.com/masumi-network/payment-coordinator/internal/repository"
	"github.com/masumi-network/payment-coordinator/internal/utils"
)

var (
	ErrNotFoundRequest = errors.New("request not found")
	ErrInvalidState    = errors.New("request is not in a state that allows this operation")
)

// PaymentService exposes the seller-side downstream operations: creating a
// payment intent, queueing result submission and refund authorization, and
// listing payments.
type PaymentService struct {
	store *repository.Store
	cfg   *config.Config
	log   *logrus.Entry
}

func NewPaymentService(store *repository.Store, cfg *config.Config) *PaymentService {
	return &PaymentService{
		store: store,
		cfg:   cfg,
		log:   logrus.WithField("service", "payment"),
	}
}

type UnitAmountInput struct {
	Unit   string `json:"unit"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

type CreatePaymentInput struct {
	Network                   string            `json:"network" validate:"required,oneof=Mainnet Preprod"`
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

func (in *CreatePaymentInput) validateSemantics(minCollateral int64) error {
	if !utils.ValidInputHash(in.InputHash) {
		return fmt.Errorf("inputHash must be lowercase hex of at least 56 characters")
	}
	if !utils.IsLowerHex(in.IdentifierFromPurchaser) {
		return fmt.Errorf("identifierFromPurchaser must be lowercase hex")
	}
	if !(in.PayByTime < in.SubmitResultTime && in.SubmitResultTime <= in.UnlockTime && in.UnlockTime <= in.ExternalDisputeUnlockTime) {
		return fmt.Errorf("times must satisfy payByTime < submitResultTime <= unlockTime <= externalDisputeUnlockTime")
	}
	if in.CollateralReturnLovelace != 0 && in.CollateralReturnLovelace < minCollateral {
		return fmt.Errorf("collateralReturnLovelace must be 0 or at least %d", minCollateral)
	}
	return nil
}

// CreatePayment records the seller's side of an escrow before any funds
// move. The blockchain identifier is a fresh random handle suffixed with
// the purchaser-supplied part, so the pair is unique per source and the
// buyer can recognize its own purchases.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (*models.PaymentRequest, error) {
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, err
	}
	if err := in.validateSemantics(s.cfg.Engine.MinCollateralLovelace); err != nil {
		return nil, err
	}

	source, err := s.sourceForNetwork(models.Network(in.Network))
	if err != nil {
		return nil, err
	}
	wallet := walletByRole(source, models.WalletRoleSelling)
	if wallet == nil {
		return nil, fmt.Errorf("payment source has no selling wallet")
	}

	s.warnOnPricingMismatch(source.ID, in.AgentIdentifier, models.PaymentType(in.PaymentType))

	handle := make([]byte, 20)
	if _, err := rand.Read(handle); err != nil {
		return nil, err
	}
	identifier := hex.EncodeToString(handle) + in.IdentifierFromPurchaser

	req := &models.PaymentRequest{
		PaymentSourceID: source.ID,
		EscrowBase: models.EscrowBase{
			BlockchainIdentifier:      identifier,
			InputHash:                 in.InputHash,
			PayByTime:                 in.PayByTime,
			SubmitResultTime:          in.SubmitResultTime,
			UnlockTime:                in.UnlockTime,
			ExternalDisputeUnlockTime: in.ExternalDisputeUnlockTime,
			CollateralReturnLovelace:  in.CollateralReturnLovelace,
		},
		AgentIdentifier:       in.AgentIdentifier,
		PaymentType:           models.PaymentType(in.PaymentType),
		NextAction:            models.PaymentActionWaitingForExternal,
		SmartContractWalletID: &wallet.ID,
	}

	err = s.store.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		for _, f := range in.RequestedFunds {
			fund := models.UnitValue{
				Unit:             f.Unit,
				Amount:           f.Amount,
				Category:         models.FundCategoryRequested,
				PaymentRequestID: &req.ID,
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

	s.log.WithField("identifier", identifier).Info("Payment request created")
	return req, nil
}

type SubmitResultInput struct {
	Network              string `json:"network" validate:"required,oneof=Mainnet Preprod"`
	BlockchainIdentifier string `json:"blockchainIdentifier" validate:"required"`
	SubmitResultHash     string `json:"submitResultHash" validate:"required"`
}

// SubmitResult queues the seller's result hash for on-chain submission.
func (s *PaymentService) SubmitResult(ctx context.Context, in SubmitResultInput) (*models.PaymentRequest, error) {
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, err
	}
	if !utils.ValidInputHash(in.SubmitResultHash) {
		return nil, fmt.Errorf("submitResultHash must be lowercase hex of at least 56 characters")
	}

	return s.queueAction(ctx, models.Network(in.Network), in.BlockchainIdentifier,
		func(req *models.PaymentRequest) (map[string]interface{}, error) {
			if req.NextAction != models.PaymentActionWaitingForExternal {
				return nil, ErrInvalidState
			}
			if req.OnChainState != models.OnChainStateFundsLocked && req.OnChainState != models.OnChainStateRefundRequested {
				return nil, ErrInvalidState
			}
			return map[string]interface{}{
				"result_hash": in.SubmitResultHash,
				"next_action": models.PaymentActionSubmitResultRequested,
			}, nil
		})
}

type AuthorizeRefundInput struct {
	Network              string `json:"network" validate:"required,oneof=Mainnet Preprod"`
	BlockchainIdentifier string `json:"blockchainIdentifier" validate:"required"`
}

// AuthorizeRefund queues the admin-approved refund authorization.
func (s *PaymentService) AuthorizeRefund(ctx context.Context, in AuthorizeRefundInput) (*models.PaymentRequest, error) {
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, err
	}

	return s.queueAction(ctx, models.Network(in.Network), in.BlockchainIdentifier,
		func(req *models.PaymentRequest) (map[string]interface{}, error) {
			if req.OnChainState != models.OnChainStateDisputed && req.OnChainState != models.OnChainStateRefundRequested {
				return nil, ErrInvalidState
			}
			return map[string]interface{}{
				"next_action": models.PaymentActionAuthorizeRefundRequested,
			}, nil
		})
}

func (s *PaymentService) queueAction(ctx context.Context, network models.Network, identifier string, decide func(*models.PaymentRequest) (map[string]interface{}, error)) (*models.PaymentRequest, error) {
	source, err := s.sourceForNetwork(network)
	if err != nil {
		return nil, err
	}

	var out *models.PaymentRequest
	err = s.store.InTx(ctx, func(tx *gorm.DB) error {
		req, err := repository.PaymentByIdentifier(tx, source.ID, identifier)
		if err != nil {
			return err
		}
		if req == nil {
			return ErrNotFoundRequest
		}

		changes, err := decide(req)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.PaymentRequest{}).Where("id = ?", req.ID).Updates(changes).Error; err != nil {
			return err
		}
		out = req
		return nil
	})
	return out, err
}

type QueryPaymentsInput struct {
	Network        string
	CursorID       string
	IncludeHistory bool
}

// QueryPayments lists payments newest first with cursor-id pagination.
func (s *PaymentService) QueryPayments(in QueryPaymentsInput) ([]models.PaymentRequest, error) {
	query := utils.ApplyCursor(s.store.DB(), "payment_requests", in.CursorID).
		Preload("SmartContractWallet").
		Preload("BuyerWallet").
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

	var out []models.PaymentRequest
	err := query.Find(&out).Error
	return out, err
}

// warnOnPricingMismatch flags a payment whose declared payment type
// contradicts the agent's registered pricing, e.g. None on a Fixed-priced
// agent. The payment is still accepted; the meaning of the mismatch is
// undocumented upstream and left to operators.
func (s *PaymentService) warnOnPricingMismatch(sourceID uuid.UUID, agentIdentifier string, declared models.PaymentType) {
	var reg models.RegistryRequest
	err := s.store.DB().
		Where("payment_source_id = ? AND agent_identifier = ?", sourceID, agentIdentifier).
		First(&reg).Error
	if err != nil {
		// Unregistered agents are allowed; nothing to compare against.
		return
	}

	if expected := reg.PaymentTypeForPricing(); declared != expected {
		s.log.WithFields(logrus.Fields{
			"agent_identifier": agentIdentifier,
			"payment_type":     declared,
			"pricing_type":     reg.PricingType,
		}).Warn("Payment type does not match the agent's registered pricing")
	}
}

func (s *PaymentService) sourceForNetwork(network models.Network) (*models.PaymentSource, error) {
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
