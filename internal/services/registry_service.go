// internal/services/registry_service.go
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

// RegistryService manages the lifecycle of agent registrations: request the
// mint, request the burn, and clean up terminal records.
type RegistryService struct {
	store *repository.Store
	cfg   *config.Config
	log   *logrus.Entry
}

func NewRegistryService(store *repository.Store, cfg *config.Config) *RegistryService {
	return &RegistryService{
		store: store,
		cfg:   cfg,
		log:   logrus.WithField("service", "registry"),
	}
}

type RegisterAgentInput struct {
	Network     string `json:"network" validate:"required,oneof=Mainnet Preprod"`
	Name        string `json:"name" validate:"required,max=250"`
	Description string `json:"description" validate:"max=2000"`
	APIBaseURL  string `json:"apiBaseUrl" validate:"required,url,max=250"`

	CapabilityName    string `json:"capabilityName" validate:"max=250"`
	CapabilityVersion string `json:"capabilityVersion" validate:"max=64"`

	Author map[string]interface{} `json:"author" validate:"required"`
	Legal  map[string]interface{} `json:"legal"`

	Tags           []string `json:"tags" validate:"required,min=1,max=15,dive,max=63"`
	ExampleOutputs []string `json:"exampleOutputs" validate:"max=25"`

	PricingType string            `json:"pricingType" validate:"required,oneof=Fixed Free"`
	Pricing     []UnitAmountInput `json:"pricing" validate:"dive"`
}

// RegisterAgent records a mint request for the agent identity token. The
// dispatcher picks it up, derives the asset name from the first consumed
// UTXO and submits the mint.
func (s *RegistryService) RegisterAgent(ctx context.Context, in RegisterAgentInput) (*models.RegistryRequest, error) {
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, err
	}
	if in.PricingType == string(models.PricingTypeFixed) && len(in.Pricing) == 0 {
		return nil, fmt.Errorf("fixed pricing requires at least one pricing entry")
	}

	source, err := s.sourceForNetwork(models.Network(in.Network))
	if err != nil {
		return nil, err
	}
	wallet := walletByRole(source, models.WalletRoleSelling)
	if wallet == nil {
		return nil, fmt.Errorf("payment source has no selling wallet")
	}

	req := &models.RegistryRequest{
		PaymentSourceID:       source.ID,
		Name:                  in.Name,
		Description:           in.Description,
		APIBaseURL:            in.APIBaseURL,
		CapabilityName:        in.CapabilityName,
		CapabilityVersion:     in.CapabilityVersion,
		Author:                models.JSONB(in.Author),
		Legal:                 models.JSONB(in.Legal),
		Tags:                  models.StringList(in.Tags),
		ExampleOutputs:        models.StringList(in.ExampleOutputs),
		PricingType:           models.PricingType(in.PricingType),
		MetadataVersion:       1,
		State:                 models.RegistrationStateRequested,
		SmartContractWalletID: &wallet.ID,
	}

	err = s.store.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		for _, p := range in.Pricing {
			price := models.UnitValue{
				Unit:              p.Unit,
				Amount:            p.Amount,
				Category:          models.FundCategoryRequested,
				RegistryRequestID: &req.ID,
			}
			if err := tx.Create(&price).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"id": req.ID, "name": in.Name}).Info("Agent registration requested")
	return req, nil
}

type UnregisterAgentInput struct {
	Network         string `json:"network" validate:"required,oneof=Mainnet Preprod"`
	AgentIdentifier string `json:"agentIdentifier" validate:"required,min=57,max=120"`
}

// UnregisterAgent queues the burn of a confirmed registration.
func (s *RegistryService) UnregisterAgent(ctx context.Context, in UnregisterAgentInput) (*models.RegistryRequest, error) {
	if err := utils.ValidateStruct(&in); err != nil {
		return nil, err
	}

	source, err := s.sourceForNetwork(models.Network(in.Network))
	if err != nil {
		return nil, err
	}

	var out *models.RegistryRequest
	err = s.store.InTx(ctx, func(tx *gorm.DB) error {
		var req models.RegistryRequest
		err := tx.Preload("SmartContractWallet").
			Where("payment_source_id = ? AND agent_identifier = ?", source.ID, in.AgentIdentifier).
			First(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFoundRequest
		}
		if err != nil {
			return err
		}
		if req.State != models.RegistrationStateConfirmed {
			return ErrInvalidState
		}

		if err := tx.Model(&models.RegistryRequest{}).Where("id = ?", req.ID).
			Update("state", models.RegistrationStateDeregisterRequested).Error; err != nil {
			return err
		}
		req.State = models.RegistrationStateDeregisterRequested
		out = &req
		return nil
	})
	return out, err
}

// DeleteRegistration removes a terminal registry record. Only failed mints
// and confirmed burns can be deleted.
func (s *RegistryService) DeleteRegistration(ctx context.Context, id string) error {
	return s.store.InTx(ctx, func(tx *gorm.DB) error {
		var req models.RegistryRequest
		err := tx.Where("id = ?", id).First(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFoundRequest
		}
		if err != nil {
			return err
		}
		if req.State != models.RegistrationStateFailed && req.State != models.RegistrationStateDeregisterConfirmed {
			return ErrInvalidState
		}
		return tx.Delete(&req).Error
	})
}

type QueryRegistryInput struct {
	Network  string
	CursorID string
	State    string
}

// QueryRegistry lists registry requests newest first with cursor-id
// pagination, optionally filtered by state.
func (s *RegistryService) QueryRegistry(in QueryRegistryInput) ([]models.RegistryRequest, error) {
	query := utils.ApplyCursor(s.store.DB(), "registry_requests", in.CursorID).
		Preload("SmartContractWallet").
		Preload("Pricing").
		Preload("CurrentTransaction")
	if in.Network != "" {
		query = query.Where(
			"payment_source_id IN (SELECT id FROM payment_sources WHERE network = ?)",
			in.Network,
		)
	}
	if in.State != "" {
		query = query.Where("state = ?", in.State)
	}

	var out []models.RegistryRequest
	err := query.Find(&out).Error
	return out, err
}

func (s *RegistryService) sourceForNetwork(network models.Network) (*models.PaymentSource, error) {
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
