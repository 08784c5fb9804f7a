// internal/router/router_test.go
package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/masumi-network/payment-coordinator/internal/config"
	"github.com/masumi-network/payment-coordinator/internal/models"
	"github.com/masumi-network/payment-coordinator/internal/repository"
)

const testAdminKey = "test-admin-key"

type RouterTestSuite struct {
	suite.Suite
	db     *gorm.DB
	router *gin.Engine
}

func (suite *RouterTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	suite.Require().NoError(err)
	suite.Require().NoError(db.AutoMigrate(
		&models.PaymentSource{},
		&models.PaymentSourceIdentifier{},
		&models.HotWallet{},
		&models.WalletBase{},
		&models.Transaction{},
		&models.UnitValue{},
		&models.PaymentRequest{},
		&models.PurchaseRequest{},
		&models.RegistryRequest{},
	))
	suite.db = db

	source := &models.PaymentSource{
		Network:              models.NetworkPreprod,
		SmartContractAddress: "addr_test1script",
		PolicyID:             strings.Repeat("0", 56),
	}
	suite.Require().NoError(db.Create(source).Error)
	for _, role := range []models.WalletRole{models.WalletRoleSelling, models.WalletRolePurchasing, models.WalletRoleFeeReceiver} {
		suite.Require().NoError(db.Create(&models.HotWallet{
			PaymentSourceID: source.ID,
			Role:            role,
			Vkey:            strings.Repeat("ab", 28),
			Address:         "addr_test1" + strings.ToLower(string(role)),
		}).Error)
	}

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{RateLimitPerSec: 100, RateLimitBurst: 100},
		Auth:        config.AuthConfig{AdminKey: testAdminKey},
		Engine:      config.EngineConfig{MinCollateralLovelace: 5_000_000},
	}
	suite.router = Initialize(repository.NewUnserialized(db), cfg)
}

func (suite *RouterTestSuite) request(method, path string, payload interface{}) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		suite.Require().NoError(err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, body)
	suite.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", testAdminKey)

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *RouterTestSuite) TestHealthIsOpen() {
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
}

func (suite *RouterTestSuite) TestAPIRequiresToken() {
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/payment", nil)
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
}

func validPaymentBody() map[string]interface{} {
	return map[string]interface{}{
		"network":                   "Preprod",
		"agentIdentifier":           strings.Repeat("0", 56) + strings.Repeat("a", 64),
		"paymentType":               "Web3CardanoV1",
		"payByTime":                 1700000000000,
		"submitResultTime":          1700000600000,
		"unlockTime":                1700001200000,
		"externalDisputeUnlockTime": 1700001800000,
		"identifierFromPurchaser":   "abcdef12345678",
		"inputHash":                 strings.Repeat("ab", 32),
		"collateralReturnLovelace":  5000000,
		"requestedFunds": []map[string]interface{}{
			{"unit": "", "amount": 10000000},
		},
	}
}

func (suite *RouterTestSuite) TestCreatePayment() {
	w := suite.request(http.MethodPost, "/api/v1/payment", validPaymentBody())
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			BlockchainIdentifier string `json:"blockchain_identifier"`
			NextAction           string `json:"next_action"`
		} `json:"data"`
	}
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(suite.T(), resp.Success)
	assert.True(suite.T(), strings.HasSuffix(resp.Data.BlockchainIdentifier, "abcdef12345678"))
	assert.Equal(suite.T(), string(models.PaymentActionWaitingForExternal), resp.Data.NextAction)

	// The request is listed afterwards.
	w = suite.request(http.MethodGet, "/api/v1/payment?network=Preprod", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	assert.Contains(suite.T(), w.Body.String(), resp.Data.BlockchainIdentifier)
}

func (suite *RouterTestSuite) TestCreatePaymentValidation() {
	body := validPaymentBody()
	body["inputHash"] = "too-short"
	w := suite.request(http.MethodPost, "/api/v1/payment", body)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	body = validPaymentBody()
	body["unlockTime"] = 1 // violates the time ordering
	w = suite.request(http.MethodPost, "/api/v1/payment", body)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	body = validPaymentBody()
	body["collateralReturnLovelace"] = 100 // below the minimum, not zero
	w = suite.request(http.MethodPost, "/api/v1/payment", body)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *RouterTestSuite) TestCreatePurchase() {
	body := map[string]interface{}{
		"network":                   "Preprod",
		"blockchainIdentifier":      strings.Repeat("a", 40) + "abcdef12345678",
		"sellerVkey":                strings.Repeat("cd", 28),
		"sellerAddress":             "addr_test1seller",
		"agentIdentifier":           strings.Repeat("0", 56) + strings.Repeat("a", 64),
		"paymentType":               "Web3CardanoV1",
		"payByTime":                 1700000000000,
		"submitResultTime":          1700000600000,
		"unlockTime":                1700001200000,
		"externalDisputeUnlockTime": 1700001800000,
		"identifierFromPurchaser":   "abcdef12345678",
		"inputHash":                 strings.Repeat("ab", 32),
		"collateralReturnLovelace":  5000000,
		"requestedFunds": []map[string]interface{}{
			{"unit": "", "amount": 10000000},
		},
	}

	w := suite.request(http.MethodPost, "/api/v1/purchase", body)
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			NextAction string `json:"next_action"`
		} `json:"data"`
	}
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(suite.T(), string(models.PurchasingActionFundsLockingRequested), resp.Data.NextAction)

	// The identifier must end in the purchaser part.
	body["blockchainIdentifier"] = strings.Repeat("a", 54)
	w = suite.request(http.MethodPost, "/api/v1/purchase", body)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *RouterTestSuite) TestSubmitResultRequiresKnownPayment() {
	w := suite.request(http.MethodPost, "/api/v1/payment/submit-result", map[string]interface{}{
		"network":              "Preprod",
		"blockchainIdentifier": "does-not-exist",
		"submitResultHash":     strings.Repeat("ab", 32),
	})
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func (suite *RouterTestSuite) TestRegistryLifecycleValidation() {
	body := map[string]interface{}{
		"network":     "Preprod",
		"name":        "Example Agent",
		"apiBaseUrl":  "https://agent.example.com",
		"author":      map[string]interface{}{"name": "Example"},
		"tags":        []string{"example"},
		"pricingType": "Fixed",
		"pricing": []map[string]interface{}{
			{"unit": "", "amount": 2000000},
		},
	}

	w := suite.request(http.MethodPost, "/api/v1/registry", body)
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"data"`
	}
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(suite.T(), string(models.RegistrationStateRequested), resp.Data.State)

	// A requested registration is not deletable.
	w = suite.request(http.MethodDelete, "/api/v1/registry/"+resp.Data.ID, nil)
	assert.Equal(suite.T(), http.StatusConflict, w.Code)

	// Fixed pricing without amounts is rejected.
	body["pricing"] = []map[string]interface{}{}
	w = suite.request(http.MethodPost, "/api/v1/registry", body)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
