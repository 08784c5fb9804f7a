// internal/handlers/purchase.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/masumi-network/payment-coordinator/internal/services"
	"github.com/masumi-network/payment-coordinator/internal/utils"
)

type PurchaseHandler struct {
	purchaseService *services.PurchaseService
}

func NewPurchaseHandler(purchaseService *services.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{
		purchaseService: purchaseService,
	}
}

// POST /api/v1/purchase
func (h *PurchaseHandler) CreatePurchase(c *gin.Context) {
	var req services.CreatePurchaseInput
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err.Error())
		return
	}

	purchase, err := h.purchaseService.CreatePurchase(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, purchase)
}

// POST /api/v1/purchase/request-refund
func (h *PurchaseHandler) RequestRefund(c *gin.Context) {
	var req services.PurchaseActionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err.Error())
		return
	}

	purchase, err := h.purchaseService.RequestRefund(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, purchase)
}

// POST /api/v1/purchase/cancel-refund-request
func (h *PurchaseHandler) CancelRefundRequest(c *gin.Context) {
	var req services.PurchaseActionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err.Error())
		return
	}

	purchase, err := h.purchaseService.CancelRefundRequest(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, purchase)
}

// GET /api/v1/purchase
func (h *PurchaseHandler) QueryPurchases(c *gin.Context) {
	purchases, err := h.purchaseService.QueryPurchases(services.QueryPurchasesInput{
		Network:        c.Query("network"),
		CursorID:       c.Query("cursorId"),
		IncludeHistory: c.Query("includeHistory") == "true",
	})
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	utils.SuccessResponse(c, http.StatusOK, gin.H{"purchases": purchases})
}
