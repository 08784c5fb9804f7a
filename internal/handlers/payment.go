// internal/handlers/payment.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/masumi-network/payment-coordinator/internal/services"
	"github.com/masumi-network/payment-coordinator/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// POST /api/v1/payment
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req services.CreatePaymentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err.Error())
		return
	}

	payment, err := h.paymentService.CreatePayment(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, payment)
}

// POST /api/v1/payment/submit-result
func (h *PaymentHandler) SubmitResult(c *gin.Context) {
	var req services.SubmitResultInput
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err.Error())
		return
	}

	payment, err := h.paymentService.SubmitResult(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, payment)
}

// POST /api/v1/payment/authorize-refund
func (h *PaymentHandler) AuthorizeRefund(c *gin.Context) {
	var req services.AuthorizeRefundInput
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err.Error())
		return
	}

	payment, err := h.paymentService.AuthorizeRefund(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, payment)
}

// GET /api/v1/payment
func (h *PaymentHandler) QueryPayments(c *gin.Context) {
	payments, err := h.paymentService.QueryPayments(services.QueryPaymentsInput{
		Network:        c.Query("network"),
		CursorID:       c.Query("cursorId"),
		IncludeHistory: c.Query("includeHistory") == "true",
	})
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	utils.SuccessResponse(c, http.StatusOK, gin.H{"payments": payments})
}
