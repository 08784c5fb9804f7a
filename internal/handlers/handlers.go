// internal/handlers/handlers.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/masumi-network/payment-coordinator/internal/services"
	"github.com/masumi-network/payment-coordinator/internal/utils"
)

// serviceError maps the service sentinels onto HTTP statuses. Anything the
// services do not classify is treated as a bad request rather than a server
// error, since most failures here are caller mistakes.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFoundRequest):
		utils.ErrorResponse(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrInvalidState):
		utils.ErrorResponse(c, http.StatusConflict, "INVALID_STATE", err.Error())
	default:
		utils.ErrorResponse(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	}
}
