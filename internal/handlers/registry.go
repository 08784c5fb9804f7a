// internal/handlers/registry.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/masumi-network/payment-coordinator/internal/services"
	"github.com/masumi-network/payment-coordinator/internal/utils"
)

type RegistryHandler struct {
	registryService *services.RegistryService
}

func NewRegistryHandler(registryService *services.RegistryService) *RegistryHandler {
	return &RegistryHandler{
		registryService: registryService,
	}
}

// POST /api/v1/registry
func (h *RegistryHandler) RegisterAgent(c *gin.Context) {
	var req services.RegisterAgentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err.Error())
		return
	}

	registration, err := h.registryService.RegisterAgent(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, registration)
}

// POST /api/v1/registry/deregister
func (h *RegistryHandler) UnregisterAgent(c *gin.Context) {
	var req services.UnregisterAgentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err.Error())
		return
	}

	registration, err := h.registryService.UnregisterAgent(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, registration)
}

// DELETE /api/v1/registry/:id
func (h *RegistryHandler) DeleteRegistration(c *gin.Context) {
	if err := h.registryService.DeleteRegistration(c.Request.Context(), c.Param("id")); err != nil {
		serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/v1/registry
func (h *RegistryHandler) QueryRegistry(c *gin.Context) {
	registrations, err := h.registryService.QueryRegistry(services.QueryRegistryInput{
		Network:  c.Query("network"),
		CursorID: c.Query("cursorId"),
		State:    c.Query("state"),
	})
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	utils.SuccessResponse(c, http.StatusOK, gin.H{"registrations": registrations})
}
