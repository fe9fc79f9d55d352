package api

import (
	"net/http"

	"whatsapp-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// WalletHandler exposes the balance and the ledger.
type WalletHandler struct {
	svc *wallet.Service
}

func NewWalletHandler(svc *wallet.Service) *WalletHandler {
	return &WalletHandler{svc: svc}
}

// Balance returns the tenant's current prepaid balance.
func (h *WalletHandler) Balance(c *gin.Context) {
	balance, err := h.svc.Balance(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// Entries lists the tenant's ledger, newest first.
func (h *WalletHandler) Entries(c *gin.Context) {
	entries, err := h.svc.Entries(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}
