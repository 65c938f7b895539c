package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agora-server/internal/witness"
)

type WitnessHandler struct {
	Chain *witness.Chain
}

// List serves the ledger. Ascending order is what client-side chain
// verification wants; descending is the default for browsing.
func (h *WitnessHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	ascending := c.Query("order") == "asc"

	entries := h.Chain.List(limit, offset, ascending)
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": h.Chain.Len()})
}

func (h *WitnessHandler) Verify(c *gin.Context) {
	ok, breakAt := h.Chain.Verify()
	payload := gin.H{"valid": ok}
	if ok {
		payload["break_at"] = nil
	} else {
		payload["break_at"] = breakAt
	}
	c.JSON(http.StatusOK, payload)
}
