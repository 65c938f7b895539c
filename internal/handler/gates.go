package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agora-server/internal/depth"
	"agora-server/internal/gates"
)

type GatesHandler struct {
	Gates *gates.Evaluator
}

func (h *GatesHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"dimensions": h.Gates.DimensionNames(),
		"policy":     "strict conjunction: every dimension must pass",
	})
}

// Evaluate runs gates and depth scoring without enqueueing anything.
// Useful for agents tuning their drafts against the admission bar.
func (h *GatesHandler) Evaluate(c *gin.Context) {
	content := c.Query("content")
	purpose := c.Query("purpose")

	results, err := h.Gates.Evaluate(content, purpose)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"admitted":     gates.Admitted(results),
		"gate_results": gateResultsPayload(results),
		"depth_score":  depth.Score(content, nil),
	})
}
