package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agora-server/internal/hub"
	"agora-server/internal/identity"
	"agora-server/internal/middleware"
	"agora-server/internal/model"
	"agora-server/internal/moderation"
	"agora-server/internal/store"
	"agora-server/internal/witness"
)

type AdminHandler struct {
	Registry *identity.Registry
	Queue    *moderation.Queue
	Chain    *witness.Chain
	Hub      *hub.Hub
}

type decisionBody struct {
	Reason string `json:"reason"`
}

func submissionPayload(sub model.Submission) gin.H {
	return gin.H{
		"queue_id":       sub.QueueID,
		"content_type":   string(sub.ContentType),
		"content":        sub.Content,
		"author_address": sub.AuthorAddress,
		"status":         string(sub.Status),
		"reason":         sub.Reason,
		"gate_results":   gateResultsPayload(sub.GateResults),
		"depth_score":    sub.DepthScore,
		"created_at":     sub.CreatedAt,
		"reviewed_at":    sub.ReviewedAt,
		"reviewer":       sub.ReviewerAddress,
		"published_id":   sub.PublishedID,
	}
}

func (h *AdminHandler) ListQueue(c *gin.Context) {
	status := model.ModerationStatus(c.Query("status"))
	switch status {
	case "", model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusAppealed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status filter"})
		return
	}

	subs, counts := h.Queue.List(status)
	payload := make([]gin.H, 0, len(subs))
	for _, sub := range subs {
		payload = append(payload, submissionPayload(sub))
	}
	c.JSON(http.StatusOK, gin.H{
		"queue": payload,
		"counts": gin.H{
			"pending":  counts[model.StatusPending],
			"approved": counts[model.StatusApproved],
			"rejected": counts[model.StatusRejected],
			"appealed": counts[model.StatusAppealed],
		},
	})
}

func decisionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, moderation.ErrNotFound):
		return http.StatusNotFound, "Submission not found"
	case errors.Is(err, moderation.ErrInvalidTransition):
		return http.StatusConflict, "Transition not allowed from the current status"
	case errors.Is(err, moderation.ErrNotAuthor):
		return http.StatusForbidden, "Only the author may appeal"
	case errors.Is(err, moderation.ErrReasonRequired):
		return http.StatusBadRequest, "A reason is required"
	case errors.Is(err, witness.ErrChainIntegrityViolation):
		return http.StatusServiceUnavailable, "Witness chain integrity violation, decisions suspended"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Target post is not published"
	}
	return http.StatusInternalServerError, "Decision failed"
}

func (h *AdminHandler) decide(c *gin.Context, action string) {
	ctx, ok := middleware.AuthFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	queueID, err := strconv.ParseInt(c.Param("queue_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid queue id"})
		return
	}

	var body decisionBody
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var sub model.Submission
	switch action {
	case "approve":
		sub, err = h.Queue.Approve(queueID, ctx.Address, body.Reason)
	case "reject":
		sub, err = h.Queue.Reject(queueID, ctx.Address, body.Reason)
	case "appeal":
		sub, err = h.Queue.Appeal(queueID, ctx.Address, body.Reason)
	}
	if err != nil {
		code, message := decisionStatus(err)
		c.JSON(code, gin.H{"error": message})
		return
	}

	h.Hub.Publish(hub.Event{
		Type:    "submission." + string(sub.Status),
		QueueID: sub.QueueID,
		Actor:   ctx.Address,
		Data: map[string]any{
			"content_type": string(sub.ContentType),
			"reason":       body.Reason,
			"published_id": sub.PublishedID,
		},
	})
	c.JSON(http.StatusOK, submissionPayload(sub))
}

func (h *AdminHandler) Approve(c *gin.Context) { h.decide(c, "approve") }

func (h *AdminHandler) Reject(c *gin.Context) { h.decide(c, "reject") }

// Appeal is author-initiated; the queue enforces authorship, the route
// only requires an authenticated identity.
func (h *AdminHandler) Appeal(c *gin.Context) { h.decide(c, "appeal") }

// Ban is an administrative action outside the queue state machine. It is
// still witnessed, like every other admin action.
func (h *AdminHandler) Ban(c *gin.Context) {
	ctx, ok := middleware.AuthFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	address := c.Param("address")
	var body decisionBody
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if _, ok := h.Registry.GetAgent(address); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown address"})
		return
	}

	if _, err := h.Chain.Append(ctx.Address, "ban", address, map[string]any{
		"banned_address": address,
		"reason":         body.Reason,
	}); err != nil {
		code, message := decisionStatus(err)
		c.JSON(code, gin.H{"error": message})
		return
	}

	if err := h.Registry.Ban(address); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown address"})
		return
	}

	h.Hub.Publish(hub.Event{
		Type:  "agent.banned",
		Actor: ctx.Address,
		Data:  map[string]any{"address": address, "reason": body.Reason},
	})
	c.JSON(http.StatusOK, gin.H{"banned": address})
}
