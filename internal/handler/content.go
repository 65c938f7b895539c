package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"agora-server/internal/depth"
	"agora-server/internal/gates"
	"agora-server/internal/hub"
	"agora-server/internal/identity"
	"agora-server/internal/middleware"
	"agora-server/internal/model"
	"agora-server/internal/moderation"
	"agora-server/internal/spam"
	"agora-server/internal/store"
)

// ContentHandler owns the submission pipeline: signature check, spam
// screen, gate evaluation, depth scoring, enqueue. Published reads come
// straight from the approved-only store.
type ContentHandler struct {
	Registry        *identity.Registry
	Queue           *moderation.Queue
	Store           *store.Store
	Gates           *gates.Evaluator
	Spam            *spam.Detector
	Hub             *hub.Hub
	SignatureMaxAge time.Duration

	Now func() time.Time
}

type submissionBody struct {
	Content   string `json:"content"`
	ParentID  int64  `json:"parent_id"`
	Signature string `json:"signature"`
	SignedAt  string `json:"signed_at"`
}

type voteBody struct {
	Vote int `json:"vote"`
}

func (h *ContentHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// checkSignature verifies a cryptographic-tier contribution signature and
// its freshness window. Lower tiers pass through.
func (h *ContentHandler) checkSignature(c *gin.Context, ctx model.AuthContext, body submissionBody, contentType model.ContentType, postID int64) bool {
	if !ctx.Tier.MustSign() {
		return true
	}

	if body.Signature == "" || body.SignedAt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature and signed_at are required for this tier"})
		return false
	}
	signedAt, err := time.Parse(time.RFC3339, body.SignedAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signed_at must be RFC 3339"})
		return false
	}
	maxAge := h.SignatureMaxAge
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	age := h.now().Sub(signedAt)
	if age > maxAge || age < -maxAge {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature timestamp outside the accepted window"})
		return false
	}

	ok, err := h.Registry.VerifyContributionSignature(ctx.Address, body.Content, body.SignedAt, contentType, postID, body.ParentID, body.Signature)
	if err != nil || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid contribution signature"})
		return false
	}
	return true
}

func gateResultsPayload(results []model.GateResult) []gin.H {
	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		out = append(out, gin.H{
			"name":      r.Name,
			"score":     r.Score,
			"threshold": r.Threshold,
			"passed":    r.Passed,
			"reason":    r.Reason,
		})
	}
	return out
}

func (h *ContentHandler) submit(c *gin.Context, contentType model.ContentType, postID int64) {
	ctx, ok := middleware.AuthFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var body submissionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if !h.checkSignature(c, ctx, body, contentType, postID) {
		return
	}

	if result := h.Spam.Check(body.Content, ctx.Address); result.IsSpam {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        "Content rejected by spam screen",
			"spam_score":   result.Score,
			"spam_reasons": result.Reasons,
		})
		return
	}

	results, err := h.Gates.Evaluate(body.Content, ctx.Telos)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	evidenceHash, err := gates.EvidenceHash(results)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Gate evaluation failed"})
		return
	}
	if !gates.Admitted(results) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        "Content did not pass the admission gates",
			"gate_results": gateResultsPayload(results),
		})
		return
	}

	depthScore := depth.Score(body.Content, nil)

	sub := h.Queue.Enqueue(model.Submission{
		ContentType:      contentType,
		Content:          body.Content,
		AuthorAddress:    ctx.Address,
		PostID:           postID,
		ParentID:         body.ParentID,
		GateResults:      results,
		GateEvidenceHash: evidenceHash,
		DepthScore:       depthScore.Composite,
		Signature:        body.Signature,
		SignedAt:         body.SignedAt,
	})
	h.Spam.Register(body.Content, ctx.Address)
	h.Hub.Publish(hub.Event{
		Type:    "submission.enqueued",
		QueueID: sub.QueueID,
		Actor:   ctx.Address,
		Data:    map[string]any{"content_type": string(contentType)},
	})

	c.JSON(http.StatusAccepted, gin.H{
		"queue_id":     sub.QueueID,
		"status":       string(sub.Status),
		"gate_results": gateResultsPayload(results),
		"depth_score":  depthScore,
	})
}

func (h *ContentHandler) CreatePost(c *gin.Context) {
	h.submit(c, model.ContentPost, 0)
}

func (h *ContentHandler) CreateComment(c *gin.Context) {
	postID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post id"})
		return
	}
	if _, ok := h.Store.GetPost(postID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	h.submit(c, model.ContentComment, postID)
}

func postPayload(p model.Post) gin.H {
	return gin.H{
		"id":                 p.ID,
		"content":            p.Content,
		"author_address":     p.AuthorAddress,
		"gate_evidence_hash": p.GateEvidenceHash,
		"karma":              p.Karma,
		"vote_count":         p.VoteCount,
		"comment_count":      p.CommentCount,
		"depth_score":        p.DepthScore,
		"created_at":         p.CreatedAt,
	}
}

func commentPayload(cm model.Comment) gin.H {
	return gin.H{
		"id":             cm.ID,
		"post_id":        cm.PostID,
		"parent_id":      cm.ParentID,
		"content":        cm.Content,
		"author_address": cm.AuthorAddress,
		"karma":          cm.Karma,
		"depth_score":    cm.DepthScore,
		"created_at":     cm.CreatedAt,
	}
}

func (h *ContentHandler) ListPosts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	posts := h.Store.ListPosts(limit, offset)
	payload := make([]gin.H, 0, len(posts))
	for _, p := range posts {
		payload = append(payload, postPayload(p))
	}
	c.JSON(http.StatusOK, gin.H{"posts": payload})
}

func (h *ContentHandler) GetPost(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post id"})
		return
	}
	post, ok := h.Store.GetPost(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	c.JSON(http.StatusOK, postPayload(post))
}

func (h *ContentHandler) ListComments(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post id"})
		return
	}
	comments, err := h.Store.ListComments(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	payload := make([]gin.H, 0, len(comments))
	for _, cm := range comments {
		payload = append(payload, commentPayload(cm))
	}
	c.JSON(http.StatusOK, gin.H{"comments": payload})
}

func (h *ContentHandler) Vote(c *gin.Context) {
	ctx, ok := middleware.AuthFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post id"})
		return
	}

	var body voteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	karma, err := h.Store.UpsertVote(ctx.Address, model.ContentPost, id, body.Vote)
	switch {
	case errors.Is(err, store.ErrInvalidVote):
		c.JSON(http.StatusBadRequest, gin.H{"error": "vote must be +1 or -1"})
		return
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Vote failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"karma": karma})
}
