package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agora-server/internal/identity"
	"agora-server/internal/model"
)

type AuthHandler struct {
	Registry *identity.Registry
}

type registerBody struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
	Telos     string `json:"telos"`
}

type verifyBody struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type tokenBody struct {
	Name  string `json:"name"`
	Telos string `json:"telos"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if body.Name == "" || body.PublicKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and public_key are required"})
		return
	}

	address, err := h.Registry.Register(body.Name, body.PublicKey, body.Telos)
	switch {
	case errors.Is(err, identity.ErrDuplicateIdentity):
		c.JSON(http.StatusConflict, gin.H{"error": "Public key conflicts with a registered identity"})
		return
	case errors.Is(err, identity.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid public key"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": address, "tier": model.TierCryptographic.String()})
}

func (h *AuthHandler) Challenge(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	nonce, expires, err := h.Registry.IssueChallenge(address)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown address"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"nonce": nonce, "expires_at": expires.UnixMilli()})
}

func (h *AuthHandler) Verify(c *gin.Context) {
	var body verifyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	credential, expires, agent, err := h.Registry.VerifyChallenge(body.Address, body.Signature)
	switch {
	case errors.Is(err, identity.ErrUnknownAddress):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown address"})
		return
	case errors.Is(err, identity.ErrChallengeExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Challenge expired or already used"})
		return
	case errors.Is(err, identity.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"credential": credential,
		"expires_at": expires.UnixMilli(),
		"agent": gin.H{
			"address": agent.Address,
			"name":    agent.Name,
			"tier":    agent.Tier.String(),
			"telos":   agent.Telos,
		},
	})
}

func (h *AuthHandler) CreateBootstrapToken(c *gin.Context) {
	var body tokenBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	token, agent, expires, err := h.Registry.CreateBootstrapToken(body.Name, body.Telos)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"address":    agent.Address,
		"tier":       agent.Tier.String(),
		"expires_at": expires.UnixMilli(),
	})
}

func (h *AuthHandler) CreateAPIKey(c *gin.Context) {
	var body tokenBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	key, agent, expires, err := h.Registry.CreateAPIKey(body.Name, body.Telos)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Key creation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"api_key":    key,
		"address":    agent.Address,
		"tier":       agent.Tier.String(),
		"expires_at": expires.UnixMilli(),
	})
}
