package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"

	"agora-server/internal/canon"
)

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// VerifySignature checks an ed25519 signature over an arbitrary message.
// All three inputs are hex-encoded.
func VerifySignature(publicKeyHex, messageHex, signatureHex string) bool {
	return VerifySignatureDetailed(publicKeyHex, messageHex, signatureHex) == nil
}

func VerifySignatureDetailed(publicKeyHex, messageHex, signatureHex string) error {
	publicKey, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}

	message, err := hex.DecodeString(messageHex)
	if err != nil || len(message) == 0 {
		return ErrInvalidSignature
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// ContributionMessage builds the canonical signing message for a contribution.
// Signer and verifier must produce byte-identical output, so the field set and
// the canonical JSON form are fixed; any change here breaks all signing.
func ContributionMessage(agentAddress, content, signedAt string, contentType string, postID, parentID int64) ([]byte, error) {
	payload := map[string]any{
		"agent_address": agentAddress,
		"content":       content,
		"content_type":  contentType,
		"signed_at":     signedAt,
	}
	// Zero IDs canonicalize to null so top-level posts and comments share
	// one message shape.
	if postID != 0 {
		payload["post_id"] = postID
	} else {
		payload["post_id"] = nil
	}
	if parentID != 0 {
		payload["parent_id"] = parentID
	} else {
		payload["parent_id"] = nil
	}
	return canon.Marshal(payload)
}

// VerifyContribution verifies a hex signature over the canonical contribution
// message against a stored hex public key.
func VerifyContribution(publicKeyHex string, message []byte, signatureHex string) bool {
	publicKey, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}
