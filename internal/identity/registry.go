package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"agora-server/internal/auth"
	"agora-server/internal/model"
)

var (
	ErrUnknownAddress    = errors.New("unknown address")
	ErrDuplicateIdentity = errors.New("public key conflicts with registered identity")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrChallengeExpired  = errors.New("challenge expired or already used")
	ErrInsufficientTier  = errors.New("insufficient tier")
	ErrNotAllowlisted    = errors.New("address not allowlisted for administration")
	ErrInvalidCredential = errors.New("invalid or expired credential")
)

const (
	bootstrapTokenPrefix = "agr_t_"
	apiKeyPrefix         = "agr_k_"

	addressHexLen  = 16
	derivedAddrLen = 14
)

type challenge struct {
	NonceHex  string
	ExpiresAt time.Time
}

type secretRecord struct {
	Address   string
	ExpiresAt time.Time
}

type Options struct {
	ChallengeTTL   time.Duration
	TokenTTL       time.Duration
	APIKeyTTL      time.Duration
	TokenConfig    auth.TokenConfig
	AdminAllowlist []string
	Now            func() time.Time
}

// Registry maps credentials across the three trust tiers onto stable agent
// addresses. All state is guarded by a single mutex; challenge issue/consume
// and registration are therefore atomic per call.
type Registry struct {
	mu sync.RWMutex

	agentsByAddress  map[string]model.Agent
	challengesByAddr map[string]challenge
	bootstrapByToken map[string]secretRecord
	apiKeysByHash    map[string]secretRecord
	allowlist        map[string]struct{}

	challengeTTL time.Duration
	tokenTTL     time.Duration
	apiKeyTTL    time.Duration
	tokenCfg     auth.TokenConfig
	now          func() time.Time
}

func NewRegistry(opts Options) *Registry {
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 5 * time.Minute
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.APIKeyTTL <= 0 {
		opts.APIKeyTTL = 90 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	allow := make(map[string]struct{}, len(opts.AdminAllowlist))
	for _, a := range opts.AdminAllowlist {
		if a != "" {
			allow[a] = struct{}{}
		}
	}

	return &Registry{
		agentsByAddress:  make(map[string]model.Agent),
		challengesByAddr: make(map[string]challenge),
		bootstrapByToken: make(map[string]secretRecord),
		apiKeysByHash:    make(map[string]secretRecord),
		allowlist:        allow,
		challengeTTL:     opts.ChallengeTTL,
		tokenTTL:         opts.TokenTTL,
		apiKeyTTL:        opts.APIKeyTTL,
		tokenCfg:         opts.TokenConfig,
		now:              opts.Now,
	}
}

// DeriveAddress computes the stable address for an ed25519 public key.
func DeriveAddress(publicKeyHex string) string {
	sum := sha256.Sum256([]byte(publicKeyHex))
	return hex.EncodeToString(sum[:])[:addressHexLen]
}

// Register adds a cryptographic-tier agent. Registering the same key twice
// returns the same address without creating a second record; a different key
// colliding on the derived address is rejected.
func (r *Registry) Register(name, publicKeyHex, telos string) (string, error) {
	if publicKeyHex == "" {
		return "", ErrInvalidSignature
	}
	if raw, err := hex.DecodeString(publicKeyHex); err != nil || len(raw) != 32 {
		return "", ErrInvalidSignature
	}

	address := DeriveAddress(publicKeyHex)
	nowMillis := r.now().UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.agentsByAddress[address]; ok {
		if existing.PublicKey != publicKeyHex {
			return "", ErrDuplicateIdentity
		}
		return address, nil
	}

	r.agentsByAddress[address] = model.Agent{
		Address:   address,
		Name:      name,
		Tier:      model.TierCryptographic,
		PublicKey: publicKeyHex,
		Telos:     telos,
		CreatedAt: nowMillis,
	}
	return address, nil
}

// IssueChallenge creates a single-use nonce bound to the address. Any prior
// unconsumed challenge for the address is overwritten.
func (r *Registry) IssueChallenge(address string) (string, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agentsByAddress[address]
	if !ok || agent.Banned || agent.Tier != model.TierCryptographic {
		return "", time.Time{}, ErrUnknownAddress
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, err
	}
	expires := r.now().Add(r.challengeTTL)
	r.challengesByAddr[address] = challenge{
		NonceHex:  hex.EncodeToString(nonce),
		ExpiresAt: expires,
	}
	return r.challengesByAddr[address].NonceHex, expires, nil
}

// VerifyChallenge checks the signature over the pending challenge, consumes
// the challenge, and issues a time-boxed bearer credential.
func (r *Registry) VerifyChallenge(address, signatureHex string) (string, time.Time, model.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agentsByAddress[address]
	if !ok || agent.Banned {
		return "", time.Time{}, model.Agent{}, ErrUnknownAddress
	}

	ch, ok := r.challengesByAddr[address]
	if !ok {
		return "", time.Time{}, model.Agent{}, ErrChallengeExpired
	}
	if r.now().After(ch.ExpiresAt) {
		delete(r.challengesByAddr, address)
		return "", time.Time{}, model.Agent{}, ErrChallengeExpired
	}

	if !auth.VerifySignature(agent.PublicKey, ch.NonceHex, signatureHex) {
		return "", time.Time{}, model.Agent{}, ErrInvalidSignature
	}

	// Single use: consumed on success regardless of what follows.
	delete(r.challengesByAddr, address)

	agent.LastSeen = r.now().UnixMilli()
	r.agentsByAddress[address] = agent

	token, err := auth.CreateToken(address, agent.Name, r.tokenCfg)
	if err != nil {
		return "", time.Time{}, model.Agent{}, err
	}
	return token, r.now().Add(r.tokenCfg.Expiry), agent, nil
}

// CreateBootstrapToken issues a tier-1 bearer token. No cryptography required;
// the address is derived from the token itself.
func (r *Registry) CreateBootstrapToken(name, telos string) (string, model.Agent, time.Time, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", model.Agent{}, time.Time{}, err
	}
	token := bootstrapTokenPrefix + hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	address := "t_" + hex.EncodeToString(sum[:])[:derivedAddrLen]

	now := r.now()
	expires := now.Add(r.tokenTTL)
	agent := model.Agent{
		Address:   address,
		Name:      name,
		Tier:      model.TierBootstrap,
		Telos:     telos,
		CreatedAt: now.UnixMilli(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentsByAddress[address] = agent
	r.bootstrapByToken[token] = secretRecord{Address: address, ExpiresAt: expires}
	return token, agent, expires, nil
}

// CreateAPIKey issues a tier-2 key. Only the key's hash is retained.
func (r *Registry) CreateAPIKey(name, telos string) (string, model.Agent, time.Time, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", model.Agent{}, time.Time{}, err
	}
	key := apiKeyPrefix + hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(sum[:])
	address := "k_" + keyHash[:derivedAddrLen]

	now := r.now()
	expires := now.Add(r.apiKeyTTL)
	agent := model.Agent{
		Address:   address,
		Name:      name,
		Tier:      model.TierAPIKey,
		Telos:     telos,
		CreatedAt: now.UnixMilli(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentsByAddress[address] = agent
	r.apiKeysByHash[keyHash] = secretRecord{Address: address, ExpiresAt: expires}
	return key, agent, expires, nil
}

// VerifyBootstrapToken resolves a tier-1 token to its agent.
func (r *Registry) VerifyBootstrapToken(token string) (model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.bootstrapByToken[token]
	if !ok || r.now().After(rec.ExpiresAt) {
		return model.Agent{}, ErrInvalidCredential
	}
	agent, ok := r.agentsByAddress[rec.Address]
	if !ok || agent.Banned {
		return model.Agent{}, ErrInvalidCredential
	}
	return agent, nil
}

// VerifyAPIKey resolves a tier-2 key to its agent.
func (r *Registry) VerifyAPIKey(key string) (model.Agent, error) {
	sum := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(sum[:])

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.apiKeysByHash[keyHash]
	if !ok || r.now().After(rec.ExpiresAt) {
		return model.Agent{}, ErrInvalidCredential
	}
	agent, ok := r.agentsByAddress[rec.Address]
	if !ok || agent.Banned {
		return model.Agent{}, ErrInvalidCredential
	}
	return agent, nil
}

// VerifyCredentialToken resolves a tier-3 JWT to its agent.
func (r *Registry) VerifyCredentialToken(tokenString string) (model.Agent, error) {
	claims, err := auth.VerifyToken(tokenString, r.tokenCfg)
	if err != nil {
		return model.Agent{}, ErrInvalidCredential
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agentsByAddress[claims.Address]
	if !ok || agent.Banned {
		return model.Agent{}, ErrInvalidCredential
	}
	return agent, nil
}

// IsBootstrapToken reports whether a bearer value should be dispatched to the
// bootstrap tier. This is the single place credential prefixes are inspected.
func IsBootstrapToken(token string) bool {
	return len(token) > len(bootstrapTokenPrefix) && token[:len(bootstrapTokenPrefix)] == bootstrapTokenPrefix
}

func (r *Registry) GetAgent(address string) (model.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agentsByAddress[address]
	if !ok || agent.Banned {
		return model.Agent{}, false
	}
	return agent, true
}

// Authorize checks the tier ceiling for an already-resolved identity.
func (r *Registry) Authorize(ctx model.AuthContext, required model.Tier) error {
	if ctx.Tier < required {
		return ErrInsufficientTier
	}
	return nil
}

// AuthorizeAdmin additionally requires the address to be allow-listed.
func (r *Registry) AuthorizeAdmin(ctx model.AuthContext) error {
	if !ctx.Tier.CanAdminister() {
		return ErrInsufficientTier
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.allowlist) > 0 {
		if _, ok := r.allowlist[ctx.Address]; !ok {
			return ErrNotAllowlisted
		}
	}
	return nil
}

// VerifyContributionSignature reconstructs the canonical contribution message
// and verifies it against the agent's stored public key.
func (r *Registry) VerifyContributionSignature(address, content, signedAt string, contentType model.ContentType, postID, parentID int64, signatureHex string) (bool, error) {
	r.mu.RLock()
	agent, ok := r.agentsByAddress[address]
	r.mu.RUnlock()

	if !ok || agent.Banned || agent.PublicKey == "" {
		return false, ErrUnknownAddress
	}

	message, err := auth.ContributionMessage(address, content, signedAt, string(contentType), postID, parentID)
	if err != nil {
		return false, err
	}
	return auth.VerifyContribution(agent.PublicKey, message, signatureHex), nil
}

// Ban marks an agent banned. Banned agents fail credential resolution and
// challenge issuance.
func (r *Registry) Ban(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agentsByAddress[address]
	if !ok {
		return ErrUnknownAddress
	}
	agent.Banned = true
	r.agentsByAddress[address] = agent
	delete(r.challengesByAddr, address)
	return nil
}
