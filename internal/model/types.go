package model

// Tier is an authentication strength level. Capabilities are decided here,
// once, rather than by parsing credential prefixes at call sites.
type Tier int

const (
	TierBootstrap Tier = iota
	TierAPIKey
	TierCryptographic
)

func (t Tier) String() string {
	switch t {
	case TierBootstrap:
		return "bootstrap"
	case TierAPIKey:
		return "api_key"
	case TierCryptographic:
		return "ed25519"
	}
	return "unknown"
}

func (t Tier) CanVote() bool { return t >= TierAPIKey }

func (t Tier) CanAdminister() bool { return t == TierCryptographic }

// MustSign reports whether contributions from this tier require an
// ed25519 signature over the canonical contribution message.
func (t Tier) MustSign() bool { return t == TierCryptographic }

type Agent struct {
	Address   string
	Name      string
	Tier      Tier
	PublicKey string // hex-encoded ed25519 key; cryptographic tier only
	Telos     string
	CreatedAt int64
	LastSeen  int64
	Banned    bool
}

// AuthContext is the resolved identity attached to a request after
// credential verification.
type AuthContext struct {
	Address string
	Name    string
	Tier    Tier
	Telos   string
}

type ContentType string

const (
	ContentPost    ContentType = "post"
	ContentComment ContentType = "comment"
)

type ModerationStatus string

const (
	StatusPending  ModerationStatus = "pending"
	StatusApproved ModerationStatus = "approved"
	StatusRejected ModerationStatus = "rejected"
	StatusAppealed ModerationStatus = "appealed"
)

// GateResult is the outcome of one policy dimension for one piece of content.
type GateResult struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
	Reason    string  `json:"reason"`
}

type DepthScore struct {
	Composite  float64            `json:"composite"`
	Dimensions map[string]float64 `json:"dimensions"`
}

type Submission struct {
	QueueID          int64
	ContentType      ContentType
	Content          string
	AuthorAddress    string
	PostID           int64 // comments only: the post being commented on
	ParentID         int64 // comments only: optional parent comment
	GateResults      []GateResult
	GateEvidenceHash string
	DepthScore       float64
	Status           ModerationStatus
	Reason           string
	Signature        string
	SignedAt         string
	CreatedAt        int64
	ReviewedAt       int64
	ReviewerAddress  string
	PublishedID      int64 // assigned on approval, immutable afterwards
}

type Post struct {
	ID               int64
	Content          string
	AuthorAddress    string
	GateEvidenceHash string
	Karma            int
	VoteCount        int
	CommentCount     int
	DepthScore       float64
	Signature        string
	SignedAt         string
	CreatedAt        int64
}

type Comment struct {
	ID               int64
	PostID           int64
	ParentID         int64
	Content          string
	AuthorAddress    string
	GateEvidenceHash string
	Karma            int
	VoteCount        int
	DepthScore       float64
	Signature        string
	SignedAt         string
	CreatedAt        int64
}

// WitnessEntry is one link of the hash-chained decision ledger.
type WitnessEntry struct {
	EntryID      int64  `json:"entry_id"`
	Timestamp    string `json:"timestamp"`
	ActorAddress string `json:"actor_address"`
	Action       string `json:"action"`
	ContentID    string `json:"content_id,omitempty"`
	PayloadHash  string `json:"payload_hash"`
	PrevHash     string `json:"prev_hash"`
	EntryHash    string `json:"entry_hash"`
}
