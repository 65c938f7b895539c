package server

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"agora-server/internal/auth"
	"agora-server/internal/config"
	"agora-server/internal/gates"
	"agora-server/internal/hub"
	"agora-server/internal/identity"
	"agora-server/internal/moderation"
	"agora-server/internal/spam"
	"agora-server/internal/store"
	"agora-server/internal/witness"
)

// Passes all three gates: structure + reasoning markers, a code block
// and a link, and no declared telos to align against.
const admissibleContent = "## Findings\n\n" +
	"The evidence suggests deeper layers converge, therefore we re-ran the probe suite across checkpoints.\n\n" +
	"```python\nprint('probe')\n```\n\n" +
	"See https://example.com/runs for the dataset."

const admissibleContentAlt = "## Ablation Notes\n\n" +
	"Removing the residual path degrades recall sharply, because the shortcut carries most of the signal, thus depth alone cannot compensate.\n\n" +
	"```go\nfmt.Println(\"ablation\")\n```\n\n" +
	"Raw numbers live at https://example.com/ablations in the appendix table."

type testEnv struct {
	router       *gin.Engine
	registry     *identity.Registry
	chain        *witness.Chain
	adminToken   string
	adminAddress string
	adminPriv    ed25519.PrivateKey
	adminPubHex  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pubHex := hex.EncodeToString(pub)
	adminAddress := identity.DeriveAddress(pubHex)

	tokenCfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	registry := identity.NewRegistry(identity.Options{
		TokenConfig:    tokenCfg,
		AdminAllowlist: []string{adminAddress},
	})
	chain := witness.New()
	published := store.New()

	cfg := config.Config{
		Port:              3000,
		MasterSecret:      "secret",
		SignatureMaxAge:   15 * time.Minute,
		PostsPerHour:      100,
		CommentsPerHour:   100,
		RequestsPerMinute: 10000,
	}

	env := &testEnv{
		registry:     registry,
		chain:        chain,
		adminAddress: adminAddress,
		adminPriv:    priv,
		adminPubHex:  pubHex,
	}
	env.router = NewRouter(Deps{
		Config:   cfg,
		Registry: registry,
		Queue:    moderation.New(chain, published),
		Store:    published,
		Chain:    chain,
		Gates:    gates.NewEvaluator(gates.DefaultThresholds()),
		Spam:     spam.New(),
		Hub:      hub.New(),
	})

	env.adminToken = env.credentialFor(t, pubHex, priv, "lead-reviewer")
	return env
}

// credentialFor walks the full cryptographic-tier flow over HTTP:
// register, challenge, sign, verify.
func (e *testEnv) credentialFor(t *testing.T, pubHex string, priv ed25519.PrivateKey, name string) string {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/auth/register", map[string]any{
		"name": name, "public_key": pubHex,
	}, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("register: %d: %s", resp.Code, resp.Body.String())
	}
	address := jsonField(t, resp, "address").(string)

	resp = e.do(t, http.MethodGet, "/auth/challenge?address="+address, nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("challenge: %d: %s", resp.Code, resp.Body.String())
	}
	nonceHex := jsonField(t, resp, "nonce").(string)
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		t.Fatalf("decode nonce: %v", err)
	}
	signature := hex.EncodeToString(ed25519.Sign(priv, nonce))

	resp = e.do(t, http.MethodPost, "/auth/verify", map[string]any{
		"address": address, "signature": signature,
	}, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("verify: %d: %s", resp.Code, resp.Body.String())
	}
	return jsonField(t, resp, "credential").(string)
}

func (e *testEnv) bootstrapToken(t *testing.T, name string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/token", map[string]any{"name": name}, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("bootstrap token: %d: %s", resp.Code, resp.Body.String())
	}
	return jsonField(t, resp, "token").(string)
}

func (e *testEnv) apiKey(t *testing.T, name string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/apikey", map[string]any{"name": name}, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("api key: %d: %s", resp.Code, resp.Body.String())
	}
	return jsonField(t, resp, "api_key").(string)
}

func (e *testEnv) do(t *testing.T, method, path string, body map[string]any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func jsonField(t *testing.T, resp *httptest.ResponseRecorder, field string) any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v: %s", err, resp.Body.String())
	}
	value, ok := payload[field]
	if !ok {
		t.Fatalf("field %q missing in %s", field, resp.Body.String())
	}
	return value
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestSubmissionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrapToken(t, "probe")

	resp := env.do(t, http.MethodPost, "/posts", map[string]any{"content": admissibleContent}, bearer(token))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("submit: %d: %s", resp.Code, resp.Body.String())
	}
	if status := jsonField(t, resp, "status").(string); status != "pending" {
		t.Fatalf("status = %q", status)
	}
	queueID := jsonField(t, resp, "queue_id").(float64)

	// Nothing is public before review.
	resp = env.do(t, http.MethodGet, "/posts", nil, nil)
	if posts := jsonField(t, resp, "posts").([]any); len(posts) != 0 {
		t.Fatalf("unapproved content leaked: %v", posts)
	}

	resp = env.do(t, http.MethodPost, "/admin/approve/1", map[string]any{"reason": "meets bar"}, bearer(env.adminToken))
	if resp.Code != http.StatusOK {
		t.Fatalf("approve: %d: %s", resp.Code, resp.Body.String())
	}
	if status := jsonField(t, resp, "status").(string); status != "approved" {
		t.Fatalf("status = %q", status)
	}

	resp = env.do(t, http.MethodGet, "/posts", nil, nil)
	posts := jsonField(t, resp, "posts").([]any)
	if len(posts) != 1 {
		t.Fatalf("posts = %v", posts)
	}

	// Double approve is a conflict, not a no-op.
	resp = env.do(t, http.MethodPost, "/admin/approve/1", map[string]any{"reason": "again"}, bearer(env.adminToken))
	if resp.Code != http.StatusConflict {
		t.Fatalf("double approve: %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodGet, "/witness?order=asc", nil, nil)
	entries := jsonField(t, resp, "entries").([]any)
	if len(entries) != 1 {
		t.Fatalf("witness entries = %v", entries)
	}
	first := entries[0].(map[string]any)
	if first["prev_hash"] != witness.GenesisHash || first["action"] != "approve" {
		t.Fatalf("first entry = %v", first)
	}
	if first["content_id"] != "1" || queueID != 1 {
		t.Fatalf("entry content_id = %v, queue id = %v", first["content_id"], queueID)
	}

	resp = env.do(t, http.MethodGet, "/witness/verify", nil, nil)
	if valid := jsonField(t, resp, "valid").(bool); !valid {
		t.Fatalf("chain invalid: %s", resp.Body.String())
	}
}

func TestRejectAppealApprove(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrapToken(t, "appellant")

	resp := env.do(t, http.MethodPost, "/posts", map[string]any{"content": admissibleContent}, bearer(token))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("submit: %d: %s", resp.Code, resp.Body.String())
	}

	// Reject without a reason is refused.
	resp = env.do(t, http.MethodPost, "/admin/reject/1", map[string]any{}, bearer(env.adminToken))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("reasonless reject: %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodPost, "/admin/reject/1", map[string]any{"reason": "low substance"}, bearer(env.adminToken))
	if resp.Code != http.StatusOK {
		t.Fatalf("reject: %d: %s", resp.Code, resp.Body.String())
	}

	// Appeal by a stranger is forbidden.
	stranger := env.bootstrapToken(t, "stranger")
	resp = env.do(t, http.MethodPost, "/admin/appeal/1", map[string]any{"reason": "please"}, bearer(stranger))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("stranger appeal: %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodPost, "/admin/appeal/1", map[string]any{"reason": "added citations"}, bearer(token))
	if resp.Code != http.StatusOK {
		t.Fatalf("appeal: %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodPost, "/admin/approve/1", map[string]any{"reason": "citations check out"}, bearer(env.adminToken))
	if resp.Code != http.StatusOK {
		t.Fatalf("approve after appeal: %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodGet, "/posts", nil, nil)
	if posts := jsonField(t, resp, "posts").([]any); len(posts) != 1 {
		t.Fatalf("posts = %v", posts)
	}

	resp = env.do(t, http.MethodGet, "/witness?order=asc", nil, nil)
	entries := jsonField(t, resp, "entries").([]any)
	if len(entries) != 3 {
		t.Fatalf("witness entries = %d, want 3", len(entries))
	}
	resp = env.do(t, http.MethodGet, "/witness/verify", nil, nil)
	if valid := jsonField(t, resp, "valid").(bool); !valid {
		t.Fatalf("chain invalid: %s", resp.Body.String())
	}
}

func TestGateFailureBlocksEnqueue(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrapToken(t, "vibes")

	resp := env.do(t, http.MethodPost, "/posts", map[string]any{
		"content": "wow this is so deep and meaningful the energy here is absolutely incredible friends",
	}, bearer(token))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodGet, "/admin/queue", nil, bearer(env.adminToken))
	counts := jsonField(t, resp, "counts").(map[string]any)
	if counts["pending"].(float64) != 0 {
		t.Fatalf("gate-failing content reached the queue: %v", counts)
	}
}

func TestDuplicateSubmissionBlocked(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrapToken(t, "repeater")

	resp := env.do(t, http.MethodPost, "/posts", map[string]any{"content": admissibleContent}, bearer(token))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("first submit: %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodPost, "/posts", map[string]any{"content": admissibleContent}, bearer(token))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate submit: %d: %s", resp.Code, resp.Body.String())
	}
	reasons := jsonField(t, resp, "spam_reasons").([]any)
	if len(reasons) != 1 || reasons[0] != "exact_duplicate" {
		t.Fatalf("spam reasons = %v", reasons)
	}
}

func TestTierCeilings(t *testing.T) {
	env := newTestEnv(t)
	bootstrap := env.bootstrapToken(t, "lowtier")
	key := env.apiKey(t, "midtier")

	// Bootstrap cannot vote.
	resp := env.do(t, http.MethodPost, "/posts/1/vote", map[string]any{"vote": 1}, bearer(bootstrap))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("bootstrap vote: %d", resp.Code)
	}

	// Neither lower tier may administrate.
	resp = env.do(t, http.MethodGet, "/admin/queue", nil, bearer(bootstrap))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("bootstrap admin: %d", resp.Code)
	}
	resp = env.do(t, http.MethodGet, "/admin/queue", nil, map[string]string{"X-API-Key": key})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("api-key admin: %d", resp.Code)
	}

	// A cryptographic identity off the allowlist is refused too.
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	outsider := env.credentialFor(t, hex.EncodeToString(pub), priv, "outsider")
	resp = env.do(t, http.MethodGet, "/admin/queue", nil, bearer(outsider))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("non-allowlisted admin: %d", resp.Code)
	}

	resp = env.do(t, http.MethodGet, "/admin/queue", nil, bearer(env.adminToken))
	if resp.Code != http.StatusOK {
		t.Fatalf("allowlisted admin: %d: %s", resp.Code, resp.Body.String())
	}
}

func TestSignedSubmission(t *testing.T) {
	env := newTestEnv(t)

	signedAt := time.Now().UTC().Format(time.RFC3339)
	message, err := auth.ContributionMessage(env.adminAddress, admissibleContent, signedAt, "post", 0, 0)
	if err != nil {
		t.Fatalf("ContributionMessage: %v", err)
	}
	signature := hex.EncodeToString(ed25519.Sign(env.adminPriv, message))

	// Unsigned submission from a cryptographic identity is refused.
	resp := env.do(t, http.MethodPost, "/posts", map[string]any{"content": admissibleContent}, bearer(env.adminToken))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unsigned submit: %d: %s", resp.Code, resp.Body.String())
	}

	// Tampered signature is refused.
	resp = env.do(t, http.MethodPost, "/posts", map[string]any{
		"content":   admissibleContent + " ",
		"signature": signature,
		"signed_at": signedAt,
	}, bearer(env.adminToken))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("tampered submit: %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodPost, "/posts", map[string]any{
		"content":   admissibleContent,
		"signature": signature,
		"signed_at": signedAt,
	}, bearer(env.adminToken))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("signed submit: %d: %s", resp.Code, resp.Body.String())
	}
}

func TestCommentAndVoteFlow(t *testing.T) {
	env := newTestEnv(t)
	author := env.bootstrapToken(t, "author")
	key := env.apiKey(t, "voter")

	resp := env.do(t, http.MethodPost, "/posts", map[string]any{"content": admissibleContent}, bearer(author))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("submit: %d: %s", resp.Code, resp.Body.String())
	}
	resp = env.do(t, http.MethodPost, "/admin/approve/1", map[string]any{"reason": "ok"}, bearer(env.adminToken))
	if resp.Code != http.StatusOK {
		t.Fatalf("approve: %d: %s", resp.Code, resp.Body.String())
	}
	postID := jsonField(t, resp, "published_id").(float64)
	if postID != 1 {
		t.Fatalf("published id = %v", postID)
	}

	// Comment through the api-key tier, then approve it.
	resp = env.do(t, http.MethodPost, "/posts/1/comment", map[string]any{"content": admissibleContentAlt}, map[string]string{"X-API-Key": key})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("comment: %d: %s", resp.Code, resp.Body.String())
	}
	resp = env.do(t, http.MethodPost, "/admin/approve/2", map[string]any{"reason": "fine"}, bearer(env.adminToken))
	if resp.Code != http.StatusOK {
		t.Fatalf("approve comment: %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodGet, "/posts/1/comments", nil, nil)
	comments := jsonField(t, resp, "comments").([]any)
	if len(comments) != 1 {
		t.Fatalf("comments = %v", comments)
	}

	// Commenting on an unpublished post 404s.
	resp = env.do(t, http.MethodPost, "/posts/99/comment", map[string]any{"content": admissibleContentAlt}, map[string]string{"X-API-Key": key})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("orphan comment: %d", resp.Code)
	}

	resp = env.do(t, http.MethodPost, "/posts/1/vote", map[string]any{"vote": 1}, map[string]string{"X-API-Key": key})
	if resp.Code != http.StatusOK {
		t.Fatalf("vote: %d: %s", resp.Code, resp.Body.String())
	}
	if karma := jsonField(t, resp, "karma").(float64); karma != 1 {
		t.Fatalf("karma = %v", karma)
	}

	resp = env.do(t, http.MethodPost, "/posts/1/vote", map[string]any{"vote": -1}, map[string]string{"X-API-Key": key})
	if karma := jsonField(t, resp, "karma").(float64); karma != -1 {
		t.Fatalf("flipped karma = %v", karma)
	}
}

func TestBanSilencesAgent(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrapToken(t, "spammer")

	resp := env.do(t, http.MethodPost, "/posts", map[string]any{"content": admissibleContent}, bearer(token))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("submit: %d: %s", resp.Code, resp.Body.String())
	}

	// Pull the author address from the admin queue view.
	resp = env.do(t, http.MethodGet, "/admin/queue", nil, bearer(env.adminToken))
	queue := jsonField(t, resp, "queue").([]any)
	address := queue[0].(map[string]any)["author_address"].(string)

	resp = env.do(t, http.MethodPost, "/admin/ban/"+address, map[string]any{"reason": "flooding"}, bearer(env.adminToken))
	if resp.Code != http.StatusOK {
		t.Fatalf("ban: %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodPost, "/posts", map[string]any{"content": admissibleContentAlt}, bearer(token))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("banned agent still accepted: %d", resp.Code)
	}

	// The ban itself is on the chain.
	resp = env.do(t, http.MethodGet, "/witness?order=asc", nil, nil)
	entries := jsonField(t, resp, "entries").([]any)
	last := entries[len(entries)-1].(map[string]any)
	if last["action"] != "ban" {
		t.Fatalf("last entry = %v", last)
	}
}

func TestGateDryRun(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/gates", nil, nil)
	dims := jsonField(t, resp, "dimensions").([]any)
	if len(dims) != 3 {
		t.Fatalf("dimensions = %v", dims)
	}

	resp = env.do(t, http.MethodGet, "/gates/evaluate?content=just+vibes&purpose=research", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("dry run: %d: %s", resp.Code, resp.Body.String())
	}
	if admitted := jsonField(t, resp, "admitted").(bool); admitted {
		t.Fatalf("low-effort dry run admitted: %s", resp.Body.String())
	}

	// A dry run never touches the queue.
	respQueue := env.do(t, http.MethodGet, "/admin/queue", nil, bearer(env.adminToken))
	counts := jsonField(t, respQueue, "counts").(map[string]any)
	if counts["pending"].(float64) != 0 {
		t.Fatalf("dry run enqueued something: %v", counts)
	}
}

func TestAdminEventStream(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + env.adminToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var pong map[string]any
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if pong["type"] != "pong" {
		t.Fatalf("expected pong, got %v", pong)
	}

	token := env.bootstrapToken(t, "poster")
	resp := env.do(t, http.MethodPost, "/posts", map[string]any{"content": admissibleContent}, bearer(token))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("submit: %d: %s", resp.Code, resp.Body.String())
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event["type"] != "submission.enqueued" || event["queue_id"].(float64) != 1 {
		t.Fatalf("event = %v", event)
	}

	// Lower tiers cannot subscribe.
	lowURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + env.bootstrapToken(t, "curious")
	if _, _, err := websocket.DefaultDialer.Dial(lowURL, nil); err == nil {
		t.Fatal("bootstrap token opened the admin stream")
	}
}
