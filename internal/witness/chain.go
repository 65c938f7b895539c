// Package witness maintains the hash-chained ledger of moderation
// decisions. Every entry links to its predecessor, so any retroactive
// edit is detectable from a chain snapshot alone.
package witness

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agora-server/internal/canon"
	"agora-server/internal/model"
)

// GenesisHash is the prev_hash sentinel of the first entry.
const GenesisHash = "genesis"

var ErrChainIntegrityViolation = errors.New("witness chain integrity violation")

// Chain is the append-only ledger. Appends are serialized under a single
// mutex; the read-tail-then-write sequence must never interleave.
type Chain struct {
	mu      sync.Mutex
	entries []model.WitnessEntry
	broken  bool

	stateFile string
	persistMu sync.Mutex

	now func() time.Time
}

type Options struct {
	// StateFile, when set, makes the chain persist a JSON snapshot after
	// every append and reload it on startup.
	StateFile string
	Now       func() time.Time
}

func New() *Chain {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Chain {
	c := &Chain{
		stateFile: opts.StateFile,
		now:       opts.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}

	if c.stateFile != "" {
		if err := c.loadFromFile(c.stateFile); err != nil {
			log.Printf("witness persistence: load failed (%s): %v", c.stateFile, err)
		}
	}
	if len(c.entries) > 0 {
		if ok, breakAt := c.Verify(); !ok {
			log.Printf("witness: loaded chain fails verification at entry %d, refusing further appends", breakAt)
		}
	}
	return c
}

type persistedChainFile struct {
	Version int                  `json:"version"`
	Entries []model.WitnessEntry `json:"entries"`
	SavedAt int64                `json:"savedAt"`
}

func (c *Chain) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedChainFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported witness state version")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries[:0], file.Entries...)
	return nil
}

func (c *Chain) persistSnapshot(entries []model.WitnessEntry) {
	path := c.stateFile
	if path == "" {
		return
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Printf("witness persistence: mkdir failed (%s): %v", dir, err)
		return
	}

	file := persistedChainFile{Version: 1, Entries: entries, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		log.Printf("witness persistence: marshal failed: %v", err)
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		log.Printf("witness persistence: create temp failed: %v", err)
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		log.Printf("witness persistence: chmod temp failed: %v", err)
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		log.Printf("witness persistence: write temp failed: %v", err)
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		log.Printf("witness persistence: sync temp failed: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		log.Printf("witness persistence: close temp failed: %v", err)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		log.Printf("witness persistence: rename failed: %v", err)
		return
	}
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func entryHash(e model.WitnessEntry) (string, error) {
	head, err := canon.Marshal(map[string]any{
		"action":        e.Action,
		"actor_address": e.ActorAddress,
		"content_id":    e.ContentID,
		"payload_hash":  e.PayloadHash,
		"prev_hash":     e.PrevHash,
		"timestamp":     e.Timestamp,
	})
	if err != nil {
		return "", err
	}
	return hashHex(head), nil
}

// Append records an action on the chain and returns the new entry. It
// fails with ErrChainIntegrityViolation once a verification failure has
// been observed; a broken chain accepts no further writes.
func (c *Chain) Append(actorAddress, action, contentID string, payload map[string]any) (model.WitnessEntry, error) {
	canonical, err := canon.Marshal(payload)
	if err != nil {
		return model.WitnessEntry{}, err
	}
	payloadHash := hashHex(canonical)

	c.mu.Lock()
	if c.broken {
		c.mu.Unlock()
		return model.WitnessEntry{}, ErrChainIntegrityViolation
	}

	prevHash := GenesisHash
	if n := len(c.entries); n > 0 {
		prevHash = c.entries[n-1].EntryHash
	}

	entry := model.WitnessEntry{
		EntryID:      int64(len(c.entries)) + 1,
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		ActorAddress: actorAddress,
		Action:       action,
		ContentID:    contentID,
		PayloadHash:  payloadHash,
		PrevHash:     prevHash,
	}
	entry.EntryHash, err = entryHash(entry)
	if err != nil {
		c.mu.Unlock()
		return model.WitnessEntry{}, err
	}
	c.entries = append(c.entries, entry)

	var snapshot []model.WitnessEntry
	if c.stateFile != "" {
		snapshot = append(snapshot, c.entries...)
	}
	c.mu.Unlock()

	if snapshot != nil {
		c.persistSnapshot(snapshot)
	}
	return entry, nil
}

// Verify walks the chain in ascending order, recomputing every entry
// hash and checking each prev_hash link. It returns the id of the first
// mismatching entry, or 0 when the chain is intact. A failed
// verification latches the chain closed against further appends.
func (c *Chain) Verify() (bool, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := GenesisHash
	for _, e := range c.entries {
		if e.PrevHash != prevHash {
			c.broken = true
			return false, e.EntryID
		}
		expected, err := entryHash(e)
		if err != nil || e.EntryHash != expected {
			c.broken = true
			return false, e.EntryID
		}
		prevHash = e.EntryHash
	}
	return true, 0
}

// List returns entries ordered by id, ascending or descending.
func (c *Chain) List(limit, offset int, ascending bool) []model.WitnessEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	ordered := make([]model.WitnessEntry, n)
	if ascending {
		copy(ordered, c.entries)
	} else {
		for i, e := range c.entries {
			ordered[n-1-i] = e
		}
	}

	if offset >= n {
		return []model.WitnessEntry{}
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return ordered[offset:end]
}

func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
