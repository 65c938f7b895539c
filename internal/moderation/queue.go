// Package moderation implements the review queue state machine.
// Transitions: pending -> approved|rejected, rejected -> appealed,
// appealed -> approved|rejected. Everything else is an explicit error;
// a double approve must be observable, never a silent no-op.
package moderation

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"agora-server/internal/model"
	"agora-server/internal/store"
	"agora-server/internal/witness"
)

var (
	ErrNotFound          = errors.New("submission not found")
	ErrInvalidTransition = errors.New("invalid moderation transition")
	ErrNotAuthor         = errors.New("only the author may appeal")
	ErrReasonRequired    = errors.New("a reason is required")
)

// Queue owns submissions from enqueue to decision. Every decision
// commits three things together: the status change, the witness entry,
// and (on approval) the copy into the published store.
type Queue struct {
	mu       sync.Mutex
	subsByID map[int64]model.Submission
	seq      int64

	chain     *witness.Chain
	published *store.Store

	now func() time.Time
}

type Options struct {
	Now func() time.Time
}

func New(chain *witness.Chain, published *store.Store) *Queue {
	return NewWithOptions(chain, published, Options{})
}

func NewWithOptions(chain *witness.Chain, published *store.Store, opts Options) *Queue {
	q := &Queue{
		subsByID:  make(map[int64]model.Submission),
		chain:     chain,
		published: published,
		now:       opts.Now,
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// Enqueue admits a gated submission into review. The caller has already
// run identity, signature, spam, and gate checks; enqueue itself cannot
// fail.
func (q *Queue) Enqueue(sub model.Submission) model.Submission {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	sub.QueueID = q.seq
	sub.Status = model.StatusPending
	sub.CreatedAt = q.now().UnixMilli()
	q.subsByID[sub.QueueID] = sub
	return sub
}

func (q *Queue) Get(id int64) (model.Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sub, ok := q.subsByID[id]
	return sub, ok
}

// List returns submissions filtered by status (empty means all), oldest
// first, together with per-status counts over the whole queue.
func (q *Queue) List(status model.ModerationStatus) ([]model.Submission, map[model.ModerationStatus]int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := map[model.ModerationStatus]int{
		model.StatusPending:  0,
		model.StatusApproved: 0,
		model.StatusRejected: 0,
		model.StatusAppealed: 0,
	}
	subs := make([]model.Submission, 0, len(q.subsByID))
	for _, sub := range q.subsByID {
		counts[sub.Status]++
		if status == "" || sub.Status == status {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].QueueID < subs[j].QueueID })
	return subs, counts
}

func reviewable(status model.ModerationStatus) bool {
	return status == model.StatusPending || status == model.StatusAppealed
}

// Approve moves a pending or appealed submission to approved and copies
// it into the published store. The witness entry is appended before the
// status commits; if the chain refuses the append, nothing changes.
func (q *Queue) Approve(id int64, reviewerAddress, reason string) (model.Submission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sub, ok := q.subsByID[id]
	if !ok {
		return model.Submission{}, ErrNotFound
	}
	if !reviewable(sub.Status) {
		return model.Submission{}, ErrInvalidTransition
	}
	if sub.ContentType == model.ContentComment {
		if _, ok := q.published.GetPost(sub.PostID); !ok {
			return model.Submission{}, store.ErrNotFound
		}
	}

	if _, err := q.chain.Append(reviewerAddress, "approve", strconv.FormatInt(id, 10), map[string]any{
		"queue_id":           id,
		"content_type":       string(sub.ContentType),
		"author_address":     sub.AuthorAddress,
		"reviewer":           reviewerAddress,
		"reason":             reason,
		"previous_status":    string(sub.Status),
		"gate_evidence_hash": sub.GateEvidenceHash,
	}); err != nil {
		return model.Submission{}, err
	}

	nowMillis := q.now().UnixMilli()
	switch sub.ContentType {
	case model.ContentComment:
		c, err := q.published.PublishComment(sub, nowMillis)
		if err != nil {
			return model.Submission{}, err
		}
		sub.PublishedID = c.ID
	default:
		sub.PublishedID = q.published.PublishPost(sub, nowMillis).ID
	}

	sub.Status = model.StatusApproved
	sub.Reason = reason
	sub.ReviewedAt = nowMillis
	sub.ReviewerAddress = reviewerAddress
	q.subsByID[id] = sub
	return sub, nil
}

// Reject moves a pending or appealed submission to rejected. The reason
// is mandatory and stored with the submission.
func (q *Queue) Reject(id int64, reviewerAddress, reason string) (model.Submission, error) {
	if reason == "" {
		return model.Submission{}, ErrReasonRequired
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	sub, ok := q.subsByID[id]
	if !ok {
		return model.Submission{}, ErrNotFound
	}
	if !reviewable(sub.Status) {
		return model.Submission{}, ErrInvalidTransition
	}

	if _, err := q.chain.Append(reviewerAddress, "reject", strconv.FormatInt(id, 10), map[string]any{
		"queue_id":        id,
		"content_type":    string(sub.ContentType),
		"author_address":  sub.AuthorAddress,
		"reviewer":        reviewerAddress,
		"reason":          reason,
		"previous_status": string(sub.Status),
	}); err != nil {
		return model.Submission{}, err
	}

	sub.Status = model.StatusRejected
	sub.Reason = reason
	sub.ReviewedAt = q.now().UnixMilli()
	sub.ReviewerAddress = reviewerAddress
	q.subsByID[id] = sub
	return sub, nil
}

// Appeal lets the author contest a rejection, returning the submission
// to the review pool. Appeals are witnessed like any other transition.
func (q *Queue) Appeal(id int64, authorAddress, reason string) (model.Submission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sub, ok := q.subsByID[id]
	if !ok {
		return model.Submission{}, ErrNotFound
	}
	if sub.AuthorAddress != authorAddress {
		return model.Submission{}, ErrNotAuthor
	}
	if sub.Status != model.StatusRejected {
		return model.Submission{}, ErrInvalidTransition
	}

	if _, err := q.chain.Append(authorAddress, "appeal", strconv.FormatInt(id, 10), map[string]any{
		"queue_id":         id,
		"content_type":     string(sub.ContentType),
		"author_address":   sub.AuthorAddress,
		"reason":           reason,
		"previous_status":  string(sub.Status),
		"rejection_reason": sub.Reason,
	}); err != nil {
		return model.Submission{}, err
	}

	sub.Status = model.StatusAppealed
	sub.Reason = reason
	q.subsByID[id] = sub
	return sub, nil
}
