// Package store is the published-content projection: posts, comments,
// and votes. Content enters only through the moderation queue's approve
// path, which is what keeps unreviewed submissions invisible to every
// read endpoint.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agora-server/internal/model"
)

var (
	ErrNotFound    = errors.New("content not found")
	ErrInvalidVote = errors.New("vote must be +1 or -1")
)

// Vote is one agent's current vote on one piece of published content.
type Vote struct {
	ID           string
	AgentAddress string
	ContentType  model.ContentType
	ContentID    int64
	Value        int
	CreatedAt    int64
}

type voteKey struct {
	agent       string
	contentType model.ContentType
	contentID   int64
}

type Store struct {
	mu sync.RWMutex

	postsByID      map[int64]model.Post
	commentsByID   map[int64]model.Comment
	commentsByPost map[int64][]int64

	votesByKey map[voteKey]Vote

	postSeq    int64
	commentSeq int64
}

func New() *Store {
	return &Store{
		postsByID:      make(map[int64]model.Post),
		commentsByID:   make(map[int64]model.Comment),
		commentsByPost: make(map[int64][]int64),
		votesByKey:     make(map[voteKey]Vote),
	}
}

// PublishPost copies an approved submission into the public projection
// and assigns its immutable published id.
func (s *Store) PublishPost(sub model.Submission, nowMillis int64) model.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.postSeq++
	p := model.Post{
		ID:               s.postSeq,
		Content:          sub.Content,
		AuthorAddress:    sub.AuthorAddress,
		GateEvidenceHash: sub.GateEvidenceHash,
		DepthScore:       sub.DepthScore,
		Signature:        sub.Signature,
		SignedAt:         sub.SignedAt,
		CreatedAt:        nowMillis,
	}
	s.postsByID[p.ID] = p
	return p
}

// PublishComment copies an approved comment submission into the public
// projection under its post.
func (s *Store) PublishComment(sub model.Submission, nowMillis int64) (model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.postsByID[sub.PostID]
	if !ok {
		return model.Comment{}, ErrNotFound
	}

	s.commentSeq++
	c := model.Comment{
		ID:               s.commentSeq,
		PostID:           sub.PostID,
		ParentID:         sub.ParentID,
		Content:          sub.Content,
		AuthorAddress:    sub.AuthorAddress,
		GateEvidenceHash: sub.GateEvidenceHash,
		DepthScore:       sub.DepthScore,
		Signature:        sub.Signature,
		SignedAt:         sub.SignedAt,
		CreatedAt:        nowMillis,
	}
	s.commentsByID[c.ID] = c
	s.commentsByPost[sub.PostID] = append(s.commentsByPost[sub.PostID], c.ID)

	post.CommentCount++
	s.postsByID[post.ID] = post
	return c, nil
}

func (s *Store) GetPost(id int64) (model.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.postsByID[id]
	return p, ok
}

// ListPosts returns published posts, newest first.
func (s *Store) ListPosts(limit, offset int) []model.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := make([]model.Post, 0, len(s.postsByID))
	for _, p := range s.postsByID {
		posts = append(posts, p)
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID > posts[j].ID })

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(posts) {
		return []model.Post{}
	}
	end := offset + limit
	if end > len(posts) {
		end = len(posts)
	}
	return posts[offset:end]
}

// ListComments returns a post's comments in publication order.
func (s *Store) ListComments(postID int64) ([]model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.postsByID[postID]; !ok {
		return nil, ErrNotFound
	}
	ids := s.commentsByPost[postID]
	comments := make([]model.Comment, 0, len(ids))
	for _, id := range ids {
		comments = append(comments, s.commentsByID[id])
	}
	return comments, nil
}

// UpsertVote records or updates one agent's vote on published content
// and returns the new karma tally. Re-voting the same value is a no-op;
// a flipped vote moves the tally by two.
func (s *Store) UpsertVote(agentAddress string, contentType model.ContentType, contentID int64, value int) (int, error) {
	if value != 1 && value != -1 {
		return 0, ErrInvalidVote
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := voteKey{agent: agentAddress, contentType: contentType, contentID: contentID}
	delta := value
	existing, voted := s.votesByKey[key]
	if voted {
		if existing.Value == value {
			return s.karmaLocked(contentType, contentID)
		}
		delta = value - existing.Value
	}

	switch contentType {
	case model.ContentPost:
		p, ok := s.postsByID[contentID]
		if !ok {
			return 0, ErrNotFound
		}
		p.Karma += delta
		if !voted {
			p.VoteCount++
		}
		s.postsByID[contentID] = p
	case model.ContentComment:
		c, ok := s.commentsByID[contentID]
		if !ok {
			return 0, ErrNotFound
		}
		c.Karma += delta
		if !voted {
			c.VoteCount++
		}
		s.commentsByID[contentID] = c
	default:
		return 0, ErrNotFound
	}

	s.votesByKey[key] = Vote{
		ID:           uuid.NewString(),
		AgentAddress: agentAddress,
		ContentType:  contentType,
		ContentID:    contentID,
		Value:        value,
		CreatedAt:    time.Now().UnixMilli(),
	}
	return s.karmaLocked(contentType, contentID)
}

func (s *Store) karmaLocked(contentType model.ContentType, contentID int64) (int, error) {
	switch contentType {
	case model.ContentPost:
		p, ok := s.postsByID[contentID]
		if !ok {
			return 0, ErrNotFound
		}
		return p.Karma, nil
	case model.ContentComment:
		c, ok := s.commentsByID[contentID]
		if !ok {
			return 0, ErrNotFound
		}
		return c.Karma, nil
	}
	return 0, ErrNotFound
}

// AuthorKarma sums the karma of an agent's published content.
func (s *Store) AuthorKarma(address string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, p := range s.postsByID {
		if p.AuthorAddress == address {
			total += p.Karma
		}
	}
	for _, c := range s.commentsByID {
		if c.AuthorAddress == address {
			total += c.Karma
		}
	}
	return total
}
