package conversation

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"juris-rag/internal/models"
)

type idempotencyKey struct {
	owner, key, target string
}

// MemoryStore keeps conversations in process memory. It backs the local
// chromem mode and tests; state is lost on restart.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	keys          map[idempotencyKey]models.IdempotencyRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		keys:          make(map[idempotencyKey]models.IdempotencyRecord),
	}
}

func (s *MemoryStore) ClaimIdempotencyKey(_ context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := idempotencyKey{rec.Owner, rec.Key, rec.Target}
	if existing, ok := s.keys[k]; ok {
		existing.Response = slices.Clone(existing.Response)
		return &existing, false, nil
	}
	rec.Response = nil
	s.keys[k] = rec
	return &rec, true, nil
}

func (s *MemoryStore) ReleaseIdempotencyKey(_ context.Context, owner, key, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := idempotencyKey{owner, key, target}
	if rec, ok := s.keys[k]; ok && rec.Response == nil {
		delete(s.keys, k)
	}
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, owner, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok || c.Owner != owner {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return &c, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, owner string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Conversation{}
	for _, c := range s.conversations {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b models.Conversation) int {
		return b.LastMessageAt.Compare(a.LastMessageAt)
	})
	return out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[conversationID]), nil
}

// CommitExchange applies the whole exchange or nothing.
func (s *MemoryStore) CommitExchange(_ context.Context, ex models.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := *ex.Conversation
	if _, exists := s.conversations[conv.ID]; exists == ex.Created {
		if ex.Created {
			return fmt.Errorf("conversation %s already exists", conv.ID)
		}
		return fmt.Errorf("conversation %s: %w", conv.ID, models.ErrNotFound)
	}
	for _, m := range []models.Message{ex.User, ex.Assistant} {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	var k idempotencyKey
	if rec := ex.Idempotency; rec != nil {
		k = idempotencyKey{rec.Owner, rec.Key, rec.Target}
		if stored, ok := s.keys[k]; !ok || stored.Response != nil {
			return fmt.Errorf("idempotency key %q is no longer pending", rec.Key)
		}
	}

	if ex.Idempotency != nil {
		stored := s.keys[k]
		stored.Response = slices.Clone(ex.Idempotency.Response)
		s.keys[k] = stored
	}
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = append(s.messages[conv.ID], ex.User, ex.Assistant)
	return nil
}
