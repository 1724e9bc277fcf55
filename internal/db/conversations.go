package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"juris-rag/internal/models"
)

// ClaimIdempotencyKey inserts rec unless (owner, key, target) already exists.
// When the key was already claimed the stored record is returned with claimed
// set to false; its Response is nil while the first request is still running.
func (s *Store) ClaimIdempotencyKey(ctx context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error) {
	res, err := s.claimQuery(rec).Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return &rec, true, nil
	}

	var existing IdempotencyKey
	err = s.db.NewSelect().Model(&existing).
		Where("owner = ?", rec.Owner).
		Where("key = ?", rec.Key).
		Where("target = ?", rec.Target).
		Scan(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("read idempotency key: %w", err)
	}
	return &models.IdempotencyRecord{
		Owner:     existing.Owner,
		Key:       existing.Key,
		Target:    existing.Target,
		Response:  existing.Response,
		CreatedAt: existing.CreatedAt,
	}, false, nil
}

func (s *Store) claimQuery(rec models.IdempotencyRecord) *bun.InsertQuery {
	row := &IdempotencyKey{Owner: rec.Owner, Key: rec.Key, Target: rec.Target, CreatedAt: rec.CreatedAt}
	return s.db.NewInsert().Model(row).On("CONFLICT DO NOTHING")
}

// ReleaseIdempotencyKey drops a claim whose request failed. Completed keys are kept.
func (s *Store) ReleaseIdempotencyKey(ctx context.Context, owner, key, target string) error {
	_, err := s.releaseQuery(owner, key, target).Exec(ctx)
	return err
}

func (s *Store) releaseQuery(owner, key, target string) *bun.DeleteQuery {
	return s.db.NewDelete().Model((*IdempotencyKey)(nil)).
		Where("owner = ?", owner).
		Where("key = ?", key).
		Where("target = ?", target).
		Where("response IS NULL")
}

func (s *Store) GetConversation(ctx context.Context, owner, id string) (*models.Conversation, error) {
	var row Conversation
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Where("owner = ?", owner).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c := conversationToModel(row)
	return &c, nil
}

// ListConversations returns the owner's conversations, most recently active first.
func (s *Store) ListConversations(ctx context.Context, owner string) ([]models.Conversation, error) {
	var rows []Conversation
	err := s.db.NewSelect().Model(&rows).
		Where("owner = ?", owner).
		Order("last_message_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, conversationToModel(r))
	}
	return out, nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var rows []Message
	if err := s.listMessagesQuery(&rows, conversationID).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Message{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Role:           models.Role(r.Role),
			Content:        r.Content,
			CreatedAt:      r.CreatedAt,
			Citations:      r.Citations,
		})
	}
	return out, nil
}

func (s *Store) listMessagesQuery(rows *[]Message, conversationID string) *bun.SelectQuery {
	return s.db.NewSelect().Model(rows).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC", "seq ASC")
}

// CommitExchange writes a conversational turn atomically: the conversation
// row, both messages and the idempotency response.
func (s *Store) CommitExchange(ctx context.Context, ex models.Exchange) error {
	for _, m := range []models.Message{ex.User, ex.Assistant} {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	conv := conversationFromModel(*ex.Conversation)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if ex.Created {
			if _, err := tx.NewInsert().Model(&conv).Exec(ctx); err != nil {
				return fmt.Errorf("insert conversation: %w", err)
			}
		} else {
			_, err := tx.NewUpdate().Model(&conv).
				Column("updated_at", "last_message_at", "summary", "summary_up_to").
				WherePK().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("update conversation: %w", err)
			}
		}

		msgs := []Message{messageFromModel(ex.User), messageFromModel(ex.Assistant)}
		if _, err := tx.NewInsert().Model(&msgs).Exec(ctx); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}

		if rec := ex.Idempotency; rec != nil {
			res, err := completeQuery(tx.NewUpdate(), *rec).Exec(ctx)
			if err != nil {
				return fmt.Errorf("store idempotent response: %w", err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				return fmt.Errorf("idempotency key %q is no longer pending", rec.Key)
			}
		}
		return nil
	})
}

// completeQuery stores the response of a pending claim. It matches nothing
// once the key has been completed or released.
func completeQuery(q *bun.UpdateQuery, rec models.IdempotencyRecord) *bun.UpdateQuery {
	return q.Model((*IdempotencyKey)(nil)).
		Set("response = ?", string(rec.Response)).
		Where("owner = ?", rec.Owner).
		Where("key = ?", rec.Key).
		Where("target = ?", rec.Target).
		Where("response IS NULL")
}

func conversationToModel(r Conversation) models.Conversation {
	return models.Conversation{
		ID:            r.ID,
		Owner:         r.Owner,
		Title:         r.Title,
		CaseID:        r.CaseID,
		Summary:       r.Summary,
		SummaryUpTo:   r.SummaryUpTo,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		LastMessageAt: r.LastMessageAt,
	}
}

func conversationFromModel(c models.Conversation) Conversation {
	return Conversation{
		ID:            c.ID,
		Owner:         c.Owner,
		Title:         c.Title,
		CaseID:        c.CaseID,
		Summary:       c.Summary,
		SummaryUpTo:   c.SummaryUpTo,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		LastMessageAt: c.LastMessageAt,
	}
}

func messageFromModel(m models.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           string(m.Role),
		Content:        m.Content,
		Citations:      m.Citations,
		CreatedAt:      m.CreatedAt,
	}
}
