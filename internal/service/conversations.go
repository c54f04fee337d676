package service

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pliu/letschat/internal/apperr"
	"github.com/pliu/letschat/internal/encryption"
	"github.com/pliu/letschat/internal/events"
	"github.com/pliu/letschat/internal/models"
	"github.com/pliu/letschat/internal/pubsub"
	"github.com/pliu/letschat/internal/store"
)

const (
	maxGroupNameLen  = 100
	maxRotateRetries = 3
)

type CreateConversationInput struct {
	Type           models.ConversationType `json:"type"`
	Name           string                  `json:"name"`
	ParticipantIDs []string                `json:"participant_ids"`
}

type ConversationService struct {
	store   store.Store
	keyring *encryption.Keyring
	pub     Publisher
	log     *slog.Logger
	now     Clock
}

func NewConversationService(st store.Store, keyring *encryption.Keyring, pub Publisher, log *slog.Logger) *ConversationService {
	return &ConversationService{store: st, keyring: keyring, pub: pub, log: log, now: time.Now}
}

// Create starts a conversation owned by creatorID. The returned conversation
// always carries its current key. For direct conversations an existing one
// between the same pair is returned instead, with created set to false.
func (s *ConversationService) Create(ctx context.Context, in CreateConversationInput, creatorID string) (conv *models.Conversation, created bool, err error) {
	if !in.Type.Valid() {
		return nil, false, apperr.ErrInvalidConversation
	}
	name := strings.TrimSpace(in.Name)

	others := make([]string, 0, len(in.ParticipantIDs))
	seen := map[string]bool{creatorID: true}
	selfIncluded := false
	for _, id := range in.ParticipantIDs {
		id = strings.TrimSpace(id)
		if id == creatorID {
			selfIncluded = true
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		others = append(others, id)
	}

	switch in.Type {
	case models.ConversationDirect:
		if len(others) == 0 && selfIncluded {
			return nil, false, apperr.ErrSelfConversation
		}
		if len(others) != 1 {
			return nil, false, apperr.ErrDirectPeer
		}
		// Direct conversations are unnamed.
		name = ""
	case models.ConversationGroup:
		if name == "" {
			return nil, false, apperr.ErrGroupNameRequired
		}
		if utf8.RuneCountInString(name) > maxGroupNameLen {
			return nil, false, apperr.InvalidArg("group name is too long")
		}
		if len(others) == 0 {
			return nil, false, apperr.InvalidArg("group conversations need at least one other participant")
		}
	}

	for _, id := range others {
		if _, err := s.store.GetUserByID(ctx, id); err != nil {
			if isNotFound(err) {
				return nil, false, apperr.ErrUserNotFound
			}
			s.log.Error("failed to load participant", "user_id", id, "err", err)
			return nil, false, apperr.Internal(err)
		}
	}

	if in.Type == models.ConversationDirect {
		existing, err := s.store.FindDirectConversation(ctx, creatorID, others[0])
		switch {
		case err == nil:
			if err := s.attachKey(ctx, existing); err != nil {
				return nil, false, err
			}
			return existing, false, nil
		case !isNotFound(err):
			s.log.Error("failed to look up direct conversation", "err", err)
			return nil, false, apperr.Internal(err)
		}
	}

	now := s.now().UTC()
	conv = &models.Conversation{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Name:      name,
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	key, record, err := s.keyring.New(conv.ID, 1)
	if err != nil {
		s.log.Error("failed to generate conversation key", "err", err)
		return nil, false, apperr.Internal(err)
	}
	record.CreatedAt = now

	creatorRole := models.RoleMember
	if in.Type == models.ConversationGroup {
		creatorRole = models.RoleAdmin
	}
	participants := []models.Participant{{ConversationID: conv.ID, UserID: creatorID, Role: creatorRole, JoinedAt: now}}
	for _, id := range others {
		participants = append(participants, models.Participant{ConversationID: conv.ID, UserID: id, Role: models.RoleMember, JoinedAt: now})
	}

	if err := s.store.CreateConversation(ctx, conv, participants, *record); err != nil {
		if in.Type == models.ConversationDirect && isConflict(err) {
			// Lost a race with a concurrent create for the same pair.
			existing, err := s.store.FindDirectConversation(ctx, creatorID, others[0])
			if err != nil {
				s.log.Error("failed to load concurrently created direct conversation", "err", err)
				return nil, false, apperr.Internal(err)
			}
			if err := s.attachKey(ctx, existing); err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		s.log.Error("error while saving conversation in db", "err", err)
		return nil, false, apperr.Internal(err)
	}
	s.keyring.Remember(conv.ID, record.Version, key)
	conv.EncryptionKey = key

	s.log.Info("conversation created", "conversation_id", conv.ID, "type", conv.Type, "participants", len(participants))
	for _, p := range participants {
		publish(ctx, s.pub, s.log, pubsub.UserTopic(p.UserID), &events.Event{
			Type:           events.TypeConversationCreated,
			ConversationID: conv.ID,
			Conversation:   conv,
		})
	}
	return conv, true, nil
}

func (s *ConversationService) attachKey(ctx context.Context, conv *models.Conversation) error {
	key, err := s.keyring.Get(ctx, conv.ID, conv.KeyVersion)
	if err != nil {
		s.log.Error("failed to load conversation key", "conversation_id", conv.ID, "version", conv.KeyVersion, "err", err)
		if isNotFound(err) {
			return apperr.ErrMissingKey
		}
		return apperr.Internal(err)
	}
	conv.EncryptionKey = key
	return nil
}

func (s *ConversationService) List(ctx context.Context, userID string) ([]models.Conversation, error) {
	convs, err := s.store.GetUserConversations(ctx, userID)
	if err != nil {
		s.log.Error("failed to list conversations", "user_id", userID, "err", err)
		return nil, apperr.Internal(err)
	}
	return convs, nil
}

func (s *ConversationService) Get(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error) {
	return loadMembership(ctx, s.store, s.log, conversationID, requesterID)
}

func (s *ConversationService) Participants(ctx context.Context, conversationID, requesterID string) ([]models.Participant, error) {
	if _, err := loadMembership(ctx, s.store, s.log, conversationID, requesterID); err != nil {
		return nil, err
	}
	participants, err := s.store.GetParticipants(ctx, conversationID)
	if err != nil {
		s.log.Error("failed to list participants", "conversation_id", conversationID, "err", err)
		return nil, apperr.Internal(err)
	}
	return participants, nil
}

// ensureAdmin promotes the first of participants, ordered by join time, when
// none of them is an admin.
func (s *ConversationService) ensureAdmin(ctx context.Context, conversationID string, participants []models.Participant) error {
	for _, p := range participants {
		if p.Role == models.RoleAdmin {
			return nil
		}
	}
	heir := participants[0].UserID
	if err := s.store.SetParticipantRole(ctx, conversationID, heir, models.RoleAdmin); err != nil {
		s.log.Error("failed to promote participant", "conversation_id", conversationID, "user_id", heir, "err", err)
		return apperr.Internal(err)
	}
	s.log.Info("participant promoted to admin", "conversation_id", conversationID, "user_id", heir)
	return nil
}

func (s *ConversationService) requireAdmin(ctx context.Context, conversationID, userID string) error {
	role, err := s.store.GetParticipantRole(ctx, conversationID, userID)
	if err != nil {
		if isNotFound(err) {
			return apperr.ErrNotParticipant
		}
		return apperr.Internal(err)
	}
	if role != models.RoleAdmin {
		return apperr.ErrNotAdmin
	}
	return nil
}

// AddParticipants adds users to a group. Users already in it are skipped.
// The returned slice holds only the newly added participants.
func (s *ConversationService) AddParticipants(ctx context.Context, conversationID, actorID string, userIDs []string) ([]models.Participant, error) {
	conv, err := loadMembership(ctx, s.store, s.log, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if conv.Type != models.ConversationGroup {
		return nil, apperr.ErrDirectMembership
	}
	if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, apperr.InvalidArg("user_ids is required")
	}

	users := make([]*models.User, 0, len(userIDs))
	seen := map[string]bool{}
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		u, err := s.store.GetUserByID(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return nil, apperr.ErrUserNotFound
			}
			return nil, apperr.Internal(err)
		}
		users = append(users, u)
	}

	now := s.now().UTC()
	added := []models.Participant{}
	for _, u := range users {
		p := models.Participant{
			ConversationID: conversationID,
			UserID:         u.ID,
			Username:       u.Username,
			DisplayName:    u.DisplayName,
			Role:           models.RoleMember,
			JoinedAt:       now,
		}
		if err := s.store.AddParticipant(ctx, p); err != nil {
			if isConflict(err) {
				continue
			}
			s.log.Error("failed to add participant", "conversation_id", conversationID, "user_id", u.ID, "err", err)
			return nil, apperr.Internal(err)
		}
		added = append(added, p)
	}

	for _, p := range added {
		ev := &events.Event{Type: events.TypeParticipantAdded, ConversationID: conversationID, UserID: p.UserID, Conversation: conv}
		publish(ctx, s.pub, s.log, pubsub.ConversationTopic(conversationID), ev)
		publish(ctx, s.pub, s.log, pubsub.UserTopic(p.UserID), ev)
	}
	return added, nil
}

// RemoveParticipant removes userID from a group. Admins may remove anyone,
// members only themselves. The key is rotated afterwards so the removed
// user cannot read later messages; a conversation left empty is deleted.
// When the last admin goes, the longest-standing remaining member takes over.
func (s *ConversationService) RemoveParticipant(ctx context.Context, conversationID, actorID, userID string) error {
	conv, err := loadMembership(ctx, s.store, s.log, conversationID, actorID)
	if err != nil {
		return err
	}
	if conv.Type != models.ConversationGroup {
		return apperr.ErrDirectMembership
	}
	if actorID != userID {
		if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
			return err
		}
	}

	if err := s.store.RemoveParticipant(ctx, conversationID, userID); err != nil {
		if isNotFound(err) {
			return apperr.NotFound("participant not found")
		}
		s.log.Error("failed to remove participant", "conversation_id", conversationID, "user_id", userID, "err", err)
		return apperr.Internal(err)
	}

	remaining, err := s.store.GetParticipants(ctx, conversationID)
	if err != nil {
		return apperr.Internal(err)
	}
	if len(remaining) == 0 {
		if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
			s.log.Error("failed to delete empty conversation", "conversation_id", conversationID, "err", err)
			return apperr.Internal(err)
		}
		s.keyring.Forget(conversationID)
		s.log.Info("conversation deleted", "conversation_id", conversationID)
		return nil
	}
	if err := s.ensureAdmin(ctx, conversationID, remaining); err != nil {
		return err
	}

	if _, err := s.rotate(ctx, conversationID); err != nil {
		return err
	}

	ev := &events.Event{Type: events.TypeParticipantRemoved, ConversationID: conversationID, UserID: userID}
	publish(ctx, s.pub, s.log, pubsub.ConversationTopic(conversationID), ev)
	publish(ctx, s.pub, s.log, pubsub.UserTopic(userID), ev)
	return nil
}

// RotateKey makes a fresh key current. Group rotation is admin only.
func (s *ConversationService) RotateKey(ctx context.Context, conversationID, actorID string) (*models.Conversation, error) {
	conv, err := loadMembership(ctx, s.store, s.log, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if conv.Type == models.ConversationGroup {
		if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
			return nil, err
		}
	}
	conv, err = s.rotate(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.pub, s.log, pubsub.ConversationTopic(conversationID), &events.Event{
		Type:           events.TypeKeyRotated,
		ConversationID: conversationID,
		Conversation:   conv,
	})
	return conv, nil
}

// rotate appends the next key version, retrying when a concurrent rotation
// claimed the version first.
func (s *ConversationService) rotate(ctx context.Context, conversationID string) (*models.Conversation, error) {
	for attempt := 0; attempt < maxRotateRetries; attempt++ {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if err != nil {
			if isNotFound(err) {
				return nil, apperr.ErrConversationNotFound
			}
			return nil, apperr.Internal(err)
		}

		version := conv.KeyVersion + 1
		key, record, err := s.keyring.New(conversationID, version)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		record.CreatedAt = s.now().UTC()

		err = s.store.AddConversationKey(ctx, *record)
		if isConflict(err) {
			continue
		}
		if err != nil {
			s.log.Error("failed to store rotated key", "conversation_id", conversationID, "err", err)
			return nil, apperr.Internal(err)
		}

		s.keyring.Remember(conversationID, version, key)
		conv.KeyVersion = version
		conv.UpdatedAt = record.CreatedAt
		conv.EncryptionKey = key
		s.log.Info("conversation key rotated", "conversation_id", conversationID, "version", version)
		return conv, nil
	}
	return nil, apperr.FailedPrecondition("concurrent key rotation, try again")
}
