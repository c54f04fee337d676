package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pliu/letschat/internal/apperr"
	"github.com/pliu/letschat/internal/auth"
	"github.com/pliu/letschat/internal/models"
	"github.com/pliu/letschat/internal/store"
)

const (
	minPasswordLen    = 8
	maxDisplayNameLen = 64
	searchLimit       = 10
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

type RegisterInput struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Principal identifies an authenticated request.
type Principal struct {
	UserID    string
	SessionID string
}

type UserService struct {
	store  store.Store
	tokens *auth.TokenIssuer
	log    *slog.Logger
	now    Clock
}

func NewUserService(st store.Store, tokens *auth.TokenIssuer, log *slog.Logger) *UserService {
	return &UserService{store: st, tokens: tokens, log: log, now: time.Now}
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if !usernameRegex.MatchString(username) {
		return nil, apperr.ErrInvalidUsername
	}
	if len(in.Password) < minPasswordLen {
		return nil, apperr.ErrInvalidPassword
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLen {
		return nil, apperr.InvalidArg("display name is too long")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		s.log.Error("failed to hash password", "err", err)
		return nil, apperr.Internal(err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		DisplayName:  displayName,
		Status:       models.StatusOffline,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if isConflict(err) {
			return nil, apperr.ErrUsernameTaken
		}
		s.log.Error("error while saving user in db", "err", err)
		return nil, apperr.Internal(err)
	}
	s.log.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Login checks credentials, records a session and issues an access token.
// The session stores only a hash of the token.
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.ErrInvalidCredentials
		}
		s.log.Error("failed to load user for login", "err", err)
		return nil, apperr.Internal(err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, apperr.ErrInvalidCredentials
	}

	now := s.now().UTC()
	session := &models.UserSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
	}
	token, expires, err := s.tokens.Issue(user.ID, session.ID, now)
	if err != nil {
		s.log.Error("failed to issue token", "err", err)
		return nil, apperr.Internal(err)
	}
	session.TokenHash = auth.HashToken(token)
	session.ExpiresAt = expires

	if err := s.store.CreateSession(ctx, session); err != nil {
		s.log.Error("failed to save session", "err", err)
		return nil, apperr.Internal(err)
	}
	if err := s.store.SetUserStatus(ctx, user.ID, models.StatusOnline, now); err != nil {
		s.log.Warn("failed to mark user online", "user_id", user.ID, "err", err)
	} else {
		user.Status = models.StatusOnline
		user.LastSeen = &now
	}

	return &LoginResult{Token: token, ExpiresAt: expires, User: user}, nil
}

// Authenticate resolves a token to its user, rejecting revoked or expired
// sessions.
func (s *UserService) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, apperr.Unauthorized("missing token")
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnauthenticated, "invalid token", err)
	}
	session, err := s.store.GetSession(ctx, claims.SessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.ErrSessionExpired
		}
		s.log.Error("failed to load session", "err", err)
		return nil, apperr.Internal(err)
	}
	if session.UserID != claims.Subject || !auth.MatchTokenHash(token, session.TokenHash) || !s.now().Before(session.ExpiresAt) {
		return nil, apperr.ErrSessionExpired
	}
	return &Principal{UserID: session.UserID, SessionID: session.ID}, nil
}

func (s *UserService) Logout(ctx context.Context, p *Principal) error {
	if err := s.store.DeleteSession(ctx, p.SessionID); err != nil {
		s.log.Error("failed to delete session", "session_id", p.SessionID, "err", err)
		return apperr.Internal(err)
	}
	return s.SetPresence(ctx, p.UserID, false)
}

func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Internal(err)
	}
	return user, nil
}

// Search finds users by username prefix, excluding the requester.
func (s *UserService) Search(ctx context.Context, requesterID, query string) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.User{}, nil
	}
	users, err := s.store.SearchUsers(ctx, query, searchLimit+1)
	if err != nil {
		s.log.Error("user search failed", "err", err)
		return nil, apperr.Internal(err)
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID != requesterID && len(out) < searchLimit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *UserService) SetPresence(ctx context.Context, userID string, online bool) error {
	status := models.StatusOffline
	if online {
		status = models.StatusOnline
	}
	if err := s.store.SetUserStatus(ctx, userID, status, s.now().UTC()); err != nil {
		if isNotFound(err) {
			return apperr.ErrUserNotFound
		}
		s.log.Error("failed to update presence", "user_id", userID, "err", err)
		return apperr.Internal(err)
	}
	return nil
}

// PruneSessions removes expired sessions.
func (s *UserService) PruneSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.now().UTC())
}
