package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/park285/chess-arena/internal/obslog"
)

// Profile is the public view of a user.
type Profile struct {
	Username    string
	GamesPlayed int
	Elo         int
	Friends     []string
	AsWhite     Record
	AsBlack     Record
}

// Service wraps a Store with hashing and request rules.
type Service struct {
	store Store
	cost  int
}

type ServiceOption func(*Service)

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func WithHashCost(cost int) ServiceOption {
	return func(s *Service) { s.cost = cost }
}

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, cost: bcrypt.DefaultCost}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Signup(ctx context.Context, username, password string) error {
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}
	if password == "" {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.CreateUser(ctx, username, string(hash)); err != nil {
		return err
	}
	obslog.L().Info("account_created", zap.String("username", username))
	return nil
}

// Login verifies credentials. An unknown username is registered on the spot
// with the given password.
func (s *Service) Login(ctx context.Context, username, password string) error {
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}
	u, err := s.store.GetUser(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		err = s.Signup(ctx, username, password)
		if errors.Is(err, ErrUsernameTaken) {
			// lost a race with a concurrent signup; verify against it
			return s.Login(ctx, username, password)
		}
		return err
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	if newPassword == "" {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdatePassword(ctx, username, string(hash))
}

func (s *Service) Profile(ctx context.Context, username string) (*Profile, error) {
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return &Profile{
		Username:    u.Username,
		GamesPlayed: u.Games,
		Elo:         u.Elo,
		Friends:     append([]string{}, u.Friends...),
		AsWhite:     u.AsWhite,
		AsBlack:     u.AsBlack,
	}, nil
}

func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	u, err := s.store.GetUser(ctx, a)
	if err != nil {
		return false, err
	}
	return u.HasFriend(b), nil
}

func (s *Service) SendFriendRequest(ctx context.Context, sender, receiver string) error {
	receiver = strings.TrimSpace(receiver)
	if sender == receiver {
		return ErrSelfRequest
	}
	u, err := s.store.GetUser(ctx, sender)
	if err != nil {
		return err
	}
	if u.HasFriend(receiver) {
		return ErrAlreadyFriends
	}
	if _, err := s.store.GetUser(ctx, receiver); err != nil {
		return err
	}
	return s.store.InsertFriendRequest(ctx, sender, receiver)
}

func (s *Service) FriendRequests(ctx context.Context, username string) ([]string, error) {
	return s.store.PendingFriendRequests(ctx, username)
}

func (s *Service) RespondFriendRequest(ctx context.Context, receiver, sender string, accept bool) error {
	return s.store.ResolveFriendRequest(ctx, sender, receiver, accept)
}

// SendGameRequest invites a friend to a game with the given time format.
func (s *Service) SendGameRequest(ctx context.Context, sender, receiver, timeFormat string) error {
	receiver = strings.TrimSpace(receiver)
	if sender == receiver {
		return ErrSelfRequest
	}
	ok, err := s.AreFriends(ctx, sender, receiver)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFriends
	}
	return s.store.InsertGameRequest(ctx, sender, receiver, timeFormat)
}

func (s *Service) GameRequests(ctx context.Context, username string) ([]GameRequest, error) {
	return s.store.PendingGameRequests(ctx, username)
}

func (s *Service) RespondGameRequest(ctx context.Context, receiver, sender string, accept bool) (GameRequest, error) {
	return s.store.ResolveGameRequest(ctx, sender, receiver, accept)
}

// RecordResult applies a finished game ("white", "black" or "draw") to both
// players' counters and ratings.
func (s *Service) RecordResult(ctx context.Context, white, black, result string) error {
	if _, ok := scoreFor(result); !ok {
		return fmt.Errorf("record result: unknown result %q", result)
	}
	var wElo, bElo int
	err := s.store.ApplyResult(ctx, white, black, func(w, b *User) {
		applyResult(w, b, result)
		wElo, bElo = w.Elo, b.Elo
	})
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	obslog.L().Info("account_result",
		zap.String("white", white),
		zap.String("black", black),
		zap.String("result", result),
		zap.Int("white_elo", wElo),
		zap.Int("black_elo", bElo),
	)
	return nil
}
