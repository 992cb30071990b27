package account

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"
)

var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotFriends         = errors.New("users are not friends")
	ErrAlreadyFriends     = errors.New("already friends")
	ErrSelfRequest        = errors.New("cannot send a request to yourself")
	ErrDuplicateRequest   = errors.New("request already pending")
	ErrRequestNotFound    = errors.New("request not found")
)

const (
	DefaultElo = 1200
	kFactor    = 24
)

// Record is a win/draw/loss tally.
type Record struct {
	Wins   int
	Draws  int
	Losses int
}

func (r Record) Slice() []int { return []int{r.Wins, r.Draws, r.Losses} }

// User is the persisted account row.
type User struct {
	Username     string
	PasswordHash string
	Games        int
	Elo          int
	Friends      []string
	AsWhite      Record
	AsBlack      Record
	CreatedAt    time.Time
}

func (u *User) HasFriend(name string) bool {
	for _, f := range u.Friends {
		if f == name {
			return true
		}
	}
	return false
}

func (u *User) addFriend(name string) {
	if !u.HasFriend(name) {
		u.Friends = append(u.Friends, name)
	}
}

// GameRequest is a pending friend-game invitation.
type GameRequest struct {
	Sender     string
	Receiver   string
	TimeFormat string
	CreatedAt  time.Time
}

// Store is the persistence boundary. Implementations return ErrUserNotFound,
// ErrUsernameTaken, ErrDuplicateRequest and ErrRequestNotFound as sentinels.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) error
	GetUser(ctx context.Context, username string) (*User, error)
	UpdatePassword(ctx context.Context, username, passwordHash string) error

	InsertFriendRequest(ctx context.Context, sender, receiver string) error
	PendingFriendRequests(ctx context.Context, receiver string) ([]string, error)
	// ResolveFriendRequest marks the request and, on accept, links both
	// users' friend lists in the same transaction.
	ResolveFriendRequest(ctx context.Context, sender, receiver string, accept bool) error

	InsertGameRequest(ctx context.Context, sender, receiver, timeFormat string) error
	PendingGameRequests(ctx context.Context, receiver string) ([]GameRequest, error)
	ResolveGameRequest(ctx context.Context, sender, receiver string, accept bool) (GameRequest, error)

	// ApplyResult updates both players atomically through update.
	ApplyResult(ctx context.Context, white, black string, update func(w, b *User)) error
}

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9 .\-'_@]+$`)

// ValidUsername: non-empty, does not start with a digit, and limited to
// letters, digits, space and . - ' _ @.
func ValidUsername(name string) bool {
	if name == "" || len(name) > 32 || strings.TrimSpace(name) != name {
		return false
	}
	if unicode.IsDigit(rune(name[0])) {
		return false
	}
	return usernameRe.MatchString(name)
}

// Score is 1 for a win, 0.5 for a draw, 0 for a loss, from White's side.
func scoreFor(result string) (white float64, ok bool) {
	switch result {
	case "white":
		return 1, true
	case "black":
		return 0, true
	case "draw":
		return 0.5, true
	}
	return 0, false
}

// expected is the logistic expected score of a player rated r against opp.
func expected(r, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-r)/400))
}

// applyResult mutates both users for one finished game.
func applyResult(w, b *User, result string) {
	ws, ok := scoreFor(result)
	if !ok {
		return
	}
	we, be := expected(w.Elo, b.Elo), expected(b.Elo, w.Elo)
	w.Elo = int(math.Round(float64(w.Elo) + kFactor*(ws-we)))
	b.Elo = int(math.Round(float64(b.Elo) + kFactor*((1-ws)-be)))
	w.Games++
	b.Games++
	switch result {
	case "white":
		w.AsWhite.Wins++
		b.AsBlack.Losses++
	case "black":
		w.AsWhite.Losses++
		b.AsBlack.Wins++
	default:
		w.AsWhite.Draws++
		b.AsBlack.Draws++
	}
}
