package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/chess-arena/internal/board"
)

// Inbound command types.
const (
	TypeLoginRequest         = "login_request"
	TypeSignupRequest        = "signup_request"
	TypeRequestGame          = "request_game"
	TypeCancelRequest        = "cancel_request"
	TypeMove                 = "move"
	TypeTimeOut              = "time_out"
	TypeGameResult           = "game_result"
	TypeResign               = "resign"
	TypeSpectateRequest      = "spectate_request"
	TypeStopSpectate         = "stop_spectate"
	TypeListGames            = "list_games"
	TypeAddFriend            = "add_friend"
	TypeListFriendRequests   = "list_friend_requests"
	TypeRespondFriendRequest = "respond_friend_request"
	TypeSendGameRequest      = "send_game_request"
	TypeListGameRequests     = "list_game_requests"
	TypeRespondGameRequest   = "respond_game_request"
	TypePasswordChange       = "password_change"
	TypeViewProfile          = "view_profile"
	TypeHint                 = "hint"
	TypeEvaluateMove         = "evaluate_move"
)

// Outbound record types not shared with a command name.
const (
	TypeError              = "error"
	TypeGameUpdate         = "game_update"
	TypeGameStart          = "game_start"
	TypeMoveAck            = "move_ack"
	TypeOpponentMove       = "opponent_move"
	TypeGameEnd            = "game_end"
	TypeSpectateAccept     = "spectate_accept"
	TypeGamesList          = "games_list"
	TypeAddFriendAck       = "add_friend_ack"
	TypeFriendRequests     = "friend_requests"
	TypeRespondFriendAck   = "respond_friend_ack"
	TypeSendGameRequestAck = "send_game_request_ack"
	TypeGameRequests       = "game_requests"
	TypeRespondGameAck     = "respond_game_ack"
	TypeProfileInfo        = "profile_info"
	TypeMoveEvaluation     = "move_evaluation"
)

const (
	StatusOK      = "OK"
	StatusError   = "ERROR"
	StatusWaiting = "WAITING"
)

const (
	GameTypeRandom = "random"
	GameTypeFriend = "friend_game"
)

// Coord is a [rank, file] pair on the wire. Algebraic strings such as "e2"
// are accepted on input.
type Coord [2]int

func CoordOf(sq board.Square) Coord { return Coord{sq.Rank, sq.File} }

func (c Coord) Square() board.Square { return board.Sq(c[0], c[1]) }

func (c *Coord) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		sq, err := board.ParseSquare(s)
		if err != nil {
			return err
		}
		*c = CoordOf(sq)
		return nil
	}
	var pair []int
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("coord: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("coord: want [rank, file], got %d values", len(pair))
	}
	*c = Coord{pair[0], pair[1]}
	return nil
}

// ClockMs is the server clock in milliseconds.
type ClockMs struct {
	WhiteMs int64 `json:"white_ms"`
	BlackMs int64 `json:"black_ms"`
}

// ---- inbound ----

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RequestGame struct {
	TimeFormat     string `json:"time_format,omitempty"`
	Time           string `json:"time,omitempty"` // legacy alias of time_format
	GameType       string `json:"game_type,omitempty"`
	FriendUsername string `json:"friend_username,omitempty"`
}

// Format returns time_format, falling back to the legacy field.
func (r RequestGame) Format() string {
	if s := strings.TrimSpace(r.TimeFormat); s != "" {
		return s
	}
	return strings.TrimSpace(r.Time)
}

type Move struct {
	GameID string   `json:"game_id"`
	From   Coord    `json:"from"`
	To     Coord    `json:"to"`
	Clock  *float64 `json:"clock,omitempty"`
}

type TimeOut struct {
	Type   string `json:"type,omitempty"`
	GameID string `json:"game_id"`
	Loser  string `json:"loser"`
	Winner string `json:"winner"`
}

type GameResult struct {
	GameID string `json:"game_id"`
	Result string `json:"result"`
}

type GameRef struct {
	GameID string `json:"game_id"`
}

type AddFriend struct {
	Username string `json:"username"`
}

type RespondRequest struct {
	FromUser string `json:"from_user"`
	Accept   bool   `json:"accept"`
}

type SendGameRequest struct {
	To         string `json:"to"`
	TimeFormat string `json:"time_format"`
}

type PasswordChange struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type EvaluateMove struct {
	GameID string `json:"game_id"`
	From   Coord  `json:"from"`
	To     Coord  `json:"to"`
}

// ---- outbound ----

type StatusReply struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type ErrorReply struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

func Error(msg string) ErrorReply { return ErrorReply{Type: TypeError, Msg: msg} }

type GameStart struct {
	Type        string  `json:"type"`
	GameID      string  `json:"game_id"`
	Color       string  `json:"color"`
	TimeFormat  string  `json:"time_format"`
	CurrentTurn string  `json:"current_turn"`
	Opponent    string  `json:"opponent"`
	FEN         string  `json:"fen"`
	Clock       ClockMs `json:"clock"`
}

type MoveAck struct {
	Type   string   `json:"type"`
	Status string   `json:"status"`
	Reason string   `json:"reason,omitempty"`
	GameID string   `json:"game_id,omitempty"`
	FEN    string   `json:"fen,omitempty"`
	Clock  *ClockMs `json:"clock,omitempty"`
}

// MoveRelay is opponent_move, sent to the opponent and to spectators.
type MoveRelay struct {
	Type   string  `json:"type"`
	GameID string  `json:"game_id"`
	From   Coord   `json:"from"`
	To     Coord   `json:"to"`
	Move   string  `json:"move"`
	FEN    string  `json:"fen"`
	Clock  ClockMs `json:"clock"`
}

type GameEnd struct {
	Type   string `json:"type"`
	GameID string `json:"game_id"`
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
	FEN    string `json:"fen,omitempty"`
}

type SpectateAccept struct {
	Type        string   `json:"type"`
	Status      string   `json:"status"`
	Reason      string   `json:"reason,omitempty"`
	GameID      string   `json:"game_id,omitempty"`
	FEN         string   `json:"fen,omitempty"`
	ColorToMove string   `json:"color_to_move,omitempty"`
	White       string   `json:"white,omitempty"`
	Black       string   `json:"black,omitempty"`
	Moves       []string `json:"moves,omitempty"`
	Clock       *ClockMs `json:"clock,omitempty"`
}

type GameInfo struct {
	GameID     string `json:"game_id"`
	White      string `json:"white"`
	Black      string `json:"black"`
	TimeFormat string `json:"time_format"`
}

type GamesList struct {
	Type  string     `json:"type"`
	Games []GameInfo `json:"games"`
}

type Ack struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Msg     string `json:"msg,omitempty"`
}

type OK struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
	Msg  string `json:"msg,omitempty"`
}

type NameList struct {
	Type string   `json:"type"`
	List []string `json:"list"`
}

type GameRequestInfo struct {
	Sender     string `json:"sender"`
	TimeFormat string `json:"time_format"`
}

type GameRequestList struct {
	Type string            `json:"type"`
	List []GameRequestInfo `json:"list"`
}

type ProfileInfo struct {
	Type        string   `json:"type"`
	Username    string   `json:"username"`
	GamesPlayed int      `json:"games_played"`
	Elo         int      `json:"elo"`
	Friends     []string `json:"friends"`
	AsWhite     []int    `json:"as_white"`
	AsBlack     []int    `json:"as_black"`
}

type HintMove struct {
	Move   string `json:"move"`
	EvalCP int    `json:"eval_cp"`
	Mate   int    `json:"mate,omitempty"`
}

type HintReply struct {
	Type  string     `json:"type"`
	Moves []HintMove `json:"moves"`
}

type MoveEvaluation struct {
	Type      string `json:"type"`
	Move      string `json:"move"`
	DeltaCP   int    `json:"delta_cp"`
	BestReply string `json:"best_reply,omitempty"`
	Verdict   string `json:"verdict"`
}
