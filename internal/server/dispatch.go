package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/account"
	"github.com/park285/chess-arena/internal/analysis"
	"github.com/park285/chess-arena/internal/board"
	"github.com/park285/chess-arena/internal/directory"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/session"
)

const (
	storeTimeout    = 5 * time.Second
	analysisTimeout = 30 * time.Second
)

type name struct{ Name string }

// dispatch handles one inbound record. Replies go through the outbox so
// they stay ordered with session events.
func (s *Server) dispatch(ctx context.Context, c *conn, env protocol.Envelope) {
	if c.Username() == "" {
		s.handleLogin(ctx, c, env)
		return
	}
	var err error
	switch env.Type {
	case protocol.TypeLoginRequest, protocol.TypeSignupRequest:
		err = c.send(protocol.StatusReply{Type: env.Type, Status: protocol.StatusOK})
	case protocol.TypeRequestGame:
		err = s.handleRequestGame(ctx, c, env)
	case protocol.TypeCancelRequest:
		s.deps.Queue.Cancel(c.id)
		err = c.send(protocol.StatusReply{Type: env.Type, Status: protocol.StatusOK})
	case protocol.TypeMove:
		err = s.handleMove(c, env)
	case protocol.TypeTimeOut:
		err = s.handleTimeOut(c, env)
	case protocol.TypeGameResult:
		err = s.handleGameResult(c, env)
	case protocol.TypeResign:
		err = s.handleResign(c, env)
	case protocol.TypeSpectateRequest:
		err = s.handleSpectate(c, env)
	case protocol.TypeStopSpectate:
		var req protocol.GameRef
		if err = env.Decode(&req); err == nil {
			s.deps.Directory.StopSpectate(req.GameID, c.id)
			err = c.send(protocol.StatusReply{Type: env.Type, Status: protocol.StatusOK})
		}
	case protocol.TypeListGames:
		err = s.handleListGames(c)
	case protocol.TypeAddFriend:
		err = s.handleAddFriend(ctx, c, env)
	case protocol.TypeListFriendRequests:
		err = s.handleListFriendRequests(ctx, c)
	case protocol.TypeRespondFriendRequest:
		err = s.handleRespondFriend(ctx, c, env)
	case protocol.TypeSendGameRequest:
		err = s.handleSendGameRequest(ctx, c, env)
	case protocol.TypeListGameRequests:
		err = s.handleListGameRequests(ctx, c)
	case protocol.TypeRespondGameRequest:
		err = s.handleRespondGameRequest(ctx, c, env)
	case protocol.TypePasswordChange:
		err = s.handlePasswordChange(ctx, c, env)
	case protocol.TypeViewProfile:
		err = s.handleViewProfile(ctx, c)
	case protocol.TypeHint:
		err = s.handleHint(c, env)
	case protocol.TypeEvaluateMove:
		err = s.handleEvaluateMove(c, env)
	default:
		err = c.send(protocol.Error(s.text("cmd.unknown", map[string]string{"Cmd": env.Type})))
	}
	if errors.Is(err, protocol.ErrMalformed) {
		c.log.Warn("frame_malformed", zap.String("type", env.Type), zap.Error(err))
		return
	}
	if err != nil {
		c.log.Debug("dispatch_failed", zap.String("type", env.Type), zap.Error(err))
	}
}

func (s *Server) handleLogin(ctx context.Context, c *conn, env protocol.Envelope) {
	if env.Type != protocol.TypeLoginRequest && env.Type != protocol.TypeSignupRequest {
		_ = c.send(protocol.Error(s.text("login.bad_cmd", map[string]string{"Cmd": env.Type})))
		return
	}
	var cred protocol.Credentials
	if err := env.Decode(&cred); err != nil {
		c.log.Warn("frame_malformed", zap.String("type", env.Type), zap.Error(err))
		return
	}
	cred.Username = strings.TrimSpace(cred.Username)

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	var err error
	if env.Type == protocol.TypeSignupRequest {
		err = s.deps.Accounts.Signup(sctx, cred.Username, cred.Password)
	} else {
		err = s.deps.Accounts.Login(sctx, cred.Username, cred.Password)
	}
	if err == nil && !s.login(c, cred.Username) {
		_ = c.send(protocol.StatusReply{Type: env.Type, Status: protocol.StatusError,
			Reason: s.text("login.already_online", name{cred.Username})})
		return
	}
	if err != nil {
		_ = c.send(protocol.StatusReply{Type: env.Type, Status: protocol.StatusError, Reason: s.loginReason(err)})
		c.log.Info("login_failed", zap.String("username", cred.Username), zap.Error(err))
		return
	}
	c.log.Info("login_ok", zap.String("user", cred.Username), zap.String("via", env.Type))
	_ = c.send(protocol.StatusReply{Type: env.Type, Status: protocol.StatusOK})
}

func (s *Server) loginReason(err error) string {
	switch {
	case errors.Is(err, account.ErrUsernameTaken):
		return s.text("login.username_taken", nil)
	case errors.Is(err, account.ErrInvalidUsername):
		return s.text("login.invalid_username", nil)
	case errors.Is(err, account.ErrInvalidCredentials):
		return s.text("login.invalid_credentials", nil)
	}
	return s.text("internal", nil)
}

func (s *Server) handleRequestGame(ctx context.Context, c *conn, env protocol.Envelope) error {
	var req protocol.RequestGame
	if err := env.Decode(&req); err != nil {
		return err
	}
	if _, busy := s.deps.Directory.GameOf(c.id); busy {
		return c.send(protocol.Error(s.text("game.already_playing", nil)))
	}
	f := s.deps.DefaultFormat
	if raw := req.Format(); raw != "" {
		parsed, err := session.ParseTimeFormat(raw)
		if err != nil {
			return c.send(protocol.Error(s.text("game.bad_time_format", map[string]string{"Format": raw})))
		}
		f = parsed
	}
	e := matchmaking.Entry{Player: session.Player{Name: c.Username(), Peer: c}, Format: f}
	if req.GameType == protocol.GameTypeFriend {
		friend := strings.TrimSpace(req.FriendUsername)
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		ok, err := s.deps.Accounts.AreFriends(sctx, c.Username(), friend)
		cancel()
		if err != nil || !ok {
			return c.send(protocol.Error(s.text("friend.not_friends", name{friend})))
		}
		e.Friend = friend
	}
	res, err := s.deps.Queue.RequestMatch(e)
	switch {
	case errors.Is(err, matchmaking.ErrQueueClosed), errors.Is(err, directory.ErrClosed):
		return c.send(protocol.Error(s.text("game.queue_closed", nil)))
	case errors.Is(err, matchmaking.ErrSelfMatch):
		return c.send(protocol.Error(s.text("friend.self", nil)))
	case errors.Is(err, directory.ErrAlreadyPlaying):
		return c.send(protocol.Error(s.text("game.already_playing", nil)))
	case err != nil:
		c.log.Warn("request_game_failed", zap.Error(err))
		return c.send(protocol.Error(s.text("internal", nil)))
	}
	if res.Waiting {
		return c.send(protocol.StatusReply{Type: protocol.TypeGameUpdate, Status: protocol.StatusWaiting})
	}
	// Paired: game_start reached both players through the session.
	return nil
}

func (s *Server) handleMove(c *conn, env protocol.Envelope) error {
	var req protocol.Move
	if err := env.Decode(&req); err != nil {
		_ = c.send(protocol.MoveAck{Type: protocol.TypeMoveAck, Status: protocol.StatusError, Reason: s.text("move.malformed", nil)})
		return err
	}
	m := board.Move{From: req.From.Square(), To: req.To.Square()}
	if _, err := s.deps.Directory.Move(c.id, req.GameID, m); err != nil {
		return c.send(protocol.MoveAck{
			Type:   protocol.TypeMoveAck,
			Status: protocol.StatusError,
			Reason: s.moveReason(err),
			GameID: req.GameID,
		})
	}
	// The OK ack was queued by the session, ahead of the opponent's relay.
	return nil
}

func (s *Server) moveReason(err error) string {
	if r := board.ReasonOf(err); r != "" {
		return s.text("move."+string(r), nil)
	}
	switch {
	case errors.Is(err, directory.ErrSessionNotFound):
		return s.text("game.not_found", nil)
	case errors.Is(err, session.ErrNotParticipant):
		return s.text("move.not_participant", nil)
	}
	return s.text("internal", nil)
}

// principal resolves the game c is playing, replying with an error when
// there is none.
func (s *Server) principal(c *conn, gameID string) (*session.Session, bool) {
	sess, err := s.deps.Directory.Resolve(c.id, gameID)
	if err != nil {
		_ = c.send(protocol.Error(s.text("game.not_found", nil)))
		return nil, false
	}
	if _, ok := sess.ColorOf(c.id); !ok {
		_ = c.send(protocol.Error(s.text("move.not_participant", nil)))
		return nil, false
	}
	return sess, true
}

func (s *Server) endReason(err error) string {
	switch {
	case errors.Is(err, session.ErrResultDisputed):
		return s.text("game.result_disputed", nil)
	case errors.Is(err, board.ErrGameOver):
		return s.text("move.game_over", nil)
	case errors.Is(err, session.ErrNotParticipant):
		return s.text("move.not_participant", nil)
	}
	return s.text("internal", nil)
}

func (s *Server) handleTimeOut(c *conn, env protocol.Envelope) error {
	var req protocol.TimeOut
	if err := env.Decode(&req); err != nil {
		return err
	}
	sess, ok := s.principal(c, req.GameID)
	if !ok {
		return nil
	}
	loser, err := sideOf(sess, req.Loser)
	if err != nil {
		return c.send(protocol.Error(s.text("game.result_disputed", nil)))
	}
	if _, err := sess.ClaimTimeout(c.id, loser); err != nil {
		return c.send(protocol.Error(s.endReason(err)))
	}
	return nil
}

// sideOf accepts a color token or a player name.
func sideOf(sess *session.Session, who string) (board.Color, error) {
	who = strings.TrimSpace(who)
	if col, err := board.ParseColor(who); err == nil {
		return col, nil
	}
	for _, col := range []board.Color{board.White, board.Black} {
		if sess.Player(col).Name == who {
			return col, nil
		}
	}
	return board.White, session.ErrResultDisputed
}

func (s *Server) handleGameResult(c *conn, env protocol.Envelope) error {
	var req protocol.GameResult
	if err := env.Decode(&req); err != nil {
		return err
	}
	sess, ok := s.principal(c, req.GameID)
	if !ok {
		return nil
	}
	result := strings.ToLower(strings.TrimSpace(req.Result))
	o, err := sess.ReportResult(c.id, result)
	if err != nil {
		return c.send(protocol.Error(s.endReason(err)))
	}
	if o.Kind == "" {
		// Draw offer recorded; the game goes on until the opponent agrees.
		return c.send(protocol.StatusReply{Type: protocol.TypeGameResult, Status: protocol.StatusWaiting})
	}
	return nil
}

func (s *Server) handleResign(c *conn, env protocol.Envelope) error {
	var req protocol.GameRef
	if err := env.Decode(&req); err != nil {
		return err
	}
	sess, ok := s.principal(c, req.GameID)
	if !ok {
		return nil
	}
	if _, err := sess.Resign(c.id); err != nil {
		return c.send(protocol.Error(s.endReason(err)))
	}
	return nil
}

func (s *Server) handleSpectate(c *conn, env protocol.Envelope) error {
	var req protocol.GameRef
	if err := env.Decode(&req); err != nil {
		return err
	}
	snap, err := s.deps.Directory.Spectate(req.GameID, c)
	if err != nil {
		return c.send(protocol.SpectateAccept{
			Type:   protocol.TypeSpectateAccept,
			Status: protocol.StatusError,
			Reason: s.text("game.spectate_not_found", nil),
			GameID: req.GameID,
		})
	}
	ck := clockMs(snap.Clock)
	moves := make([]string, len(snap.Moves))
	for i, m := range snap.Moves {
		moves[i] = m.UCI()
	}
	return c.send(protocol.SpectateAccept{
		Type:        protocol.TypeSpectateAccept,
		Status:      protocol.StatusOK,
		GameID:      snap.ID,
		FEN:         snap.FEN,
		ColorToMove: snap.Turn.String(),
		White:       snap.White,
		Black:       snap.Black,
		Moves:       moves,
		Clock:       &ck,
	})
}

func (s *Server) handleListGames(c *conn) error {
	live := s.deps.Directory.List()
	games := make([]protocol.GameInfo, 0, len(live))
	for _, snap := range live {
		games = append(games, protocol.GameInfo{
			GameID:     snap.ID,
			White:      snap.White,
			Black:      snap.Black,
			TimeFormat: snap.Format.String(),
		})
	}
	return c.send(protocol.GamesList{Type: protocol.TypeGamesList, Games: games})
}

func (s *Server) handleAddFriend(ctx context.Context, c *conn, env protocol.Envelope) error {
	var req protocol.AddFriend
	if err := env.Decode(&req); err != nil {
		return err
	}
	target := strings.TrimSpace(req.Username)
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	err := s.deps.Accounts.SendFriendRequest(sctx, c.Username(), target)
	ack := protocol.Ack{Type: protocol.TypeAddFriendAck, Success: err == nil}
	switch {
	case err == nil:
		ack.Msg = s.text("friend.request_sent", name{target})
	case errors.Is(err, account.ErrSelfRequest):
		ack.Msg = s.text("friend.self", nil)
	case errors.Is(err, account.ErrAlreadyFriends):
		ack.Msg = s.text("friend.already", name{target})
	case errors.Is(err, account.ErrDuplicateRequest):
		ack.Msg = s.text("friend.duplicate", nil)
	case errors.Is(err, account.ErrUserNotFound):
		ack.Msg = s.text("friend.unknown_user", name{target})
	default:
		c.log.Warn("add_friend_failed", zap.Error(err))
		ack.Msg = s.text("internal", nil)
	}
	return c.send(ack)
}

func (s *Server) handleListFriendRequests(ctx context.Context, c *conn) error {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	list, err := s.deps.Accounts.FriendRequests(sctx, c.Username())
	if err != nil {
		c.log.Warn("list_friend_requests_failed", zap.Error(err))
	}
	if list == nil {
		list = []string{}
	}
	return c.send(protocol.NameList{Type: protocol.TypeFriendRequests, List: list})
}

func (s *Server) handleRespondFriend(ctx context.Context, c *conn, env protocol.Envelope) error {
	var req protocol.RespondRequest
	if err := env.Decode(&req); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	err := s.deps.Accounts.RespondFriendRequest(sctx, c.Username(), strings.TrimSpace(req.FromUser), req.Accept)
	reply := protocol.OK{Type: protocol.TypeRespondFriendAck, OK: err == nil}
	if errors.Is(err, account.ErrRequestNotFound) {
		reply.Msg = s.text("game.request_not_found", name{req.FromUser})
	}
	return c.send(reply)
}

func (s *Server) handleSendGameRequest(ctx context.Context, c *conn, env protocol.Envelope) error {
	var req protocol.SendGameRequest
	if err := env.Decode(&req); err != nil {
		return err
	}
	to := strings.TrimSpace(req.To)
	ack := protocol.Ack{Type: protocol.TypeSendGameRequestAck}
	f, err := session.ParseTimeFormat(req.TimeFormat)
	if err != nil {
		ack.Msg = s.text("game.bad_time_format", map[string]string{"Format": req.TimeFormat})
		return c.send(ack)
	}
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	err = s.deps.Accounts.SendGameRequest(sctx, c.Username(), to, f.String())
	switch {
	case err == nil:
		ack.Success = true
		ack.Msg = s.text("friend.game_request_sent", name{to})
	case errors.Is(err, account.ErrSelfRequest):
		ack.Msg = s.text("friend.self", nil)
	case errors.Is(err, account.ErrNotFriends), errors.Is(err, account.ErrUserNotFound):
		ack.Msg = s.text("friend.not_friends", name{to})
	case errors.Is(err, account.ErrDuplicateRequest):
		ack.Msg = s.text("friend.duplicate", nil)
	default:
		c.log.Warn("send_game_request_failed", zap.Error(err))
		ack.Msg = s.text("internal", nil)
	}
	return c.send(ack)
}

func (s *Server) handleListGameRequests(ctx context.Context, c *conn) error {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	reqs, err := s.deps.Accounts.GameRequests(sctx, c.Username())
	if err != nil {
		c.log.Warn("list_game_requests_failed", zap.Error(err))
	}
	list := make([]protocol.GameRequestInfo, 0, len(reqs))
	for _, r := range reqs {
		list = append(list, protocol.GameRequestInfo{Sender: r.Sender, TimeFormat: r.TimeFormat})
	}
	return c.send(protocol.GameRequestList{Type: protocol.TypeGameRequests, List: list})
}

// handleRespondGameRequest starts the friend game on accept, with the
// inviter as White. The inviter must still be online.
func (s *Server) handleRespondGameRequest(ctx context.Context, c *conn, env protocol.Envelope) error {
	var req protocol.RespondRequest
	if err := env.Decode(&req); err != nil {
		return err
	}
	from := strings.TrimSpace(req.FromUser)
	sender := s.onlineConn(from)
	if req.Accept && sender == nil {
		return c.send(protocol.OK{Type: protocol.TypeRespondGameAck, Msg: s.text("game.friend_offline", name{from})})
	}
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	gr, err := s.deps.Accounts.RespondGameRequest(sctx, c.Username(), from, req.Accept)
	if err != nil {
		msg := s.text("internal", nil)
		if errors.Is(err, account.ErrRequestNotFound) {
			msg = s.text("game.request_not_found", name{from})
		}
		return c.send(protocol.OK{Type: protocol.TypeRespondGameAck, Msg: msg})
	}
	reply := protocol.OK{Type: protocol.TypeRespondGameAck, OK: true}
	if req.Accept {
		f, err := session.ParseTimeFormat(gr.TimeFormat)
		if err != nil {
			f = s.deps.DefaultFormat
		}
		_, err = s.deps.Queue.Direct(
			session.Player{Name: from, Peer: sender},
			session.Player{Name: c.Username(), Peer: c},
			f,
		)
		if err != nil {
			reply.OK = false
			reply.Msg = s.text("game.already_playing", nil)
			if errors.Is(err, matchmaking.ErrQueueClosed) || errors.Is(err, directory.ErrClosed) {
				reply.Msg = s.text("game.queue_closed", nil)
			}
		}
	}
	if sender != nil {
		_ = sender.send(reply)
	}
	return c.send(reply)
}

func (s *Server) handlePasswordChange(ctx context.Context, c *conn, env protocol.Envelope) error {
	var req protocol.PasswordChange
	if err := env.Decode(&req); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	err := s.deps.Accounts.ChangePassword(sctx, c.Username(), req.OldPassword, req.NewPassword)
	reply := protocol.StatusReply{Type: protocol.TypePasswordChange, Status: protocol.StatusOK}
	if err != nil {
		reply.Status = protocol.StatusError
		reply.Reason = s.text("internal", nil)
		if errors.Is(err, account.ErrInvalidCredentials) {
			reply.Reason = s.text("profile.old_password", nil)
		}
	}
	return c.send(reply)
}

func (s *Server) handleViewProfile(ctx context.Context, c *conn) error {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	p, err := s.deps.Accounts.Profile(sctx, c.Username())
	if err != nil {
		return c.send(protocol.Error(s.text("profile.not_found", nil)))
	}
	return c.send(protocol.ProfileInfo{
		Type:        protocol.TypeProfileInfo,
		Username:    p.Username,
		GamesPlayed: p.GamesPlayed,
		Elo:         p.Elo,
		Friends:     p.Friends,
		AsWhite:     p.AsWhite.Slice(),
		AsBlack:     p.AsBlack.Slice(),
	})
}

// analysisFEN returns the position the engine should look at, or replies
// with an error.
func (s *Server) analysisFEN(c *conn, gameID string) (string, bool) {
	if !s.deps.Advisor.Available() {
		_ = c.send(protocol.Error(s.text("analysis.unavailable", nil)))
		return "", false
	}
	sess, err := s.deps.Directory.Resolve(c.id, gameID)
	if err != nil {
		_ = c.send(protocol.Error(s.text("game.not_found", nil)))
		return "", false
	}
	return sess.Snapshot().FEN, true
}

// Engine searches take seconds, so they run off the reader goroutine.
func (s *Server) handleHint(c *conn, env protocol.Envelope) error {
	var req protocol.GameRef
	if err := env.Decode(&req); err != nil {
		return err
	}
	fen, ok := s.analysisFEN(c, req.GameID)
	if !ok {
		return nil
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
		defer cancel()
		lines, err := s.deps.Advisor.BestMoves(ctx, fen)
		if err != nil {
			c.log.Warn("hint_failed", zap.Error(err))
			_ = c.send(protocol.Error(s.text("analysis.unavailable", nil)))
			return
		}
		moves := make([]protocol.HintMove, 0, len(lines))
		for _, l := range lines {
			moves = append(moves, protocol.HintMove{Move: l.Move, EvalCP: l.EvalCP, Mate: l.Mate})
		}
		_ = c.send(protocol.HintReply{Type: protocol.TypeHint, Moves: moves})
	}()
	return nil
}

func (s *Server) handleEvaluateMove(c *conn, env protocol.Envelope) error {
	var req protocol.EvaluateMove
	if err := env.Decode(&req); err != nil {
		return err
	}
	fen, ok := s.analysisFEN(c, req.GameID)
	if !ok {
		return nil
	}
	m := board.Move{From: req.From.Square(), To: req.To.Square()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
		defer cancel()
		ev, err := s.deps.Advisor.EvaluateMove(ctx, fen, m)
		if err != nil {
			if r := board.ReasonOf(err); r != "" {
				_ = c.send(protocol.Error(s.text("move."+string(r), nil)))
				return
			}
			if !errors.Is(err, analysis.ErrUnavailable) {
				c.log.Warn("evaluate_move_failed", zap.Error(err))
			}
			_ = c.send(protocol.Error(s.text("analysis.unavailable", nil)))
			return
		}
		_ = c.send(protocol.MoveEvaluation{
			Type:      protocol.TypeMoveEvaluation,
			Move:      ev.Move,
			DeltaCP:   ev.DeltaCP,
			BestReply: ev.BestReply,
			Verdict:   string(ev.Verdict),
		})
	}()
	return nil
}
