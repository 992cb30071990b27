package analysis

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

const (
	readyTimeout = 4 * time.Second
	mateScore    = 30000
)

type Options struct {
	Threads int
	HashMB  int
	MultiPV int
}

type Limits struct {
	Depth          int
	MoveTimeMillis int
}

// Line is one principal variation reported by the engine, scored from the
// side to move.
type Line struct {
	Move   string
	EvalCP int
	Mate   int
	PV     []string
}

type SearchRequest struct {
	FEN    string
	Moves  []string
	Limits Limits
}

type SearchResult struct {
	Lines    []Line
	BestMove string
}

// Engine is one running UCI process. Searches are serialized.
type Engine struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	wmu    sync.Mutex
	search sync.Mutex
}

func StartEngine(ctx context.Context, binaryPath string, opt Options) (*Engine, error) {
	if opt.MultiPV <= 0 {
		return nil, fmt.Errorf("multipv must be > 0: %d", opt.MultiPV)
	}
	cmd := exec.CommandContext(ctx, binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	e := &Engine{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}
	if err := e.handshake(ctx, opt); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) handshake(ctx context.Context, opt Options) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := e.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := e.awaitToken(ctx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	hash := opt.HashMB
	if hash <= 0 {
		hash = 16
	}
	for _, c := range []string{
		fmt.Sprintf("setoption name Threads value %d\n", threads),
		fmt.Sprintf("setoption name Hash value %d\n", hash),
		fmt.Sprintf("setoption name MultiPV value %d\n", opt.MultiPV),
	} {
		if err := e.send(c); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return e.Ready(ctx)
}

// Ready round-trips isready.
func (e *Engine) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := e.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := e.awaitToken(ctx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (e *Engine) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	e.search.Lock()
	defer e.search.Unlock()

	if err := e.send(positionCommand(req.FEN, req.Moves)); err != nil {
		return SearchResult{}, fmt.Errorf("send position: %w", err)
	}
	goCmd, err := goCommand(req.Limits)
	if err != nil {
		return SearchResult{}, err
	}
	if err := e.send(goCmd); err != nil {
		return SearchResult{}, fmt.Errorf("send go: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout(req.Limits))
	defer cancel()
	lines := make(map[int]Line)
	for {
		line, err := e.readLine(ctx)
		if err != nil {
			obslog.L().Warn("engine_read_failed", zap.String("fen", req.FEN), zap.Error(err))
			return SearchResult{}, fmt.Errorf("read line: %w", err)
		}
		switch {
		case strings.HasPrefix(line, "info "):
			if idx, l, ok := parseInfo(line); ok {
				lines[idx] = l
			}
		case strings.HasPrefix(line, "bestmove"):
			res := SearchResult{Lines: collapse(lines)}
			if f := strings.Fields(line); len(f) >= 2 {
				res.BestMove = f[1]
			}
			return res, nil
		}
	}
}

func (e *Engine) Close() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if e.stdin != nil {
		_, _ = io.WriteString(e.stdin, "quit\n")
		e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	if e.cmd != nil {
		return e.cmd.Wait()
	}
	return nil
}

func (e *Engine) send(msg string) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	_, err := io.WriteString(e.stdin, msg)
	return err
}

func (e *Engine) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := e.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (e *Engine) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := e.stdout.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}

func positionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func goCommand(l Limits) (string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if len(args) == 1 {
		return "", fmt.Errorf("no search limits specified")
	}
	return strings.Join(args, " ") + "\n", nil
}

func searchTimeout(l Limits) time.Duration {
	if l.MoveTimeMillis > 0 {
		return time.Duration(l.MoveTimeMillis)*time.Millisecond + 3*time.Second
	}
	d := time.Duration(l.Depth) * 300 * time.Millisecond
	return min(max(d, 6*time.Second), 20*time.Second)
}

// parseInfo extracts the multipv index and scored line from an info row.
func parseInfo(line string) (int, Line, bool) {
	parts := strings.Fields(line)
	idx := 1
	var l Line
	pv := -1
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					idx = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				v, err := strconv.Atoi(parts[i+2])
				if err == nil {
					switch parts[i+1] {
					case "cp":
						l.EvalCP = v
					case "mate":
						l.Mate = v
						l.EvalCP = mateScore
						if v < 0 {
							l.EvalCP = -mateScore
						}
					}
				}
				i += 2
			}
		case "pv":
			pv = i + 1
			i = len(parts)
		}
	}
	if pv < 0 || pv >= len(parts) {
		return 0, Line{}, false
	}
	l.PV = append([]string(nil), parts[pv:]...)
	l.Move = l.PV[0]
	return idx, l, true
}

func collapse(m map[int]Line) []Line {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]Line, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
