package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLineCodecConcatenatedAndMalformed(t *testing.T) {
	srv, cli := net.Pipe()
	defer cli.Close()
	codec := NewLineCodec(srv)
	defer codec.Close("")

	go func() {
		_, _ = io.WriteString(cli, `{"type":"list_games"}{"type":"resign","game_id":"g1"}`+"\n")
		_, _ = io.WriteString(cli, "\n")
		_, _ = io.WriteString(cli, `{"type":"move","game_id":`+"\n")
		_, _ = io.WriteString(cli, `{"game_id":"x"}`+"\n")
		_, _ = io.WriteString(cli, `{"type":"move","game_id":"g1","from":"e2","to":[3,4]}`+"\n")
		_ = cli.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var types []string
	var malformed int
	var move Move
	for {
		env, err := codec.Read(ctx)
		if errors.Is(err, ErrMalformed) {
			malformed++
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Read: %v", err)
			}
			break
		}
		types = append(types, env.Type)
		if env.Type == TypeMove {
			if err := env.Decode(&move); err != nil {
				t.Fatalf("Decode move: %v", err)
			}
		}
	}
	if diff := cmp.Diff([]string{"list_games", "resign", "move"}, types); diff != "" {
		t.Fatalf("types (-want +got):\n%s", diff)
	}
	if malformed != 2 {
		t.Fatalf("malformed = %d, want 2", malformed)
	}
	want := Move{GameID: "g1", From: Coord{1, 4}, To: Coord{3, 4}}
	if diff := cmp.Diff(want, move); diff != "" {
		t.Fatalf("move (-want +got):\n%s", diff)
	}
}

func TestLineCodecOversizedLineIsDropped(t *testing.T) {
	srv, cli := net.Pipe()
	defer cli.Close()
	codec := NewLineCodec(srv)
	defer codec.Close("")

	go func() {
		pad := strings.Repeat("a", MaxFrame+100)
		_, _ = io.WriteString(cli, `{"type":"list_games","pad":"`+pad+`"}`+"\n")
		_, _ = io.WriteString(cli, `{"type":"list_games"}`+"\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := codec.Read(ctx); !errors.Is(err, ErrMalformed) {
		t.Fatalf("oversized line: %v", err)
	}
	env, err := codec.Read(ctx)
	if err != nil || env.Type != TypeListGames {
		t.Fatalf("next record = %+v, %v", env, err)
	}
}

func TestLineCodecWrite(t *testing.T) {
	srv, cli := net.Pipe()
	defer cli.Close()
	codec := NewLineCodec(srv)
	defer codec.Close("")

	go func() {
		_ = codec.Write(context.Background(), Error("Unknown cmd dance"))
	}()
	line, err := bufio.NewReader(cli).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != `{"type":"error","msg":"Unknown cmd dance"}`+"\n" {
		t.Fatalf("line = %q", line)
	}
}

func TestCoordJSON(t *testing.T) {
	var c Coord
	if err := json.Unmarshal([]byte(`"h8"`), &c); err != nil || c != (Coord{7, 7}) {
		t.Fatalf("h8 = %v, %v", c, err)
	}
	if err := json.Unmarshal([]byte(`[0,1]`), &c); err != nil || c != (Coord{0, 1}) {
		t.Fatalf("[0,1] = %v, %v", c, err)
	}
	for _, bad := range []string{`[1]`, `"z9"`, `{}`} {
		if err := json.Unmarshal([]byte(bad), &c); err == nil {
			t.Errorf("%s should fail", bad)
		}
	}
	b, _ := json.Marshal(Coord{6, 4})
	if string(b) != "[6,4]" {
		t.Fatalf("marshal = %s", b)
	}
}

func TestRequestGameFormatAlias(t *testing.T) {
	if got := (RequestGame{Time: " Blitz: 3 + 1 min "}).Format(); got != "Blitz: 3 + 1 min" {
		t.Fatalf("legacy alias = %q", got)
	}
	if got := (RequestGame{TimeFormat: "Bullet: 1 min", Time: "x"}).Format(); got != "Bullet: 1 min" {
		t.Fatalf("time_format precedence = %q", got)
	}
}
