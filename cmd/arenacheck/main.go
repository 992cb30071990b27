package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/livestore"
	"github.com/park285/chess-arena/internal/protocol"
)

func main() {
	redisURL := os.Getenv("REDIS_URL")
	wsURL := os.Getenv("ARENA_WS_URL")
	user := os.Getenv("ARENA_USER")
	pass := os.Getenv("ARENA_PASSWORD")

	if redisURL == "" && wsURL == "" {
		log.Fatal("REDIS_URL or ARENA_WS_URL is required")
	}

	if redisURL != "" {
		checkLive(redisURL)
	}

	if wsURL == "" {
		log.Println("ARENA_WS_URL not set; skipping WS check")
		return
	}
	if user == "" {
		user = "arenacheck"
	}
	if pass == "" {
		pass = "arenacheck"
	}
	checkWS(wsURL, user, pass)
}

func checkLive(redisURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := livestore.Open(ctx, redisURL)
	if err != nil {
		log.Printf("redis error: %v", err)
		return
	}
	defer store.Close()

	games, err := store.Live(ctx)
	if err != nil {
		log.Printf("live list error: %v", err)
		return
	}
	log.Printf("live games: %d", len(games))
	for _, g := range games {
		fmt.Printf("%s %s vs %s [%s] turn=%s plies=%d white=%dms black=%dms\n",
			g.ID, g.White, g.Black, g.TimeFormat, g.Turn, len(g.MovesUCI), g.WhiteMs, g.BlackMs)
	}
}

func checkWS(wsURL, user, pass string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	// Signup first; an existing account falls back to login.
	for _, typ := range []string{protocol.TypeSignupRequest, protocol.TypeLoginRequest} {
		if err := wsjson.Write(ctx, c, map[string]string{"type": typ, "username": user, "password": pass}); err != nil {
			log.Printf("WS write error: %v", err)
			return
		}
		var reply protocol.StatusReply
		if err := wsjson.Read(ctx, c, &reply); err != nil {
			log.Printf("WS read error: %v", err)
			return
		}
		log.Printf("%s: %s %s", typ, reply.Status, reply.Reason)
		if reply.Status == protocol.StatusOK {
			break
		}
	}

	if err := wsjson.Write(ctx, c, map[string]string{"type": protocol.TypeListGames}); err != nil {
		log.Printf("WS write error: %v", err)
		return
	}
	var raw json.RawMessage
	if err := wsjson.Read(ctx, c, &raw); err != nil {
		log.Printf("WS read error: %v", err)
		return
	}
	fmt.Printf("list_games: %s\n", raw)
}
