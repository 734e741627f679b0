package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/cinemate-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("base", "http://localhost:8000", "server base URL")
	room := flag.String("room", "", "room id (created through the API when empty)")
	user := flag.String("user", "tester", "display name")
	text := flag.String("text", "hello from smoke test", "chat message to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	roomID := *room
	if roomID == "" {
		created, err := createRoom(ctx, *base)
		if err != nil {
			return err
		}
		roomID = created
		fmt.Printf("created room %s\n", roomID)
	}

	wsURL := strings.Replace(*base, "http", "ws", 1) + "/ws/" + url.PathEscape(roomID) +
		"?username=" + url.QueryEscape(*user)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	var joined proto.Joined
	if err := wsjson.Read(ctx, conn, &joined); err != nil {
		return fmt.Errorf("read joined: %w", err)
	}
	fmt.Printf("joined room=%s as user_id=%s\n", joined.RoomID, joined.UserID)

	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.TypeChat, Message: *text}); err != nil {
		return fmt.Errorf("send chat: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fmt.Printf("received %s: %s\n", head.Type, data)

		if head.Type != proto.TypeChat {
			continue
		}
		var chat proto.Chat
		if err := json.Unmarshal(data, &chat); err != nil {
			return fmt.Errorf("decode chat: %w", err)
		}
		if chat.UserID == joined.UserID && chat.Message == *text {
			fmt.Println("smoke test passed")
			return nil
		}
	}
}

func createRoom(ctx context.Context, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/rooms/create", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create room: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode room: %w", err)
	}
	return body.RoomID, nil
}
