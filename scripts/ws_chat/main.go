package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	user := flag.String("user", "cli-user", "username")
	password := flag.String("password", "password123", "password; the user is registered if login fails")
	room := flag.String("room", "general", "room to join")
	peer := flag.String("peer", "", "open a private conversation with this user instead of a room")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	token, err := authenticate(ctx, *addr, *user, *password)
	if err != nil {
		return err
	}

	path := "/ws/chat/room/" + url.PathEscape(*room)
	if *peer != "" {
		path = "/ws/chat/private/" + url.PathEscape(*peer)
	}
	wsURL := strings.Replace(*addr, "http", "ws", 1) + path
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s as %s\n", wsURL, *user)
	fmt.Println("Type messages and press Enter to send. Commands: /add, /remove, /delete, /read, /leave, /hide, /block, /unblock, /report. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func authenticate(ctx context.Context, base, user, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": user, "password": password})
	if err != nil {
		return "", err
	}

	post := func(path string) (int, string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
		if err != nil {
			return 0, "", err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return 0, "", err
		}
		defer resp.Body.Close()
		var out struct {
			Token string `json:"token"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return resp.StatusCode, "", err
		}
		if out.Error != "" {
			return resp.StatusCode, "", errors.New(out.Error)
		}
		return resp.StatusCode, out.Token, nil
	}

	status, token, err := post("/api/login")
	if err == nil {
		return token, nil
	}
	if status != http.StatusUnauthorized {
		return "", fmt.Errorf("login: %w", err)
	}
	if _, token, err = post("/api/register"); err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	return token, nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame map[string]any
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch frame["type"] {
		case "message":
			fmt.Printf("#%v %s: %s\n", frame["id"], frame["username"], frame["message"])
		case "members_update":
			fmt.Printf("[members] %s %s\n", frame["username"], frame["event"])
		case "error":
			fmt.Printf("! %s: %s\n", frame["code"], frame["message"])
		case "group_left_you":
			fmt.Printf("you are no longer in %s\n", frame["room"])
		default:
			raw, _ := json.Marshal(frame)
			fmt.Println(string(raw))
		}
	}
}

// parseLine turns an input line into an inbound frame.
func parseLine(line string) (map[string]any, error) {
	if !strings.HasPrefix(line, "/") {
		return map[string]any{"action": "message", "message": line}, nil
	}
	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "add":
		return map[string]any{"action": "add_member", "username": arg}, nil
	case "remove":
		return map[string]any{"action": "remove_member", "username": arg}, nil
	case "delete", "read":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil && cmd == "delete" {
			return nil, fmt.Errorf("usage: /delete <message id>")
		}
		action := "delete_message"
		if cmd == "read" {
			action = "mark_read"
		}
		return map[string]any{"action": action, "message_id": id}, nil
	case "leave":
		return map[string]any{"action": "leave_room"}, nil
	case "hide":
		return map[string]any{"action": "hide_conversation"}, nil
	case "block", "unblock":
		return map[string]any{"action": cmd}, nil
	case "report":
		return map[string]any{"action": "report", "reason": arg}, nil
	default:
		return nil, fmt.Errorf("unknown command /%s", cmd)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			frame, err := parseLine(text)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
