package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/xoserver/rpc"
)

const usage = `commands:
  auth <user>                 identify this connection
  ping
  create <name> [private]     create a room
  join <roomId> [spectator]   join a room as player or spectator
  leave <roomId>
  invite <roomId> <user>
  accept <invitationId> | reject <invitationId>
  move <gameId> <0-14>
  ai [easy|medium|hard]       play the computer
  rematch <roomId>
  queue | unqueue             matchmaking
  chat <user> <text...>       direct message
  say <roomId> <text...>      room chat
  rooms | stats [user] | history <user>   (gRPC, needs -rpc)
  {...}                       send raw JSON`

// send writes one JSON envelope to the WebSocket server.
func send(c *websocket.Conn, frame map[string]interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

// parse turns one input line into an envelope. ok is false for lines that
// are not socket commands.
func parse(fields []string) (frame map[string]interface{}, ok bool) {
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	rest := func(i int) string {
		if i < len(fields) {
			return strings.Join(fields[i:], " ")
		}
		return ""
	}

	switch fields[0] {
	case "auth":
		return map[string]interface{}{"type": "auth", "userId": arg(1)}, true
	case "ping":
		return map[string]interface{}{"type": "ping"}, true
	case "create":
		visibility := "public"
		if arg(2) == "private" {
			visibility = "private"
		}
		return map[string]interface{}{"type": "create_room", "name": arg(1), "visibility": visibility}, true
	case "join":
		role := "player"
		if arg(2) == "spectator" {
			role = "spectator"
		}
		return map[string]interface{}{"type": "join_room", "roomId": arg(1), "role": role}, true
	case "leave":
		return map[string]interface{}{"type": "leave_room", "roomId": arg(1)}, true
	case "invite":
		return map[string]interface{}{"type": "invite", "roomId": arg(1), "inviteeId": arg(2)}, true
	case "accept", "reject":
		return map[string]interface{}{"type": "invite_respond", "invitationId": arg(1), "response": fields[0]}, true
	case "move":
		pos, err := strconv.Atoi(arg(2))
		if err != nil {
			log.Printf("bad position %q", arg(2))
			return nil, false
		}
		return map[string]interface{}{"type": "move", "gameId": arg(1), "position": pos}, true
	case "ai":
		difficulty := arg(1)
		if difficulty == "" {
			difficulty = "medium"
		}
		return map[string]interface{}{"type": "start_ai_game", "difficulty": difficulty}, true
	case "rematch":
		return map[string]interface{}{"type": "rematch", "roomId": arg(1)}, true
	case "queue":
		return map[string]interface{}{"type": "matchmaking_join"}, true
	case "unqueue":
		return map[string]interface{}{"type": "matchmaking_leave"}, true
	case "chat":
		return map[string]interface{}{"type": "send_chat_message", "toUserId": arg(1), "message": rest(2)}, true
	case "say":
		return map[string]interface{}{"type": "send_chat_message", "roomId": arg(1), "message": rest(2)}, true
	}
	return nil, false
}

// query runs the gRPC-only commands.
func query(c *rpc.Client, fields []string) {
	if c == nil {
		log.Println("gRPC is not configured, start with -rpc")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		reply interface{}
		err   error
	)
	switch fields[0] {
	case "rooms":
		reply, err = c.ListRooms(ctx)
	case "stats":
		req := &rpc.PlayerStatsRequest{}
		if len(fields) > 1 {
			req.UserID = fields[1]
		}
		reply, err = c.PlayerStats(ctx, req)
	case "history":
		if len(fields) < 2 {
			log.Println("history <user>")
			return
		}
		reply, err = c.ChatHistory(ctx, &rpc.ChatHistoryRequest{PeerID: fields[1]})
	}
	if err != nil {
		log.Println("RPC error:", err)
		return
	}
	out, _ := json.MarshalIndent(reply, "", "  ")
	log.Printf("<- RPC %s:\n%s", fields[0], out)
}

func main() {
	addr := flag.String("addr", "localhost:8080", "game server http address")
	rpcAddr := flag.String("rpc", "", "game server gRPC address, e.g. localhost:9090")
	user := flag.String("user", "", "authenticate as this user on connect")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	var rpcClient *rpc.Client
	if *rpcAddr != "" {
		if *user == "" {
			log.Fatal("-rpc needs -user")
		}
		rpcClient, err = rpc.Dial(*rpcAddr, *user)
		if err != nil {
			log.Fatalf("gRPC dial failed: %v", err)
		}
		defer rpcClient.Close()
	}

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			var head struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(message, &head)
			log.Printf("<- RECV %s: %s", head.Type, message)
		}
	}()

	if *user != "" {
		if err := send(c, map[string]interface{}{"type": "auth", "userId": *user}); err != nil {
			log.Println("Write error:", err)
			return
		}
	}
	log.Println(usage)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// Write loop
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case text, ok := <-lines:
			if !ok {
				return
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			if strings.HasPrefix(text, "{") {
				if err := c.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
					log.Println("Write error:", err)
					return
				}
				continue
			}

			fields := strings.Fields(text)
			switch fields[0] {
			case "rooms", "stats", "history":
				query(rpcClient, fields)
				continue
			case "help":
				log.Println(usage)
				continue
			}
			frame, ok := parse(fields)
			if !ok {
				log.Printf("unknown command %q, type help", fields[0])
				continue
			}
			if err := send(c, frame); err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> SENT %s", frame["type"])
		}
	}
}
