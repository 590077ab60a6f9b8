// Command client is an interactive command-line client for the GoRelay
// server. It performs the authentication handshake and then relays stdin
// commands to the wire protocol:
//
//	send <user> <message>   deliver a message to another user
//	users                   list currently online users
//	quit                    disconnect and exit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// client wraps the connection with a write mutex; the stdin loop and the
// heartbeat goroutine both write, and gorilla allows one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(env envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

type envelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Sender    string         `json:"sender,omitempty"`
}

func newEnvelope(msgType string, data map[string]any) envelope {
	if data == nil {
		data = map[string]any{}
	}
	return envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.NewString(),
	}
}

func (e envelope) str(key string) string {
	value, _ := e.Data[key].(string)
	return value
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8765/ws", "relay WebSocket URL")
	userID := flag.String("user", "", "identity to authenticate as (required)")
	token := flag.String("token", "demo-token", "authentication token")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: client -user <id> [-server url] [-token token]")
		os.Exit(2)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(*serverURL, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to %s: %v\n", *serverURL, err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &client{conn: conn}
	if err := c.write(newEnvelope("auth", map[string]any{
		"user_id": *userID,
		"token":   *token,
	})); err != nil {
		fmt.Fprintf(os.Stderr, "failed to send auth frame: %v\n", err)
		os.Exit(1)
	}

	var reply envelope
	if err := conn.ReadJSON(&reply); err != nil {
		fmt.Fprintf(os.Stderr, "connection closed during handshake: %v\n", err)
		os.Exit(1)
	}
	if reply.Type != "connection_established" {
		fmt.Fprintf(os.Stderr, "authentication failed: %s\n", reply.str("message"))
		os.Exit(1)
	}
	fmt.Printf("connected as %s (connection %s)\n", *userID, reply.str("connection_id"))
	fmt.Println("commands: send <user> <message> | users | quit")

	done := make(chan struct{})
	go listen(conn, done)
	go heartbeat(c, done)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "quit":
			c.close()
			return
		case line == "users":
			if err := c.write(newEnvelope("get_online_users", nil)); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				return
			}
		case strings.HasPrefix(line, "send "):
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 3 {
				fmt.Println("usage: send <user> <message>")
				continue
			}
			if err := c.write(newEnvelope("send_message", map[string]any{
				"target_user": parts[1],
				"content":     parts[2],
			})); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				return
			}
		default:
			fmt.Println("unknown command")
		}

		select {
		case <-done:
			return
		default:
		}
	}
}

// listen prints server events until the connection closes.
func listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			fmt.Println("\nconnection closed")
			return
		}

		switch msg.Type {
		case "new_message":
			fmt.Printf("\n[%s] %s\n> ", msg.str("from_user"), msg.str("content"))
		case "message_receipt":
			fmt.Printf("\nreceipt: %s -> %s\n> ", msg.str("target_user"), msg.str("status"))
		case "online_users":
			users, _ := msg.Data["users"].([]any)
			names := make([]string, 0, len(users))
			for _, u := range users {
				if name, ok := u.(string); ok {
					names = append(names, name)
				}
			}
			fmt.Printf("\nonline: %s\n> ", strings.Join(names, ", "))
		case "user_online":
			fmt.Printf("\n%s came online\n> ", msg.str("user_id"))
		case "user_offline":
			fmt.Printf("\n%s went offline\n> ", msg.str("user_id"))
		case "error":
			fmt.Printf("\nserver error: %s\n> ", msg.str("message"))
		}
	}
}

// heartbeat keeps the session active from the relay's point of view.
func heartbeat(c *client, done chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(newEnvelope("ping", nil)); err != nil {
				return
			}
		}
	}
}
