// Package main provides a terminal client for swiping in a dinematch session.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/dinematch/internal/protocol"
)

// Client represents a WebSocket client bound to one session.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	done      chan struct{}
}

// NewClient connects to the server, authenticating with token.
func NewClient(addr, token, sessionID string) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn:      conn,
		sessionID: sessionID,
		done:      make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

func (c *Client) envelope(t string) protocol.Envelope {
	return protocol.Envelope{Type: t, RequestID: "req_" + uuid.NewString(), SessionID: c.sessionID}
}

// Join subscribes to the session's room.
func (c *Client) Join() error {
	return c.conn.WriteJSON(protocol.JoinSessionMessage{Envelope: c.envelope(protocol.TypeJoinSession)})
}

// Leave unsubscribes from the session's room.
func (c *Client) Leave() error {
	return c.conn.WriteJSON(protocol.LeaveSessionMessage{Envelope: c.envelope(protocol.TypeLeaveSession)})
}

// Swipe submits one swipe.
func (c *Client) Swipe(restaurantID, direction string) error {
	return c.conn.WriteJSON(protocol.SwipeMessage{
		Envelope:     c.envelope(protocol.TypeSwipe),
		RestaurantID: restaurantID,
		Direction:    direction,
	})
}

// ReadMessages reads and prints messages from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}

			var base struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &base); err != nil {
				log.Printf("Unmarshal error: %v", err)
				continue
			}

			var pretty map[string]interface{}
			_ = json.Unmarshal(data, &pretty)
			formatted, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("\n[%s]\n%s\n> ", base.Type, string(formatted))
		}
	}
}

// parseSwipe turns "y <id>" or "n <id>" into a swipe.
func parseSwipe(input string) (restaurantID, direction string, ok bool) {
	fields := strings.Fields(input)
	if len(fields) != 2 {
		return "", "", false
	}
	switch strings.ToLower(fields[0]) {
	case "y", "yes", "right":
		return fields[1], "right", true
	case "n", "no", "left":
		return fields[1], "left", true
	}
	return "", "", false
}

func main() {
	addr := flag.String("addr", "ws://localhost:8090/ws", "WebSocket server address")
	token := flag.String("token", os.Getenv("DINEMATCH_TOKEN"), "Bearer token")
	sessionID := flag.String("session", "", "Session to join")
	flag.Parse()

	log.SetFlags(log.Ltime)
	if *sessionID == "" {
		log.Fatal("-session is required")
	}

	fmt.Printf("Connecting to %s...\n", *addr)
	client, err := NewClient(*addr, *token, *sessionID)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	go client.ReadMessages()
	if err := client.Join(); err != nil {
		log.Fatalf("Join failed: %v", err)
	}

	fmt.Println("Commands: y <restaurant>, n <restaurant>, /leave, /join, /quit")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		default:
			if !scanner.Scan() {
				return
			}

			input := strings.TrimSpace(scanner.Text())
			switch input {
			case "":
				continue
			case "/quit":
				fmt.Println("Bye!")
				return
			case "/leave":
				err = client.Leave()
			case "/join":
				err = client.Join()
			default:
				restaurantID, direction, ok := parseSwipe(input)
				if !ok {
					fmt.Println("usage: y <restaurant> | n <restaurant>")
					continue
				}
				err = client.Swipe(restaurantID, direction)
			}
			if err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}
