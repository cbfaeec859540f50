// ABOUTME: Terminal client for dm-gateway with live message streaming
// ABOUTME: Readline-style input over the REST API plus the websocket sync agent

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/plazared/dm-gateway/internal/client"
	"github.com/plazared/dm-gateway/internal/events"
)

// senderInfo is the profile projection in API responses.
type senderInfo struct {
	ID       string `json:"id"`
	Nombre   string `json:"nombre"`
	Apellido string `json:"apellido"`
}

// messageInfo is one message in API responses.
type messageInfo struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
	Sender         *senderInfo `json:"sender"`
}

// conversationRow is one row of GET /api/conversations.
type conversationRow struct {
	ID          string       `json:"id"`
	Other       *senderInfo  `json:"other"`
	LastMessage *messageInfo `json:"last_message"`
	UnreadCount int          `json:"unread_count"`
}

// createConversationRequest is the body of POST /api/conversations.
type createConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// sendMessageRequest is the body of POST /api/conversations/{id}/messages.
type sendMessageRequest struct {
	Content string `json:"content"`
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Config file path")
	server := flag.String("server", "", "Gateway server URL (overrides config)")
	token := flag.String("token", "", "Session token (overrides config and DM_TOKEN)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Gateway.URL = *server
	}
	sessionToken := *token
	if sessionToken == "" {
		sessionToken = cfg.resolveToken()
	}
	if sessionToken == "" {
		fmt.Fprintln(os.Stderr, "Error: no session token (set DM_TOKEN, -token, or auth.token in config)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("dm-cli connected to %s\n", cfg.Gateway.URL)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	if err := run(ctx, cfg.Gateway.URL, sessionToken); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, server, token string) error {
	api := &apiClient{base: server, token: token, http: &http.Client{Timeout: 10 * time.Second}}

	agent := client.New(wsBaseURL(server), client.WebsocketDialer{}, client.Options{}, nil)
	defer agent.Disconnect()

	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	unsubscribe := agent.Subscribe(func(env events.Envelope) {
		switch env.Type {
		case events.TypeConnected:
			var payload events.ConnectedData
			if json.Unmarshal(env.Data, &payload) == nil {
				gray.Printf("\r[connected, %d unread]\n> ", payload.UnreadCount)
			}
		case events.TypeMessage:
			var msg events.Message
			if json.Unmarshal(env.Data, &msg) == nil {
				name := msg.SenderID
				if msg.Sender != nil {
					name = msg.Sender.Nombre
				}
				fmt.Print("\r")
				cyan.Printf("%s: ", name)
				fmt.Printf("%s\n> ", msg.Content)
			}
		}
	})
	defer unsubscribe()

	agent.Connect(token)

	scanner := bufio.NewScanner(os.Stdin)
	var selected conversationRow

	for {
		if selected.ID != "" && selected.Other != nil {
			fmt.Printf("[%s]> ", selected.Other.Nombre)
		} else {
			fmt.Print("> ")
		}

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else if err := scanner.Err(); err != nil {
				errCh <- err
			} else {
				errCh <- io.EOF
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch {
		case input == "/quit" || input == "/exit" || input == "/q":
			return nil

		case input == "/help":
			fmt.Println("  /conversations      list conversations")
			fmt.Println("  /to <user-id>       open (or create) the conversation with a user")
			fmt.Println("  /read               mark the open conversation read")
			fmt.Println("  /unread             show total unread count")
			fmt.Println("  /quit               exit")
			fmt.Println("  anything else       send as a message to the open conversation")

		case input == "/conversations":
			rows, err := api.listConversations(ctx)
			if err != nil {
				yellow.Printf("[error] %v\n", err)
				continue
			}
			if len(rows) == 0 {
				fmt.Println("  (no conversations)")
				continue
			}
			for _, row := range rows {
				name := "?"
				if row.Other != nil {
					name = row.Other.Nombre + " " + row.Other.Apellido
				}
				preview := ""
				if row.LastMessage != nil {
					preview = row.LastMessage.Content
				}
				fmt.Printf("  %s  %-24s", row.ID, name)
				if row.UnreadCount > 0 {
					yellow.Printf(" [%d unread]", row.UnreadCount)
				}
				gray.Printf("  %s\n", preview)
			}

		case strings.HasPrefix(input, "/to "):
			participantID := strings.TrimSpace(strings.TrimPrefix(input, "/to "))
			row, err := api.createConversation(ctx, participantID)
			if err != nil {
				yellow.Printf("[error] %v\n", err)
				continue
			}
			selected = row
			if selected.Other != nil {
				fmt.Printf("Now talking to %s %s\n", selected.Other.Nombre, selected.Other.Apellido)
			}

		case input == "/read":
			if selected.ID == "" {
				yellow.Println("[error] no conversation open, use /to <user-id>")
				continue
			}
			agent.MarkRead(selected.ID, selected.UnreadCount)
			selected.UnreadCount = 0

		case input == "/unread":
			fmt.Printf("  %d unread\n", agent.Unread())

		case strings.HasPrefix(input, "/"):
			yellow.Printf("[error] unknown command %s\n", input)

		default:
			if selected.ID == "" {
				yellow.Println("[error] no conversation open, use /to <user-id>")
				continue
			}
			if err := api.sendMessage(ctx, selected.ID, input); err != nil {
				yellow.Printf("[error] %v\n", err)
			}
		}
	}
}

// wsBaseURL converts the gateway's HTTP base into the websocket one.
func wsBaseURL(server string) string {
	if strings.HasPrefix(server, "https://") {
		return "wss://" + strings.TrimPrefix(server, "https://")
	}
	return "ws://" + strings.TrimPrefix(server, "http://")
}

// apiClient is a thin bearer-authenticated JSON client for the REST API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *apiClient) listConversations(ctx context.Context) ([]conversationRow, error) {
	var rows []conversationRow
	err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &rows)
	return rows, err
}

func (c *apiClient) createConversation(ctx context.Context, participantID string) (conversationRow, error) {
	var row conversationRow
	err := c.do(ctx, http.MethodPost, "/api/conversations",
		createConversationRequest{ParticipantID: participantID}, &row)
	return row, err
}

func (c *apiClient) sendMessage(ctx context.Context, conversationID, content string) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/messages",
		sendMessageRequest{Content: content}, nil)
}
