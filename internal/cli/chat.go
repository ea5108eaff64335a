package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	talkwire "github.com/talkwire/talkwire-go"
)

func newChatCmd() *cobra.Command {
	var (
		name   string
		userID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat session with the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := talkwire.New(cfg, chatHandlers())
			if err != nil {
				return err
			}
			defer client.Close()

			if userID != "" {
				client.Identify(userID, nil)
			}
			if name != "" {
				client.SetDisplayName(name)
			}

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			log.Info().Str("mode", cfg.Mode).Msg("connected")

			return repl(ctx, client)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name sent with messages")
	cmd.Flags().StringVar(&userID, "user", "", "authenticated user id for the handshake")

	return cmd
}

func chatHandlers() talkwire.Handlers {
	return talkwire.Handlers{
		OnMessage: func(m talkwire.Message) {
			who := m.SenderName
			if who == "" {
				who = string(m.Sender)
			}
			fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format(time.Kitchen), who, m.Text)
		},
		OnConversationCreated: func(id string) {
			fmt.Printf("-- conversation %s started --\n", id)
		},
		OnConversationClosed: func(id string) {
			fmt.Printf("-- conversation %s closed --\n", id)
		},
		OnDisconnect: func(err error) {
			if err != nil {
				fmt.Printf("-- disconnected: %v --\n", err)
			}
		},
		OnError: func(err error) {
			fmt.Printf("-- error: %v --\n", err)
		},
		OnUserOnline: func(u talkwire.PresenceUser) {
			fmt.Printf("-- %s is online --\n", presenceName(u))
		},
		OnUserOffline: func(u talkwire.PresenceUser) {
			fmt.Printf("-- %s went offline --\n", presenceName(u))
		},
		OnOnlineUsers: func(users []talkwire.PresenceUser) {
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, presenceName(u))
			}
			fmt.Printf("-- online: %s --\n", strings.Join(names, ", "))
		},
	}
}

func presenceName(u talkwire.PresenceUser) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.UserID
}

// repl reads lines from stdin until EOF or signal. Lines starting with "/"
// are commands, everything else is sent as a message.
func repl(ctx context.Context, client *talkwire.Client) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if done := chatCommand(client, line); done {
					return nil
				}
				continue
			}
			if err := client.Send(line, uuid.NewString()); err != nil {
				fmt.Printf("-- send failed: %v --\n", err)
			}
		}
	}
}

func chatCommand(client *talkwire.Client, line string) (done bool) {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/name":
		client.SetDisplayName(strings.TrimSpace(rest))
		fmt.Println("-- name updated --")
	case "/online":
		if err := client.RequestOnlineUsers(); err != nil {
			fmt.Printf("-- %v --\n", err)
		}
	case "/whoami":
		fmt.Printf("-- conversation: %q --\n", client.ConversationID())
	default:
		fmt.Printf("-- unknown command %s (try /quit, /name, /online, /whoami) --\n", cmd)
	}
	return false
}
