// Command chatcli is a terminal chat client. It keeps the conversation list
// in sync with live events and prints it on demand.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/vedran77/chatten/internal/domain"
	"github.com/vedran77/chatten/pkg/chatclient"
	"github.com/vedran77/chatten/pkg/convlist"
)

const help = `commands:
  /list [search]      refresh and show conversations
  /open <n>           open conversation n and show its history
  /new <user-id>...   start a conversation
  /delete <n>         delete conversation n
  /users              show the user directory
  /block <user-id>    stop receiving live messages from a user
  /unblock <user-id>
  /quit
anything else is sent to the open conversation`

type session struct {
	api    *chatclient.Client
	stream *chatclient.Stream
	list   *convlist.List
	me     *domain.User

	mu   sync.Mutex
	open uuid.UUID
}

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("CHAT_SERVER", "http://localhost:8080"), "server base URL")
	token := flag.String("token", os.Getenv("CHAT_TOKEN"), "session token (the session cookie value)")
	flag.Parse()

	if *token == "" {
		log.Fatal("a session token is required (-token or CHAT_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	api := chatclient.New(*server, *token)
	me, err := api.Me(ctx)
	if err != nil {
		log.Fatal("checking session", "err", err)
	}
	if me == nil {
		log.Fatal("session token rejected")
	}

	stream, err := api.Dial(ctx)
	if err != nil {
		log.Fatal("connecting", "err", err)
	}
	defer stream.Close()

	s := &session{api: api, stream: stream, list: convlist.New(), me: me}
	if err := s.refresh(ctx, ""); err != nil {
		log.Fatal("loading conversations", "err", err)
	}

	fmt.Printf("signed in as %s (%s)\n%s\n", me.Name, me.ID, help)
	s.printList()

	go s.listen(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if err := s.command(ctx, line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func (s *session) command(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return s.send(ctx, line)
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/list":
		if err := s.refresh(ctx, arg); err != nil {
			return err
		}
		s.printList()

	case "/open":
		conv, err := s.pick(arg)
		if err != nil {
			return err
		}
		return s.openConversation(ctx, conv.ID)

	case "/new":
		var ids []uuid.UUID
		for _, f := range strings.Fields(arg) {
			id, err := uuid.Parse(f)
			if err != nil {
				return fmt.Errorf("invalid user id %q", f)
			}
			ids = append(ids, id)
		}
		conv, err := s.api.CreateConversation(ctx, ids)
		var apiErr *chatclient.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "CONVERSATION_EXISTS" {
			fmt.Println("conversation already exists, opening it")
			if err := s.refresh(ctx, ""); err != nil {
				return err
			}
			return s.openConversation(ctx, apiErr.ConversationID)
		}
		if err != nil {
			return err
		}
		if err := s.refresh(ctx, ""); err != nil {
			return err
		}
		return s.openConversation(ctx, conv.ID)

	case "/delete":
		conv, err := s.pick(arg)
		if err != nil {
			return err
		}
		if err := s.api.DeleteConversation(ctx, conv.ID); err != nil {
			return err
		}
		s.list.Remove(conv.ID)
		s.printList()

	case "/users":
		users, err := s.api.Users(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("  %s  %s\n", u.ID, u.Name)
		}

	case "/block", "/unblock":
		id, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid user id %q", arg)
		}
		if name == "/block" {
			return s.api.Block(ctx, id)
		}
		return s.api.Unblock(ctx, id)

	default:
		fmt.Println(help)
	}
	return nil
}

func (s *session) send(ctx context.Context, text string) error {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if open == uuid.Nil {
		return errors.New("no conversation open; use /open <n>")
	}

	msg, err := s.api.SendMessage(ctx, open, text)
	if err != nil {
		return err
	}
	s.list.ApplySent(*msg)
	return nil
}

func (s *session) openConversation(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	prev := s.open
	s.open = id
	s.mu.Unlock()

	if prev != uuid.Nil && prev != id {
		_ = s.stream.Leave(ctx, prev)
	}
	if err := s.stream.Join(ctx, id); err != nil {
		return err
	}

	messages, err := s.api.Messages(ctx, id)
	if err != nil {
		return err
	}
	s.list.SetTranscript(id, messages)
	s.list.ClearFlash(id)

	for _, m := range messages {
		printMessage(m)
	}
	return nil
}

func (s *session) listen(ctx context.Context) {
	for {
		evt, err := s.stream.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("connection lost", "err", err)
				os.Exit(1)
			}
			return
		}

		switch evt.Type {
		case "messageReceived":
			msg, err := evt.Message()
			if err != nil {
				log.Warn("bad message event", "err", err)
				continue
			}
			if s.list.ApplyReceived(*msg) {
				if err := s.refresh(ctx, ""); err != nil {
					log.Warn("refetch failed", "err", err)
				}
				s.list.ApplyReceived(*msg)
			}

			s.mu.Lock()
			open := s.open
			s.mu.Unlock()
			if msg.ConversationID == open {
				printMessage(*msg)
				s.list.ClearFlash(open)
			} else {
				s.printList()
			}

		case "conversationDeleted":
			if evt.ConversationID != nil {
				s.list.Remove(*evt.ConversationID)
				s.mu.Lock()
				if s.open == *evt.ConversationID {
					s.open = uuid.Nil
				}
				s.mu.Unlock()
				fmt.Println("a conversation was deleted")
				s.printList()
			}

		case "error":
			fmt.Println("server:", string(evt.Payload))
		}
	}
}

func (s *session) refresh(ctx context.Context, search string) error {
	convs, err := s.api.Conversations(ctx, search)
	if err != nil {
		return err
	}
	s.list.Replace(convs)
	return nil
}

func (s *session) pick(arg string) (convlist.Entry, error) {
	n, err := strconv.Atoi(arg)
	entries := s.list.Entries()
	if err != nil || n < 1 || n > len(entries) {
		return convlist.Entry{}, fmt.Errorf("pick a conversation between 1 and %d", len(entries))
	}
	return entries[n-1], nil
}

func (s *session) printList() {
	entries := s.list.Entries()
	if len(entries) == 0 {
		fmt.Println("no conversations")
		return
	}
	for i, e := range entries {
		marker := " "
		if e.Flash {
			marker = "*"
		}
		preview := ""
		if e.LastMessage != nil {
			preview = e.LastMessage.Text
		}
		fmt.Printf("%s%2d. %-30s %s\n", marker, i+1, strings.Join(e.ParticipantNames, ", "), preview)
	}
}

func printMessage(m domain.Message) {
	fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.SenderName, m.Text)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
