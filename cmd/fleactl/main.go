package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openflea/fleachat/internal/app"
	"github.com/openflea/fleachat/internal/bus"
	"github.com/openflea/fleachat/internal/cache"
	"github.com/openflea/fleachat/internal/config"
	"github.com/openflea/fleachat/internal/session"
	"github.com/openflea/fleachat/internal/status"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := config.ResolveSession(*sessionFlag)
	if err := config.ValidateSessionName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot load config: %v\n", err)
		fmt.Fprintf(os.Stderr, "expected config at %s\n", config.ConfigPath())
		os.Exit(1)
	}

	var (
		store   *session.Store
		machine *status.Machine
		b       *bus.Bus
		db      *cache.DB
	)
	fxApp := fx.New(
		fx.NopLogger,
		app.Module(app.Params{SessionName: sessionName, Config: cfg}),
		fx.Populate(&store, &machine, &b, &db),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot start session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = fxApp.Stop(stopCtx)
	}()

	ctx, cmdCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cmdCancel()

	switch args[0] {
	case "status":
		cmdStatus(sessionName, machine, *jsonFlag)
	case "chats":
		cmdChats(ctx, store, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: fleactl messages <chat-id>")
			os.Exit(1)
		}
		cmdMessages(ctx, store, args[1], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: fleactl send <chat-id> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, store, args[1], strings.Join(args[2:], " "), *jsonFlag)
	case "open":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: fleactl open <user-id> [product-id]")
			os.Exit(1)
		}
		productID := ""
		if len(args) >= 3 {
			productID = args[2]
		}
		cmdOpen(ctx, store, args[1], productID, *jsonFlag)
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: fleactl read <chat-id>")
			os.Exit(1)
		}
		cmdRead(ctx, store, args[1])
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: fleactl delete <chat-id>")
			os.Exit(1)
		}
		cmdDelete(ctx, store, args[1])
	case "history":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: fleactl history <chat-id>")
			os.Exit(1)
		}
		cmdHistory(db, args[1], *jsonFlag)
	case "watch":
		cmdWatch(b, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: fleactl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                     Show session connection state")
	fmt.Fprintln(os.Stderr, "  chats                      List chats, most recent first")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>         Show a chat's messages")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>      Send a message")
	fmt.Fprintln(os.Stderr, "  open <user-id> [product]   Open (or reuse) a chat with a user")
	fmt.Fprintln(os.Stderr, "  read <chat-id>             Mark a chat read")
	fmt.Fprintln(os.Stderr, "  delete <chat-id>           Delete a chat")
	fmt.Fprintln(os.Stderr, "  history <chat-id>          Show cached messages (offline)")
	fmt.Fprintln(os.Stderr, "  watch                      Stream session events until interrupted")
}

func cmdStatus(sessionName string, machine *status.Machine, jsonOut bool) {
	if jsonOut {
		outputJSON(map[string]string{"session": sessionName, "state": string(machine.Current())})
		return
	}
	fmt.Printf("Session: %s\n", sessionName)
	fmt.Printf("State:   %s\n", machine.Current())
}

func cmdChats(ctx context.Context, store *session.Store, jsonOut bool) {
	if err := store.LoadChats(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	chats := store.Chats()
	if jsonOut {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	self := store.Self()
	for _, c := range chats {
		counterpart := c.Counterpart(self.ID)
		unread := ""
		if n := c.UnreadFor(self.ID); n > 0 {
			unread = fmt.Sprintf(" (%d unread)", n)
		}
		preview := ""
		if c.LastMessage != nil {
			preview = c.LastMessage.Content
			if len(preview) > 60 {
				preview = preview[:60] + "…"
			}
		}
		fmt.Printf("%-24s %-20s%s %s\n", c.ID, counterpart.Name, unread, preview)
	}
}

func cmdMessages(ctx context.Context, store *session.Store, chatID string, jsonOut bool) {
	if err := store.LoadChats(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := store.SelectChat(ctx, chatID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	msgs := store.Timeline()
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Sender.Name, m.Content)
	}
}

func cmdSend(ctx context.Context, store *session.Store, chatID, text string, jsonOut bool) {
	if err := store.SelectChat(ctx, chatID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	msg, err := store.SendMessage(ctx, text, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: send failed: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("Sent %s\n", msg.ID)
}

func cmdOpen(ctx context.Context, store *session.Store, receiverID, productID string, jsonOut bool) {
	chat, err := store.CreateChat(ctx, receiverID, productID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(chat)
		return
	}
	fmt.Printf("Chat %s\n", chat.ID)
}

func cmdRead(ctx context.Context, store *session.Store, chatID string) {
	if err := store.MarkRead(ctx, chatID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Marked read.")
}

func cmdDelete(ctx context.Context, store *session.Store, chatID string) {
	if err := store.DeleteChat(ctx, chatID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Deleted.")
}

func cmdHistory(db *cache.DB, chatID string, jsonOut bool) {
	msgs, err := db.ListMessages(chatID, 0, 100)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	// Cached rows come newest first; print oldest first like a transcript.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		fmt.Printf("[%s] %s: %s\n", time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04"), m.SenderName, m.Content)
	}
}

func cmdWatch(b *bus.Bus, jsonOut bool) {
	ch, unsub := b.Subscribe("", 256)
	defer unsub()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	fmt.Fprintln(os.Stderr, "watching session events, ^C to stop")
	for {
		select {
		case evt := <-ch:
			if jsonOut {
				outputJSON(evt)
				continue
			}
			fmt.Printf("%s %s %v\n", evt.Timestamp.Format(time.RFC3339), evt.Kind, evt.Payload)
		case <-sig:
			return
		}
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
