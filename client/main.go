package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/clientstate"
	"github.com/mahaj/snappy-realtime/pkg/logging"
	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/mahaj/snappy-realtime/pkg/tombstone"
)

const help = `commands:
  /chats                 list chats with unread counts
  /open <chat>           open a chat
  /dm <user>             open the direct chat with user
  /group <name> <u1,u2>  create a group
  /media <url>           send a media reference
  /typing                signal typing in the open chat
  /hide <message>        hide a message on this device
  /unhide                show every hidden message again
  /delete <message>      delete your message for everyone
  /online [user]         list online users, or check one
  /quit                  leave
anything else is sent to the open chat`

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	dbPath := flag.String("db", "", "hidden-message database (default <user>-hidden.db)")
	logFile := flag.String("log", "client.log", "log file")
	typing := flag.Duration("typing", clientstate.DefaultTypingTimeout, "typing indicator timeout")
	flag.Parse()

	// Keep the terminal for the chat; logs go to the file only.
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	log := slog.New(logging.NewHandler(f, slog.LevelInfo, "text")).With("service", "client", "user", *userID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 1. Login to get token
	api := NewAPIClient(*apiAddr)
	token, err := api.Login(ctx, *userID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *dbPath == "" {
		*dbPath = *userID + "-hidden.db"
	}
	hidden, err := tombstone.Open(*dbPath, *userID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer hidden.Close()

	// 2. Connect to WebSocket with token
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	socket := NewSocket(u.String(), token, *userID, log)

	view := newRenderer(os.Stdout, hidden)
	driver := clientstate.NewDriver(*userID, api, socket, hidden, clientstate.DriverConfig{
		TypingTimeout: *typing,
		OnChange:      view.render,
	}, log)

	go socket.Run(ctx, driver.Deliver, func() { driver.Do(ctx, clientstate.Resync{}) })
	go func() {
		if err := driver.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("driver stopped", "error", err)
		}
	}()

	fmt.Println(help)
	runCommands(ctx, stop, os.Stdin, api, driver, hidden, view)
	socket.Close()
}

func runCommands(ctx context.Context, quit func(), in io.Reader, api *APIClient, d *clientstate.Driver, hidden *tombstone.Store, view *renderer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		var text string
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text = line
		}

		cmd, arg := parseCommand(text)
		switch cmd {
		case "":
		case "quit":
			quit()
			return
		case "help":
			fmt.Println(help)
		case "chats":
			d.Inspect(ctx, view.chatList)
		case "open":
			d.Do(ctx, clientstate.Open{ChatID: arg})
		case "dm":
			chat, err := api.OpenDirect(ctx, arg)
			if err != nil {
				fmt.Println("dm:", err)
				continue
			}
			d.Do(ctx, clientstate.Resync{})
			d.Do(ctx, clientstate.Open{ChatID: chat.ID})
		case "group":
			name, members, _ := strings.Cut(arg, " ")
			chat, err := api.CreateGroup(ctx, name, splitMembers(members))
			if err != nil {
				fmt.Println("group:", err)
				continue
			}
			d.Do(ctx, clientstate.Resync{})
			d.Do(ctx, clientstate.Open{ChatID: chat.ID})
		case "media":
			d.Do(ctx, clientstate.Send{Body: model.Body{MediaURL: arg}})
		case "typing":
			d.Do(ctx, clientstate.Keystroke{})
		case "hide":
			d.Do(ctx, clientstate.Hide{MessageID: arg})
		case "unhide":
			if err := hidden.Clear(); err != nil {
				fmt.Println("unhide:", err)
				continue
			}
			d.Inspect(ctx, func(s *clientstate.State) {
				view.reset()
				view.render(s)
			})
		case "delete":
			d.Do(ctx, clientstate.DeleteForEveryone{MessageID: arg})
		case "online":
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if arg != "" {
				online, err := api.IsOnline(ctx, arg)
				cancel()
				if err != nil {
					fmt.Println("online:", err)
					continue
				}
				fmt.Printf("%s online: %t\n", arg, online)
				continue
			}
			users, err := api.OnlineUsers(ctx)
			cancel()
			if err != nil {
				fmt.Println("online:", err)
				continue
			}
			fmt.Println("online:", strings.Join(users, ", "))
		case "say":
			d.Do(ctx, clientstate.Send{Body: model.Body{Text: arg}})
		default:
			fmt.Printf("unknown command /%s\n", cmd)
		}
	}
}

// parseCommand splits "/cmd arg". Plain text is a "say".
func parseCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	if !strings.HasPrefix(line, "/") {
		return "say", line
	}
	cmd, arg, _ := strings.Cut(line[1:], " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func splitMembers(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
