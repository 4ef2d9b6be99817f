// Command parley is a line-oriented chat client for the parley relay.
//
// Usage: parley -id alice [-nick Alice] [-server host:port]
//
// Commands at the prompt:
//
//	/users                 list online peers
//	/msg <id> <text>       private message
//	/send <id> <path>      offer a file
//	/accept <fileId> [dir] accept a pending file offer
//	/decline <fileId>      decline a pending file offer
//	/quit                  log out and exit
//
// Any line not starting with "/" is sent as a group message; an unknown
// command is reported and not sent. Server address and nickname
// persist in an ini file between runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/parley-im/parley/client"
	"github.com/parley-im/parley/protocol"
)

func main() {
	os.Exit(run())
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley.ini"
	}
	return filepath.Join(home, ".parley.ini")
}

func run() int {
	var (
		serverAddr = flag.String("server", "", "server address (host:port)")
		clientID   = flag.String("id", "", "client id (required)")
		nickname   = flag.String("nick", "", "nickname, defaults to the saved one or the id")
		configPath = flag.String("config", defaultConfigPath(), "config file")
		downloads  = flag.String("downloads", ".", "directory for accepted files")
	)
	flag.Parse()

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "a client id is required (-id)")
		flag.Usage()
		return 1
	}

	cfg, err := client.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *serverAddr == "" {
		*serverAddr = cfg.Addr()
	}
	if *nickname == "" {
		*nickname = cfg.Nickname
	}
	if *nickname == "" {
		*nickname = *clientID
	}

	// quiet logger; the prompt is the surface
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	loginResult := make(chan uint32, 1)
	loginMessage := make(chan string, 1)
	disconnected := make(chan struct{})

	c, err := client.Dial(*serverAddr,
		client.LoggerOption(logger),
		client.OnLoginResponseOption(func(result uint32, message string) {
			loginResult <- result
			loginMessage <- message
		}),
		client.OnChatMessageOption(func(msg protocol.ChatMessage) {
			stamp := time.Unix(int64(msg.Timestamp), 0).Format("15:04:05")
			if msg.Scope == protocol.ChatPrivate {
				fmt.Printf("\r[%s] %s (private): %s\n", stamp, msg.FromNick, msg.Text)
			} else {
				fmt.Printf("\r[%s] %s: %s\n", stamp, msg.FromNick, msg.Text)
			}
		}),
		client.OnUserListOption(func(users []protocol.UserInfo) {
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, fmt.Sprintf("%s(%s)", u.Nickname, u.ClientID))
			}
			fmt.Printf("\r* online: %s\n", strings.Join(names, ", "))
		}),
		client.OnFileOfferOption(func(offer protocol.FileOffer) {
			fmt.Printf("\r* %s offers %q (%d bytes) — /accept %s or /decline %s\n",
				offer.FromNick, offer.FileName, offer.FileSize, offer.FileID, offer.FileID)
		}),
		client.OnFileOfferResponseOption(func(rsp protocol.FileOfferResponse) {
			switch rsp.Result {
			case protocol.FileOfferAccept:
				fmt.Printf("\r* offer %s accepted, sending\n", rsp.FileID)
			case protocol.FileOfferBusy:
				fmt.Printf("\r* offer %s: peer unavailable (%s)\n", rsp.FileID, rsp.Message)
			default:
				fmt.Printf("\r* offer %s declined (%s)\n", rsp.FileID, rsp.Message)
			}
		}),
		client.OnTransferDoneOption(func(fileID string, incoming, ok bool, message string) {
			direction := "sent"
			if incoming {
				direction = "received"
			}
			if ok {
				fmt.Printf("\r* file %s %s\n", fileID, direction)
			} else {
				fmt.Printf("\r* file %s failed: %s\n", fileID, message)
			}
		}),
		client.OnDisconnectOption(func(err error) {
			if err != nil {
				fmt.Printf("\r* connection lost: %v\n", err)
			}
			close(disconnected)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	if err := c.Login(*clientID, *nickname); err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		return 1
	}
	select {
	case result := <-loginResult:
		message := <-loginMessage
		if result != protocol.LoginSuccess {
			fmt.Fprintf(os.Stderr, "login rejected: %s\n", message)
			return 1
		}
		fmt.Printf("* logged in as %s (%s)\n", *nickname, *clientID)
	case <-time.After(10 * time.Second):
		fmt.Fprintln(os.Stderr, "login timed out")
		return 1
	case <-disconnected:
		return 1
	}

	// remember where we connected and as whom
	cfg.Nickname = *nickname
	if host, port, ok := splitAddr(*serverAddr); ok {
		cfg.ServerIP = host
		cfg.ServerPort = port
	}
	if err := cfg.Save(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "config save: %v\n", err)
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		select {
		case <-disconnected:
			return 1
		default:
		}

		input, err := line.Prompt("> ")
		if err != nil {
			// ctrl-c or ctrl-d
			_ = c.Logout()
			return 0
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !strings.HasPrefix(input, "/") {
			if err := c.SendGroupMessage(input); err != nil {
				fmt.Fprintf(os.Stderr, "send: %v\n", err)
			}
			continue
		}

		fields := strings.Fields(input)
		switch fields[0] {
		case "/quit":
			_ = c.Logout()
			return 0

		case "/users":
			if err := c.RequestUserList(); err != nil {
				fmt.Fprintf(os.Stderr, "users: %v\n", err)
			}

		case "/msg":
			rest := strings.TrimSpace(strings.TrimPrefix(input, "/msg"))
			i := strings.IndexAny(rest, " \t")
			if rest == "" || i < 0 {
				fmt.Println("usage: /msg <id> <text>")
				continue
			}
			if err := c.SendPrivateMessage(rest[:i], strings.TrimSpace(rest[i+1:])); err != nil {
				fmt.Fprintf(os.Stderr, "msg: %v\n", err)
			}

		case "/send":
			if len(fields) != 3 {
				fmt.Println("usage: /send <id> <path>")
				continue
			}
			fileID, err := c.OfferFile(fields[2], fields[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "send: %v\n", err)
				continue
			}
			fmt.Printf("* offered %s as %s\n", fields[2], fileID)

		case "/accept":
			if len(fields) < 2 {
				fmt.Println("usage: /accept <fileId> [dir]")
				continue
			}
			dir := *downloads
			if len(fields) >= 3 {
				dir = fields[2]
			}
			if err := c.AcceptOffer(fields[1], dir); err != nil {
				fmt.Fprintf(os.Stderr, "accept: %v\n", err)
			}

		case "/decline":
			if len(fields) < 2 {
				fmt.Println("usage: /decline <fileId>")
				continue
			}
			if err := c.DeclineOffer(fields[1], ""); err != nil {
				fmt.Fprintf(os.Stderr, "decline: %v\n", err)
			}

		default:
			fmt.Printf("unknown command %s\n", fields[0])
		}
	}
}

// splitAddr parses "host:port" into its parts.
func splitAddr(addr string) (string, int, bool) {
	i := strings.LastIndexByte(addr, ':')
	if i <= 0 {
		return "", 0, false
	}
	port := 0
	if _, err := fmt.Sscanf(addr[i+1:], "%d", &port); err != nil || port <= 0 {
		return "", 0, false
	}
	return addr[:i], port, true
}
