// Command ircchat is an interactive REPL client for the chat protocol.
// Lines starting with "/" are local commands (connection management);
// lines starting with "#" are protocol commands sent to the server.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/perbu/ircsrv/pkg/client"
	"github.com/perbu/ircsrv/pkg/frame"
	"github.com/perbu/ircsrv/pkg/logging"
	"github.com/perbu/ircsrv/pkg/message"
	"github.com/perbu/ircsrv/pkg/util"
)

const callTimeout = 10 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "ircchat",
		Usage: "interactive chat protocol client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "127.0.0.1",
				Usage: "server address",
			},
			&cli.IntFlag{
				Name:  "port",
				Value: 13180,
				Usage: "server port",
			},
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "server host:port, overriding --addr/--port; connects immediately",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ircchat: %v\n", err)
		os.Exit(1)
	}
}

type session struct {
	logger      *logging.Logger
	defaultAddr string
	c           *client.Client
}

func run(ctx context.Context, cmd *cli.Command) error {
	s := &session{
		logger:      logging.NewLogger("ircchat"),
		defaultAddr: net.JoinHostPort(cmd.String("addr"), fmt.Sprintf("%d", cmd.Int("port"))),
	}

	if target := cmd.String("server"); target != "" {
		if err := s.connect(target); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	var err error
readLoop:
	for {
		select {
		case <-ctx.Done():
			// Interrupted: the scan goroutine is left blocked on stdin and
			// abandoned; the process exits without waiting for it.
			break readLoop
		case line, ok := <-lines:
			if !ok {
				err = <-scanErr
				break readLoop
			}
			line = strings.TrimSpace(line)
			if line != "" {
				s.dispatch(line)
			}
		}
	}

	if s.c != nil {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), callTimeout)
		_ = s.c.Disconnect(disconnectCtx)
		cancel()
	}
	return err
}

func (s *session) dispatch(line string) {
	switch {
	case strings.HasPrefix(line, "/"):
		s.localCommand(line[1:])
	case strings.HasPrefix(line, "#"):
		s.protocolCommand(line[1:])
	default:
		fmt.Println("commands start with / (local) or # (protocol)")
	}
}

func (s *session) localCommand(rest string) {
	args, err := util.SplitArgs(rest)
	if err != nil || len(args) == 0 {
		fmt.Println("usage: /connect [host:port] | /disconnect | /active")
		return
	}

	switch args[0] {
	case "connect":
		target := s.defaultAddr
		if len(args) > 1 {
			target = args[1]
		}
		if err := s.connect(target); err != nil {
			fmt.Println("connect failed:", err)
		}
	case "disconnect":
		if s.c == nil {
			fmt.Println("not connected")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		_ = s.c.Disconnect(ctx)
		s.c = nil
		fmt.Println("disconnected")
	case "active":
		if s.c == nil {
			fmt.Println("not connected")
			return
		}
		if s.c.Identified() {
			fmt.Printf("connected, identified as %q\n", s.c.Name())
		} else {
			fmt.Println("connected, not identified")
		}
	default:
		fmt.Println("unknown local command:", args[0])
	}
}

func (s *session) connect(target string) error {
	if s.c != nil {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		_ = s.c.Disconnect(ctx)
		cancel()
	}

	c, err := client.Dial(target, s.logger)
	if err != nil {
		return err
	}
	s.c = c

	broadcasts := c.AddHandler(message.Broadcast)
	clientMsgs := c.AddHandler(message.ClientMsg)
	go watchBroadcasts(broadcasts)
	go watchClientMsgs(clientMsgs)

	fmt.Println("connected to", target)
	return nil
}

func watchBroadcasts(ch <-chan frame.Frame) {
	for f := range ch {
		room, sender := message.SplitBroadcastHeader(string(f.Header))
		fmt.Printf("[%s] %s: %s\n", room, sender, f.Payload)
	}
}

func watchClientMsgs(ch <-chan frame.Frame) {
	for f := range ch {
		fmt.Printf("(private) %s: %s\n", f.Header, f.Payload)
	}
}

func (s *session) protocolCommand(rest string) {
	if s.c == nil {
		fmt.Println("not connected; use /connect first")
		return
	}

	args, err := util.SplitArgs(rest)
	if err != nil || len(args) == 0 {
		fmt.Println("empty command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	verb, params := args[0], args[1:]
	switch verb {
	case "identify":
		s.requireArgs(params, 1, "identify <name>", func() {
			if err := s.c.Identify(ctx, params[0]); err != nil {
				fmt.Println("identify failed:", err)
				return
			}
			fmt.Println("identified as", params[0])
		})
	case "create_room":
		s.requireArgs(params, 1, "create_room <room>", func() {
			printResult(s.c.CreateRoom(ctx, params[0]))
		})
	case "join_room":
		s.requireArgs(params, 1, "join_room <room>", func() {
			printResult(s.c.JoinRoom(ctx, params[0]))
		})
	case "leave_room":
		s.requireArgs(params, 1, "leave_room <room>", func() {
			printResult(s.c.LeaveRoom(ctx, params[0]))
		})
	case "list_rooms":
		rooms, err := s.c.ListRooms(ctx)
		if err != nil {
			fmt.Println("list_rooms failed:", err)
			return
		}
		fmt.Println(rooms)
	case "room_members":
		s.requireArgs(params, 1, "room_members <room>", func() {
			members, err := s.c.RoomMembers(ctx, params[0])
			if err != nil {
				fmt.Println("room_members failed:", err)
				return
			}
			fmt.Println(members)
		})
	case "msg_room":
		s.requireArgs(params, 2, "msg_room <room> <text...>", func() {
			res, err := s.c.MsgRoom(ctx, params[0], strings.Join(params[1:], " "))
			printCallResult(res, err)
		})
	case "msg_client":
		s.requireArgs(params, 2, "msg_client <name> <text...>", func() {
			res, err := s.c.MsgClient(ctx, params[0], strings.Join(params[1:], " "))
			printCallResult(res, err)
		})
	case "echo":
		text := strings.Join(params, " ")
		got, err := s.c.Echo(ctx, text)
		if err != nil {
			fmt.Println("echo failed:", err)
			return
		}
		fmt.Println(got)
	default:
		fmt.Println("unknown protocol command:", verb)
	}
}

func (s *session) requireArgs(args []string, n int, usage string, fn func()) {
	if len(args) < n {
		fmt.Println("usage: #" + usage)
		return
	}
	fn()
}

func printResult(err error) {
	if err != nil {
		fmt.Println("failed:", err)
		return
	}
	fmt.Println("ok")
}

func printCallResult(res client.Result, err error) {
	if err != nil {
		fmt.Println("failed:", err)
		return
	}
	if res.Failed {
		fmt.Println("rejected:", res.Text)
		return
	}
	fmt.Println("ok")
}
