package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/transport"
)

// commandTimeout bounds one client request from the shell.
const commandTimeout = 10 * time.Second

// shell is the interactive command loop of m2m-server.
type shell struct {
	rl  *readline.Instance
	srv *transport.Server
}

func newShell() (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "m2m> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{rl: rl}, nil
}

func (s *shell) run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			cancel()
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()
		case "list", "ls":
			s.cmdList()
		case "read", "r":
			s.cmdRead(ctx, args)
		case "write", "w":
			s.cmdWrite(ctx, args)
		case "exec", "x":
			s.cmdExec(ctx, args)
		case "observe", "o":
			s.cmdObserve(ctx, args, true)
		case "cancel":
			s.cmdObserve(ctx, args, false)
		case "quit", "exit", "q":
			cancel()
			return
		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
M2M Server Commands:
  list                          - List registered clients
  read <endpoint> <path>        - Read a resource
  write <endpoint> <path> <v>   - Write a resource
  exec <endpoint> <path> [hex]  - Execute a resource with optional arguments
  observe <endpoint> <path>     - Start observing a resource
  cancel <endpoint> <path>      - Cancel an observation
  quit                          - Stop the server`)
}

func (s *shell) cmdList() {
	clients := s.srv.Clients()
	if len(clients) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "No registered clients")
		return
	}
	for _, c := range clients {
		fmt.Fprintf(s.rl.Stdout(), "%-20s %-10s %-6s lifetime=%-8s from=%s\n  %s\n",
			c.Endpoint, c.Location, c.Binding, c.Lifetime, c.RemoteAddr, c.Links)
	}
}

// target parses the endpoint and path arguments shared by all client
// commands.
func (s *shell) target(args []string, min int, usage string) (string, model.Path, bool) {
	if len(args) < min {
		fmt.Fprintln(s.rl.Stdout(), "Usage: "+usage)
		return "", model.Path{}, false
	}
	p, err := model.ParsePath(args[1])
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return "", model.Path{}, false
	}
	return args[0], p, true
}

func (s *shell) cmdRead(ctx context.Context, args []string) {
	ep, p, ok := s.target(args, 2, "read <endpoint> <path>")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	value, err := s.srv.Read(ctx, ep, p)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "%s %s = %q\n", ep, p, value)
}

func (s *shell) cmdWrite(ctx context.Context, args []string) {
	ep, p, ok := s.target(args, 3, "write <endpoint> <path> <value>")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := s.srv.Write(ctx, ep, p, []byte(args[2])); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "OK")
}

func (s *shell) cmdExec(ctx context.Context, args []string) {
	ep, p, ok := s.target(args, 2, "exec <endpoint> <path> [hex-args]")
	if !ok {
		return
	}
	var payload []byte
	if len(args) > 2 {
		var err error
		if payload, err = decodeHex(args[2]); err != nil {
			fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
			return
		}
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := s.srv.Execute(ctx, ep, p, payload); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "OK")
}

func (s *shell) cmdObserve(ctx context.Context, args []string, enable bool) {
	ep, p, ok := s.target(args, 2, "observe|cancel <endpoint> <path>")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	value, err := s.srv.Observe(ctx, ep, p, enable)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if enable {
		fmt.Fprintf(s.rl.Stdout(), "Observing %s %s = %q\n", ep, p, value)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "OK")
}
