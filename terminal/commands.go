package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/linluma/gavel/auction/session"
	"github.com/linluma/gavel/shared/config"
	"github.com/rs/zerolog/log"
)

var errUnknownCommand = errors.New("unknown command")

// command is one parsed input line
type command struct {
	name string
	arg  string
}

func parseCommand(line string) (command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, false
	}
	cmd := command{name: strings.ToLower(fields[0])}
	if len(fields) > 1 {
		cmd.arg = fields[1]
	}
	return cmd, true
}

// allowed lists the commands each interactive role accepts
var allowed = map[string]map[string]bool{
	config.RoleConsole: {"start": true, "auto": true, "next": true, "sell": true, "reconnect": true, "status": true},
	config.RoleTeam:    {"bid": true, "refresh": true, "reconnect": true, "status": true},
}

func execute(ctx context.Context, sess *session.Session, role string, cmd command, out io.Writer) error {
	if !allowed[role][cmd.name] {
		return fmt.Errorf("%w %q for role %s", errUnknownCommand, cmd.name, role)
	}

	switch cmd.name {
	case "bid":
		return sess.Bid()
	case "refresh":
		return sess.RefreshBudget(ctx)
	case "start":
		return sess.Commands.StartAuction(cmd.arg)
	case "auto":
		player, err := sess.StartNextPending(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "▶️  starting %s\n", player.Name)
		return nil
	case "next":
		return sess.Commands.NextPlayer()
	case "sell":
		return sess.Commands.SellPlayer(cmd.arg)
	case "reconnect":
		return sess.Connect(ctx)
	case "status":
		DisplayView(out, sess.View(), sess.Channel.State().String(), sess.Countdown.Display())
		if role == config.RoleTeam {
			fmt.Fprintln(out, FormatEligibility(sess.Eligibility(), sess.Actor().Budget))
		}
		return nil
	}
	return nil
}

// readCommands runs input lines until ctx ends or in is exhausted
func readCommands(ctx context.Context, in io.Reader, out io.Writer, sess *session.Session, role string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, ok := parseCommand(line)
			if !ok {
				continue
			}
			if cmd.name == "quit" || cmd.name == "exit" {
				return
			}
			if err := execute(ctx, sess, role, cmd, out); err != nil {
				log.Warn().Err(err).Str("command", cmd.name).Msg("command failed")
				fmt.Fprintf(out, "❌ %v\n", err)
			}
		}
	}
}
