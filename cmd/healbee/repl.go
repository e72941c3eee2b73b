package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/healbee/healbee/internal/flow"
	"github.com/healbee/healbee/internal/models"
)

const replHelp = `Type a message and press enter.
  /new         start a fresh conversation
  /lang en|hi  pin the reply language (empty to detect)
  /quit        exit`

// runREPL chats with one conversation over in and out until EOF, /quit or ctx is done.
func runREPL(ctx context.Context, m *flow.Manager, in io.Reader, out io.Writer, opts flow.StartOptions) error {
	c, err := m.Start(opts)
	if err != nil {
		return fmt.Errorf("start conversation: %w", err)
	}
	defer m.Shutdown(context.WithoutCancel(ctx))

	fmt.Fprintln(out, replHelp)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			cmd, arg, _ := strings.Cut(line, " ")
			switch cmd {
			case "/quit", "/exit":
				return nil
			case "/new":
				if c, err = restart(ctx, m, c, opts); err != nil {
					return err
				}
				fmt.Fprintln(out, "Started a new conversation.")
			case "/lang":
				lang := strings.TrimSpace(arg)
				if !models.IsSupportedLanguage(lang) {
					fmt.Fprintf(out, "Unsupported language %q.\n", lang)
					continue
				}
				opts.Language = lang
				if c, err = restart(ctx, m, c, opts); err != nil {
					return err
				}
				fmt.Fprintf(out, "Started a new conversation (language %q).\n", lang)
			default:
				fmt.Fprintln(out, replHelp)
			}
			continue
		}

		reply, err := c.Handle(ctx, line)
		if err != nil {
			slog.Error("Turn failed", "conversationID", c.ID(), "error", err)
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n\n", reply.Text)
	}
}

func restart(ctx context.Context, m *flow.Manager, c *flow.Conversation, opts flow.StartOptions) (*flow.Conversation, error) {
	if err := m.End(ctx, c.ID()); err != nil {
		slog.Warn("Failed to end conversation", "conversationID", c.ID(), "error", err)
	}
	next, err := m.Start(opts)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	return next, nil
}
