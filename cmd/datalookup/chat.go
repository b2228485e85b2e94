package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nugget/datalookup/internal/agent"
	"github.com/nugget/datalookup/internal/api"
	"github.com/nugget/datalookup/internal/config"
	"github.com/nugget/datalookup/internal/history"
)

func newChatCommand(opts *options) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "chat [ROLE]",
		Short: "Ask questions interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				role = args[0]
			}
			return runChat(cmd.Context(), cmd, opts.configPath, role)
		},
	}
	cmd.Flags().StringVar(&role, "role", api.DefaultRole, "role to ask as")
	return cmd
}

func runChat(ctx context.Context, cmd *cobra.Command, configPath, role string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// Logs go to stderr so they do not interleave with answers.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(cmd.ErrOrStderr(), level, false)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	role = strings.ToUpper(strings.TrimSpace(role))
	if !a.agent.HasRole(role) {
		return fmt.Errorf("unknown role %q (available: %s)", role, strings.Join(a.agent.Roles(), ", "))
	}

	r := &repl{
		agent:       a.agent,
		role:        role,
		window:      history.New(history.DefaultCap),
		in:          cmd.InOrStdin(),
		out:         cmd.OutOrStdout(),
		interactive: isTerminal(cmd.InOrStdin()),
	}
	return r.run(ctx)
}

// isTerminal reports whether r is an interactive terminal. Prompts are
// only printed when it is, so piped input produces clean output.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// answerer is the part of the agent the REPL uses.
type answerer interface {
	Answer(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// repl reads one question per line and prints answers. The conversation
// window carries the last few exchanges into each question.
type repl struct {
	agent       answerer
	role        string
	window      history.Window
	in          io.Reader
	out         io.Writer
	interactive bool
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "datalookup chat (role: %s)\n", r.role)
	if r.interactive {
		fmt.Fprintln(r.out, "Type 'quit' to exit.")
	}

	sc := bufio.NewScanner(r.in)
	for {
		if r.interactive {
			fmt.Fprintf(r.out, "\n[%s] You: ", r.role)
		}
		if !sc.Scan() {
			if r.interactive {
				fmt.Fprintln(r.out)
			}
			return sc.Err()
		}

		q := strings.TrimSpace(sc.Text())
		switch strings.ToLower(q) {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		}

		if err := r.ask(ctx, q); err != nil {
			return err
		}
	}
}

// ask answers one question. Agent failures are printed and the session
// continues; only a canceled context ends it.
func (r *repl) ask(ctx context.Context, q string) error {
	res, err := r.agent.Answer(ctx, agent.Request{
		Question: q,
		Role:     r.role,
		History:  r.window,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var f *agent.Failure
		if errors.As(err, &f) {
			fmt.Fprintf(r.out, "\nAssistant: %s\n", f.Message())
			return nil
		}
		fmt.Fprintf(r.out, "\nError: %v\n", err)
		return nil
	}

	fmt.Fprintf(r.out, "\nAssistant: %s\n", res.Answer)

	// A clarification is a question back, not an exchange worth
	// remembering.
	if res.Clarification != nil {
		fmt.Fprintln(r.out, "\nDid you mean:")
		for i, opt := range res.Clarification.Options {
			fmt.Fprintf(r.out, "  %d. %s\n", i+1, opt)
		}
		return nil
	}

	if md := res.Metadata; md.QueryCount > 0 {
		fmt.Fprintf(r.out, "\n  %d queries | %d rows | %dms", md.QueryCount, md.TotalRows, md.TotalTimeMS)
		if len(md.TablesQueried) > 0 {
			fmt.Fprintf(r.out, " | tables: %s", strings.Join(md.TablesQueried, ", "))
		}
		fmt.Fprintln(r.out)
	}

	if len(res.Suggestions) > 0 {
		fmt.Fprintln(r.out, "\nYou might also ask:")
		for _, s := range res.Suggestions {
			fmt.Fprintf(r.out, "  - %s\n", s)
		}
	}

	r.window.Append(history.Entry{Question: q, Answer: res.Answer})
	return nil
}
