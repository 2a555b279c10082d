package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/mvdan/xurls"
	"github.com/spf13/cobra"

	"alttext/internal/jobs"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "interactive prompt: paste an image URL (or text containing one) per line",
	RunE:  doConsole,
}

func doConsole(cmd *cobra.Command, _ []string) error {
	poller, err := newPoller()
	if err != nil {
		return err
	}
	defer poller.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "image> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF
			return nil
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case ":quit", ":q":
			return nil
		case ":reset":
			if err := poller.ResetForNewInput(""); err != nil {
				return err
			}
			continue
		}
		runConsoleLine(cmd.Context(), poller, line, rl.Stdout(), rl.Stderr())
	}
}

// runConsoleLine treats line as a new input and waits for its result. An
// interrupt abandons the job and returns to the prompt.
func runConsoleLine(ctx context.Context, poller *jobs.Poller, line string, out, errOut io.Writer) {
	input := extractInput(line)
	if err := poller.ResetForNewInput(input); err != nil {
		fmt.Fprintln(errOut, err)
		return
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := generate(ctx, poller, input, out); err != nil {
		if errors.Is(err, context.Canceled) {
			_ = poller.ResetForNewInput(input)
			fmt.Fprintln(errOut, "canceled")
			return
		}
		fmt.Fprintln(errOut, "error:", err)
	}
}

// extractInput picks the first absolute URL in line; lines without one are
// passed through so validation can reject them.
func extractInput(line string) string {
	if u := xurls.Strict.FindString(line); u != "" {
		return u
	}
	return strings.TrimSpace(line)
}
