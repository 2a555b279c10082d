package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"alttext/internal/domain"
	"alttext/internal/jobs"
)

var flagTimeout time.Duration

func init() {
	generateCmd.Flags().DurationVar(&flagTimeout, "timeout", 5*time.Minute, "give up waiting after this long (0 waits forever)")
}

var generateCmd = &cobra.Command{
	Use:   "generate <image-url>",
	Short: "generate alt text for one image and print it",
	Args:  cobra.ExactArgs(1),
	RunE:  doGenerate,
}

func doGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagTimeout)
		defer cancel()
	}

	poller, err := newPoller()
	if err != nil {
		return err
	}
	defer poller.Close()

	return generate(ctx, poller, args[0], cmd.OutOrStdout())
}

// generate runs one job to completion and writes the result to out.
func generate(ctx context.Context, poller *jobs.Poller, input string, out io.Writer) error {
	if err := poller.RequestGeneration(input); err != nil {
		return err
	}
	u, err := poller.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", domain.MessageTimeout, err)
		}
		return err
	}
	switch {
	case u.Result != nil:
		_, err := fmt.Fprintln(out, *u.Result)
		return err
	case u.Error != nil:
		return errors.New(*u.Error)
	default:
		return errors.New(domain.MessageGeneric)
	}
}
