package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runMessage string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send a single request and exit",
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "the request to send")
}

func runOnce(_ *cobra.Command, args []string) error {
	if runMessage == "" && len(args) > 0 {
		runMessage = args[0]
	}
	if runMessage == "" {
		return errors.New("run: --message is required")
	}

	a, err := newApp(configPath, workDir, verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := a.renderEvents(os.Stderr)
	text, err := a.session.Submit(ctx, runMessage)
	a.session.Close()
	<-done
	if err != nil {
		return err
	}
	fmt.Println(text)
	a.printUsage(os.Stderr)
	return nil
}
