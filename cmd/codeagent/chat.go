package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	RunE:  runChat,
}

var exitCommands = map[string]bool{
	"exit": true,
	"quit": true,
	"q":    true,
}

func runChat(_ *cobra.Command, _ []string) error {
	a, err := newApp(configPath, workDir, verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("codeagent %s - %s\n", version, a.env.WorkingDirectory())
	fmt.Println("Type 'exit' to quit.")
	fmt.Println()

	done := a.renderEvents(os.Stderr)
	err = repl(a, os.Stdin, os.Stdout)
	a.session.Close()
	<-done
	a.printUsage(os.Stderr)
	return err
}

// repl reads one line at a time and submits it. An interrupt cancels the
// request in flight without leaving the REPL.
func repl(a *app, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, a.style.prompt("You: "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || exitCommands[strings.ToLower(line)] {
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		text, err := a.session.Submit(ctx, line)
		stop()
		switch {
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(out, "\n(interrupted)")
		case err != nil:
			fmt.Fprintf(out, "Error: %v\n", err)
		default:
			fmt.Fprintln(out, text)
		}
		fmt.Fprintln(out)
	}
}
