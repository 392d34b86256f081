package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	configPath string
	verbose    bool
	workDir    string
)

var rootCmd = &cobra.Command{
	Use:          "codeagent",
	Short:        "A coding agent for your terminal",
	Long:         "codeagent runs a model in a tool-calling loop over the current directory: it reads, edits and runs code, tracks a todo list and delegates focused subtasks to isolated subagents.",
	SilenceUsage: true,
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CODEAGENT_CONFIG or ./codeagent.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", "", "working directory (overrides work_dir)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(runCmd)
}
