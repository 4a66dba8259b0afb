package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"

	"github.com/caffeineduck/goplug/plugin"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL against the module's namespace",
	Long: `Start an interactive session evaluating code in the entry module's
root namespace. Bindings persist, and with --reload the module is reloaded
before each line when it changed on disk.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.goplug_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".goplug_history")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	stderr := cmd.ErrOrStderr()
	if err := a.start(cmd.Context()); err != nil {
		if plugin.StatusOf(err) != plugin.StatusException {
			return err
		}
		fmt.Fprintf(stderr, "module failed to load:\n%s\n", a.runner.LastException())
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            cmd.OutOrStdout(),
		Stderr:            stderr,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(stderr, "goplug %s REPL (type 'exit' to quit, Ctrl+D to exit)\n", a.bridge.ModuleName())

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if t := strings.TrimSpace(line); t == "exit" || t == "quit" {
			return nil
		}

		v, err := a.runner.Eval(cmd.Context(), line)
		if err != nil {
			if exc := exceptionOf(err); exc != "" {
				fmt.Fprintln(stderr, exc)
			} else {
				fmt.Fprintf(stderr, "Error: %v\n", err)
			}
			continue
		}
		if v != starlark.None {
			fmt.Fprintln(cmd.OutOrStdout(), v.String())
		}
	}
}
