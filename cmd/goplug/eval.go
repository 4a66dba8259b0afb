package main

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/goplug/plugin"
)

var evalCmd = &cobra.Command{
	Use:   "eval [code]",
	Short: "Evaluate code in the module's namespace",
	Long: `Load the entry module, then evaluate code in its root namespace.

Code can be provided via:
  - Inline flag: goplug -m tools eval -c 'twice(limit)'
  - Argument:    goplug -m tools eval 'twice(limit)'
  - Stdin:       echo 'twice(limit)' | goplug -m tools eval

An expression prints its value; statements print None. Evaluation still
runs when the module failed to load, against whatever it bound.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringP("code", "c", "", "Code to evaluate")
	evalCmd.Flags().Bool("json", false, "Print the result as JSON")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	asJSON, _ := cmd.Flags().GetBool("json")

	if code == "" && len(args) > 0 {
		code = args[0]
	}
	if code == "" {
		if cmd.InOrStdin() == os.Stdin && stdinIsTerminal() {
			return cmd.Help()
		}
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		code = strings.TrimSpace(string(data))
	}
	if code == "" {
		return errors.New("no code given: use -c, an argument or stdin")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(cmd.Context()); err != nil {
		if plugin.StatusOf(err) != plugin.StatusException {
			return err
		}
		a.logger.Warn("module failed to load; evaluating against partial namespace", "error", err)
	}

	v, err := a.runner.Eval(cmd.Context(), code)
	if err != nil {
		return err
	}
	return printValue(cmd.OutOrStdout(), v, asJSON)
}

// stdinIsTerminal reports whether nothing is piped in.
func stdinIsTerminal() bool {
	stat, err := os.Stdin.Stat()
	return err == nil && stat.Mode()&os.ModeCharDevice != 0
}
