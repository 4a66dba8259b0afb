package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.starlark.net/starlark"

	"github.com/caffeineduck/goplug/hostfunc"
)

var runCmd = &cobra.Command{
	Use:   "run [args...]",
	Short: "Load the module and optionally call one function",
	Long: `Execute the entry module once and report its state.

With --call the named function (or mod.fn for an extension member) is then
invoked with the remaining arguments, each parsed as JSON:

  goplug -m tools run --call on_tool_change 3 '"mm"'`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("call", "", "Function to call after loading")
	runCmd.Flags().String("kwargs", "", "Keyword arguments as a JSON object")
	runCmd.Flags().Bool("json", false, "Print the result as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(cmd.Context()); err != nil {
		return err
	}

	target, _ := cmd.Flags().GetString("call")
	if target == "" {
		st := a.runner.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d names)\n", st.Module, st.State, len(st.Names))
		return nil
	}
	return callAndPrint(cmd, a, target, args)
}

// callAndPrint runs target with JSON-decoded args and writes the result.
func callAndPrint(cmd *cobra.Command, a *app, target string, rawArgs []string) error {
	rawKwargs, _ := cmd.Flags().GetString("kwargs")
	asJSON, _ := cmd.Flags().GetBool("json")

	var kwargs map[string]any
	if rawKwargs != "" {
		if err := hostfunc.DecodeJSON(strings.NewReader(rawKwargs), &kwargs); err != nil {
			return fmt.Errorf("invalid --kwargs: %w", err)
		}
	}

	args, named, err := toStarlarkArgs(parseArgs(rawArgs), kwargs)
	if err != nil {
		return err
	}

	module, function := splitTarget(target)
	v, err := a.runner.Call(cmd.Context(), module, function, args, named)
	if err != nil {
		return err
	}
	return printValue(cmd.OutOrStdout(), v, asJSON)
}

func printValue(w io.Writer, v starlark.Value, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(toJSON(v))
	}
	_, err := fmt.Fprintln(w, v.String())
	return err
}
