package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <function|mod.fn> [args...]",
	Short: "Call a module function",
	Long: `Load the entry module and call one function.

Each argument is parsed as JSON; anything that is not valid JSON is passed
as a string. A dotted name calls a member of an extension or struct bound
in the root namespace, e.g. "math.sqrt".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

var checkCmd = &cobra.Command{
	Use:   "check <function|mod.fn>",
	Short: "Report whether a name is callable",
	Long: `Load the entry module and print true if the name resolves to something
that can be called, false otherwise. A missing name is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	callCmd.Flags().String("kwargs", "", "Keyword arguments as a JSON object")
	callCmd.Flags().Bool("json", false, "Print the result as JSON")
	rootCmd.AddCommand(callCmd, checkCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(cmd.Context()); err != nil {
		return err
	}
	return callAndPrint(cmd, a, args[0], args[1:])
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(cmd.Context()); err != nil {
		return err
	}

	module, function := splitTarget(args[0])
	_, err = fmt.Fprintln(cmd.OutOrStdout(), a.runner.IsCallable(module, function))
	return err
}
