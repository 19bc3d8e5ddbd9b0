package main

import (
	"fmt"
	"path/filepath"

	"github.com/risor-io/risor/object"
	"github.com/spf13/cobra"
)

var flagEval string

var scriptCmd = &cobra.Command{
	Use:   "script [path]",
	Short: "Run a Risor script against the index",
	Long:  "Runs a Risor script, or the --eval source, with the store query functions in scope and prints the value of its last expression.\nRelative imports resolve against --scripts-dir.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScript,
}

func init() {
	scriptCmd.Flags().StringVar(&flagEval, "eval", "", "Risor source to evaluate instead of a file")
}

func runScript(cmd *cobra.Command, args []string) error {
	if (flagEval == "") == (len(args) == 0) {
		return outputError("script", fmt.Errorf("requires either a script path or --eval"))
	}
	engine, err := openEngine()
	if err != nil {
		return outputError("script", err)
	}
	defer engine.Close()

	var result object.Object
	if flagEval != "" {
		result, err = engine.RunSource(cmd.Context(), flagEval, nil)
	} else {
		path, absErr := filepath.Abs(args[0])
		if absErr != nil {
			return outputError("script", absErr)
		}
		result, err = engine.RunScript(cmd.Context(), path, nil)
	}
	if err != nil {
		return outputError("script", err)
	}
	return outputResult(CLIResult{Command: "script", Results: scriptValue(result)})
}

// scriptValue converts a script result to a JSON-friendly value.
func scriptValue(o object.Object) any {
	if o == nil || o == object.Nil {
		return nil
	}
	return o.Interface()
}
