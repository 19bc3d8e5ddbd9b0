package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/mallard"
)

var detailCmd = &cobra.Command{
	Use:   "detail [<project> <module> <line> <col>]",
	Short: "Show a declaration with its parameters, children, annotations and scope",
	Long:  "Accepts either <project> <module> <line> <col> positional args or --id <declaration id>.",
	Args:  cobra.MaximumNArgs(4),
	RunE:  runDetail,
}

func init() {
	detailCmd.Flags().Int64("id", 0, "declaration ID to query")
}

func runDetail(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("detail", err)
	}
	defer engine.Close()

	q := engine.Query()
	id, err := resolveDeclarationID(cmd, args, q)
	if err != nil {
		return outputError("detail", err)
	}
	detail, err := q.DeclarationDetail(id)
	if err != nil {
		return outputError("detail", err)
	}
	if detail == nil {
		return outputError("detail", fmt.Errorf("declaration not found: %d", id))
	}
	return outputResult(CLIResult{Command: "detail", Results: detailToCLI(detail)})
}

func detailToCLI(d *mallard.DeclarationDetail) CLIDeclarationDetail {
	out := CLIDeclarationDetail{
		Declaration: declarationToCLI(d.Declaration),
		Parameters:  declarationsToCLI(d.Parameters),
		Children:    declarationsToCLI(d.Children),
		Annotations: make([]CLIAnnotation, len(d.Annotations)),
		Attributes:  make([]CLIAttribute, len(d.Attributes)),
		ScopeChain:  declarationsToCLI(d.ScopeChain),
	}
	if p := d.Parameter; p != nil {
		out.Parameter = &CLIParameter{
			Ordinal:    p.Ordinal,
			Optional:   p.Optional,
			ByRef:      p.ByRef,
			ParamArray: p.ParamArray,
			Default:    p.Default,
		}
	}
	for i, a := range d.Annotations {
		out.Annotations[i] = CLIAnnotation{Name: a.Name, Args: a.Args, Line: a.Line}
	}
	for i, a := range d.Attributes {
		out.Attributes[i] = CLIAttribute{Name: a.Name, Values: a.Values}
	}
	return out
}
