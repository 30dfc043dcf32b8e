package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/lsqfit/internal/fit"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printModels(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func printModels(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tINPUTS\tPARAMS\tFORMULA")
	for _, name := range fit.ModelNames() {
		m, err := fit.LookupModel(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", m.Name, m.Inputs, strings.Join(m.Params, ","), m.Formula)
	}
	return w.Flush()
}
