package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/aacode/internal/config"
	"github.com/haasonsaas/aacode/internal/contextstore"
	"github.com/haasonsaas/aacode/internal/safety"
	"github.com/haasonsaas/aacode/internal/tools"
	"github.com/haasonsaas/aacode/internal/workspace"
)

// buildToolsCmd creates the "tools" command: list the built-in tools as the
// model sees them.
func buildToolsCmd() *cobra.Command {
	var workdir string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspace.New(workdir)
			if err != nil {
				return err
			}
			if err := ws.EnsureDirs(); err != nil {
				return err
			}
			store, err := contextstore.New(ws, nil)
			if err != nil {
				return err
			}
			reg := tools.NewRegistry()
			if err := tools.RegisterBuiltins(reg, ws, safety.New(ws), store, config.Default()); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, name := range reg.Names() {
				tool, _ := reg.Get(name)
				fmt.Fprintf(w, "%s\t%s\n", name, tool.Description())
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&workdir, "workdir", "w", ".", "Project directory")
	return cmd
}
