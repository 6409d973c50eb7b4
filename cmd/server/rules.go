package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garyjia/expense-approval/internal/infrastructure/rulefile"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect approval rule files",
	}
	cmd.AddCommand(validateRulesCmd())
	return cmd
}

func validateRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a seed file without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := rulefile.Load(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if problems := rulefile.Validate(f); len(problems) > 0 {
				for _, p := range problems {
					fmt.Fprintln(os.Stderr, p)
				}
				return fmt.Errorf("%s: %d problem(s)", args[0], len(problems))
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PRIORITY\tRULE\tCONDITIONS\tACTIONS")
			for _, r := range f.Rules {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", r.Priority, r.Name, len(r.Conditions), len(r.Actions))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: ok (%d users, %d rules, %d delegates)\n",
				args[0], len(f.Users), len(f.Rules), len(f.Delegates))
			return nil
		},
	}
}
