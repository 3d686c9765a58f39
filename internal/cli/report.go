package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crashspool/crashspool/internal/dumpdir"
)

func newReportCmd(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Work with the reported_to journal",
	}
	cmd.AddCommand(newReportAddCmd(st), newReportFindCmd(st))
	return cmd
}

func newReportAddCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <line>",
		Short: "Record that a problem was reported somewhere",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.openSpool()
			if err != nil {
				return err
			}
			d, err := s.Open(args[0], 0)
			if err != nil {
				return err
			}
			defer d.Close()
			return d.AddReportedTo(args[1])
		},
	}
}

func newReportFindCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "find <name> <prefix>",
		Short: "Show the most recent report record with a prefix",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.openSpool()
			if err != nil {
				return err
			}
			d, err := s.Open(args[0], dumpdir.OpenReadonly)
			if err != nil {
				return err
			}
			defer d.Close()

			res := d.FindInReportedTo(args[1])
			if res == nil {
				return fmt.Errorf("no report record with prefix %q", args[1])
			}
			if res.URL != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "URL: %s\n", res.URL)
			}
			if res.Msg != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "MSG: %s\n", res.Msg)
			}
			return nil
		},
	}
}
