package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crashspool/crashspool/internal/dumpdir"
)

func newListCmd(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [pattern]",
		Short: "List problem directories in the spool",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.openSpool()
			if err != nil {
				return err
			}
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			names, err := s.List(pattern)
			if err != nil {
				return err
			}
			long, _ := cmd.Flags().GetBool("long")
			for _, name := range names {
				if !long {
					fmt.Fprintln(cmd.OutOrStdout(), name)
					continue
				}
				d, err := s.Open(name, dumpdir.FailQuietlyENOENT|dumpdir.FailQuietlyEACCES|dumpdir.DontWaitForLock|dumpdir.OpenReadonly)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t(unreadable: %v)\n", name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
					name,
					time.Unix(d.Time(), 0).Format(time.RFC3339),
					d.LoadText(dumpdir.FilenameHostname))
				d.Close()
			}
			return nil
		},
	}
	cmd.Flags().Bool("long", false, "show capture time and hostname")
	return cmd
}

func newInfoCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show every item of a problem directory",
		Args:  cobra.ExactArgs(1),
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

			it, err := d.Items()
			if err != nil {
				return err
			}
			for {
				name, ok := it.Next()
				if !ok {
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\t%s\n", name, d.LoadText(name))
			}
		},
	}
}
