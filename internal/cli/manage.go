package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

func newCreateCmd(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a problem directory with the basic items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.openSpool()
			if err != nil {
				return err
			}
			prefix, _ := cmd.Flags().GetString("prefix")
			uid, _ := cmd.Flags().GetInt("uid")
			items, _ := cmd.Flags().GetStringToString("item")

			d, err := s.Create(prefix, uid)
			if err != nil {
				return err
			}
			defer d.Close()
			for name, value := range items {
				if err := d.SaveText(name, value); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Base(d.Path()))
			return nil
		},
	}
	cmd.Flags().String("prefix", "problem", "problem directory name prefix")
	cmd.Flags().Int("uid", -1, "uid of the affected user (-1 disables sanitisation)")
	cmd.Flags().StringToString("item", nil, "extra items to save, name=value")
	return cmd
}

func newRmCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>...",
		Short: "Delete problem directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.openSpool()
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := s.Delete(name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
			}
			return nil
		},
	}
}

func newPruneCmd(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete problem directories older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.openSpool()
			if err != nil {
				return err
			}
			age, _ := cmd.Flags().GetDuration("older-than")
			removed, err := s.Prune(time.Now().Add(-age))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d problem directories\n", removed)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 30*24*time.Hour, "delete problems captured longer ago than this")
	return cmd
}

func newWatchCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print spool changes as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.openSpool()
			if err != nil {
				return err
			}
			events, err := s.Watch(cmd.Context())
			if err != nil {
				return err
			}
			for ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ev.Op, ev.Name)
			}
			return nil
		},
	}
}
