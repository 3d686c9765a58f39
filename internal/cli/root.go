// Package cli implements the crashspool command line tool.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crashspool/crashspool/internal/config"
	"github.com/crashspool/crashspool/internal/dumpdir"
	"github.com/crashspool/crashspool/internal/spool"
)

type rootState struct {
	configPath string
	spoolRoot  string
	logLevel   string

	cfg *config.Config
	log *slog.Logger
}

func NewRoot(version string) *cobra.Command {
	st := &rootState{}
	cmd := &cobra.Command{
		Use:           "crashspool",
		Short:         "crashspool: manage a spool of problem directories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.setup()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate("crashspool {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&st.configPath, "config", getenvDefault("CRASHSPOOL_CONFIG", ""), "configuration file")
	cmd.PersistentFlags().StringVar(&st.spoolRoot, "spool", getenvDefault("CRASHSPOOL_ROOT", ""), "spool root directory (overrides config)")
	cmd.PersistentFlags().StringVar(&st.logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")

	cmd.AddCommand(newListCmd(st))
	cmd.AddCommand(newInfoCmd(st))
	cmd.AddCommand(newCreateCmd(st))
	cmd.AddCommand(newRmCmd(st))
	cmd.AddCommand(newPruneCmd(st))
	cmd.AddCommand(newWatchCmd(st))
	cmd.AddCommand(newReportCmd(st))

	return cmd
}

func (st *rootState) setup() error {
	var err error
	if st.configPath != "" {
		st.cfg, err = config.Load(st.configPath)
		if err != nil {
			return err
		}
	} else {
		st.cfg = config.Default()
	}
	if st.spoolRoot != "" {
		st.cfg.Spool.Root = st.spoolRoot
	}
	if st.logLevel != "" {
		st.cfg.Logging.Level = st.logLevel
	}

	var level slog.Level
	switch st.cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", st.cfg.Logging.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	if st.cfg.Logging.Format == "json" {
		st.log = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	} else {
		st.log = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return nil
}

func (st *rootState) openSpool() (*spool.Spool, error) {
	mode, err := st.cfg.FileMode()
	if err != nil {
		return nil, err
	}
	policy := dumpdir.PolicyOwnedByUser
	if st.cfg.Spool.Policy == "group" {
		policy = dumpdir.PolicyGroupMember
	}
	return spool.New(st.cfg.Spool.Root,
		spool.WithLogger(st.log),
		spool.WithMode(mode),
		spool.WithOwnerUser(st.cfg.Spool.OwnerUser),
		spool.WithPolicy(policy))
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
