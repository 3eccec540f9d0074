package root

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	debugMode bool
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "tablechat",
		Short: "tablechat - chat with local tabular datasets",
		Long: "tablechat loads CSV files into a local Python analysis sandbox and lets\n" +
			"you ask questions about them through a locally running language model.",
		Example: `  tablechat run
  tablechat run people.csv orders.csv
  tablechat run --config tablechat.yaml sales.csv`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if flags.debugMode {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			})))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVar(&flags.debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)

	return cmd
}

func Execute(ctx context.Context) error {
	cmd := NewRootCmd()
	cmd.SetArgs(os.Args[1:])
	return cmd.ExecuteContext(ctx)
}
