package cli

import (
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peerlink/internal/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:  `peerlink`,
	Long: `peerlink brokers direct peer to peer connections over a signaling channel`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return logger.NewLogger(level)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(dialCmd)
}
