package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/mail-alfred/internal/cli"
	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/config"
)

var (
	cfgFile string
	version = "dev"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alfred",
		Short: "📬 Mailbox triage with a language model",
		Long: `alfred scans a mailbox, asks a language model to pick one label from a
small fixed taxonomy for every unlabeled message, and writes the label back.

Labels live under classifications/: bulk_content, read_later, records,
requires_action and unsure.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/alfred/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err == nil {
		return
	}

	var userErr *common.UserError
	if errors.As(err, &userErr) {
		fmt.Fprintln(os.Stderr, cli.FormatError(userErr.UserMessage))
		if userErr.Err != nil {
			fmt.Fprintln(os.Stderr, cli.SubtleStyle.Render("  "+userErr.Err.Error()))
		}
	} else {
		fmt.Fprintln(os.Stderr, cli.FormatError(err.Error()))
	}
	os.Exit(1)
}

func initConfig(_ *cobra.Command, _ []string) error {
	// .env values override the environment
	if err := godotenv.Overload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(config.ExpandPath(cfgFile))
	} else {
		viper.AddConfigPath(config.Dir())
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ALFRED")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return setupLogging()
}

func setupLogging() error {
	level, err := common.ParseLevel(viper.GetString("logging.level"))
	if err != nil {
		return err
	}

	format := viper.GetString("logging.format")
	switch format {
	case "console", "json", "":
	default:
		return fmt.Errorf("%w: invalid log format: %s", common.ErrInvalidConfig, format)
	}

	common.SetupLogger(level, format)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "alfred %s\n", version)
		},
	}
}
