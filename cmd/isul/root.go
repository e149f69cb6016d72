package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix maps config keys to environment variables, e.g. api_url to
// ISUL_API_URL and server.addr to ISUL_SERVER_ADDR.
const envPrefix = "ISUL"

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:   "isul",
		Short: "Desktop license activation toolkit",
		Long: `isul validates, activates and deactivates product licenses on this machine
and runs the reference license service the SDK talks to.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd)
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "log license service traffic")

	root.AddCommand(
		serveCmd(v),
		validateCmd(v),
		deactivateCmd(v),
		infoCmd(v),
		refreshCmd(v),
		keygenCmd(),
	)
	return root
}

func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
	}
	return nil
}

// bindFlags binds command flags to config keys; flag names use dashes,
// keys use underscores.
func bindFlags(v *viper.Viper, cmd *cobra.Command, prefix string, names ...string) error {
	for _, name := range names {
		key := prefix + strings.ReplaceAll(name, "-", "_")
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// newLogger logs to stderr at level, or at debug with --verbose.
func newLogger(cmd *cobra.Command, level slog.Level) *slog.Logger {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
