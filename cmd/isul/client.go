package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CloudNativeWorks/isul-sdk/isul"
	"github.com/CloudNativeWorks/isul-sdk/isul/token"
)

var clientFlags = []string{
	"api-url", "ui-url", "offline-ui-url", "product-id", "product-version",
	"public-key", "storage", "log-file",
}

func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("api-url", "", "license service URL")
	f.String("ui-url", "", "sign-in WebUI URL (default <api-url>/signin)")
	f.String("offline-ui-url", "", "offline activation WebUI URL")
	f.String("product-id", "", "product identifier")
	f.String("product-version", "", "product version")
	f.String("public-key", "", "base64 Ed25519 key of the license service")
	f.String("storage", "", "license storage directory")
	f.String("log-file", "", "diagnostic log file")
}

// clientCmd builds a command that runs fn against a Manager configured from
// flags, environment and the config file.
func clientCmd(v *viper.Viper, use, short string, fn func(cmd *cobra.Command, m *isul.Manager) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd, "", clientFlags...)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd, slog.LevelWarn)
			d := &cliDelegate{out: cmd.OutOrStdout(), logger: logger, allow: true}
			if noActivate, err := cmd.Flags().GetBool("no-activate"); err == nil {
				d.allow = !noActivate
			}
			presenter := newTerminalPresenter(cmd.InOrStdin(), cmd.OutOrStdout())
			defer presenter.Close()
			m, err := newManager(v, d, logger, presenter)
			if err != nil {
				return err
			}
			defer m.Close(context.Background())
			return fn(cmd, m)
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newManager(v *viper.Viper, d isul.Delegate, logger *slog.Logger, presenter isul.SignInPresenter) (*isul.Manager, error) {
	apiURL := strings.TrimRight(v.GetString("api_url"), "/")
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required")
	}
	uiURL := v.GetString("ui_url")
	if uiURL == "" {
		uiURL = apiURL + "/signin"
	}

	// Arbitrary product properties from the config file's "properties" map;
	// the dedicated flags take precedence.
	props := isul.Properties(v.GetStringMapString("properties"))
	if props == nil {
		props = isul.Properties{}
	}
	set := func(key, value string) {
		if value != "" {
			props[key] = value
		}
	}
	set(isul.KeyProductID, v.GetString("product_id"))
	set(isul.KeyProductVersion, v.GetString("product_version"))
	set(isul.KeyLicenseStoragePath, v.GetString("storage"))
	set(isul.KeyLogFilePath, v.GetString("log_file"))
	set(isul.KeyOfflineUIURL, v.GetString("offline_ui_url"))

	opts := []isul.Option{
		isul.WithPresenter(presenter),
		isul.WithLogger(logger),
	}
	if pk := v.GetString("public_key"); pk != "" {
		pub, err := token.ParsePublicKey(pk)
		if err != nil {
			return nil, err
		}
		opts = append(opts, isul.WithTrustedPublicKey(pub))
	}
	return isul.Create(uiURL, apiURL, props, d, opts...)
}

func validateCmd(v *viper.Viper) *cobra.Command {
	cmd := clientCmd(v, "validate", "Validate the license, activating this machine if needed",
		func(cmd *cobra.Command, m *isul.Manager) error {
			reason, _ := cmd.Flags().GetString("reason")
			st, err := m.Validate(reason).Wait(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd, st)
			return st.Err()
		})
	cmd.Flags().String("reason", "cli", "reason passed to the sign-in WebUI")
	cmd.Flags().Bool("no-activate", false, "fail instead of starting activation")
	return cmd
}

func deactivateCmd(v *viper.Viper) *cobra.Command {
	return clientCmd(v, "deactivate", "Release this machine's activation",
		func(cmd *cobra.Command, m *isul.Manager) error {
			st, err := m.Deactivate(nil).Wait(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd, st)
			if st.Result() == isul.Deactivated {
				return nil
			}
			return st.Err()
		})
}

func infoCmd(v *viper.Viper) *cobra.Command {
	return clientCmd(v, "info", "Print the attributes of the stored license",
		func(cmd *cobra.Command, m *isul.Manager) error {
			info := m.LicenseInfo()
			if len(info) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No valid activation on this machine.")
				return nil
			}
			for _, k := range slices.Sorted(maps.Keys(info)) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, info[k])
			}
			return nil
		})
}

func refreshCmd(v *viper.Viper) *cobra.Command {
	return clientCmd(v, "refresh", "Update offline grace counters without contacting the license service",
		func(cmd *cobra.Command, m *isul.Manager) error {
			st := m.UpdateLicenseInfo(cmd.Context())
			printStatus(cmd, st)
			return st.Err()
		})
}

func printStatus(cmd *cobra.Command, st isul.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status: %s\n", st)
	if exp := st.ExpiredDate(); !exp.IsZero() {
		fmt.Fprintf(out, "Expires: %s\n", exp.Format("2006-01-02 15:04 MST"))
	}
	if st.IsAboutToExpire() {
		fmt.Fprintln(out, "Warning: license is about to expire")
	}
}
