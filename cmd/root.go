// Package cmd provides the staticpack command-line interface.
//
// Configuration comes from, highest priority first: command-line flags,
// STATICPACK_<SECTION>_<OPTION> environment variables, and the config file
// (--config, STATICPACK_CONFIG_FILE, or .staticpack.yml in the working
// directory).
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/staticpack/internal/config"
	perrors "github.com/conneroisu/staticpack/internal/errors"
	"github.com/conneroisu/staticpack/internal/logging"
)

var cfgFile string

// appFs is the file system every command reads and writes.
var appFs = afero.NewOsFs()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "staticpack",
	Short: "Render a bundle graph's pages to static HTML and flight payloads",
	Long: `staticpack loads a pre-built bundle graph, evaluates each page bundle's
server artifacts and renders the page once to a component payload. The payload
is written as <page>.rsc and injected into the rendered <page>.html document.

Quick Start:
  staticpack build                Render every page into the dist directory
  staticpack serve                Serve pages on demand with live reload
  staticpack graph --format dot   Print the bundle graph`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .staticpack.yml, can also use STATICPACK_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("root", ".", "project root")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level": "log-level",
		"root":      "build.project_root",
	})
}

// bindFlags binds each named flag of flags to its config key.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}
}

func initConfig() {
	viper.SetFs(appFs)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("STATICPACK_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".staticpack")
	}

	viper.SetEnvPrefix("STATICPACK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// A missing config file is fine; defaults apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, perrors.Wrap(err, "loading configuration")
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) (logging.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: "text",
		Output: cmd.ErrOrStderr(),
	}), nil
}
