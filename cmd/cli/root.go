// Package cli provides the cyberguard command-line interface. It implements
// the Cobra command tree for running the dashboard API server, inspecting
// the fixture data set, driving scans against a running server and
// managing configuration files.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cyberguard/cyberguard/internal/config"
	"github.com/cyberguard/cyberguard/internal/logging"
)

// envPrefix prefixes every environment variable viper reads.
const envPrefix = "CYBERGUARD"

var (
	cfgFile string
	verbose bool
)

// Build information, set through SetVersion.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cyberguard",
	Short: "IoT security dashboard backend",
	Long: `CyberGuard serves the IoT security dashboard API: login sessions,
device, open-port and CVE inventories, and simulated network scans with
live progress.`,
	Version:      getVersion(),
	SilenceUsage: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{"verbose": "verbose"})
}

// bindFlags binds each viper key to the named flag in fs.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// initConfig wires viper to the config file and CYBERGUARD_* variables.
func initConfig() {
	configureViper(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// configureViper maps nested keys such as server.port onto
// CYBERGUARD_SERVER_PORT.
func configureViper(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// configPath returns the file the configuration is loaded from.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return "config.yaml"
}

// loadConfig reads the configuration file, overlays flags and
// environment variables on top of it and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Read(configPath())
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if err := overlay(cfg, viper.GetViper()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// overlay applies the keys v knows about, from bound flags or the
// environment, to cfg.
func overlay(cfg *config.Config, v *viper.Viper) error {
	for _, key := range []string{
		"server.host", "server.port",
		"session.secret", "session.secure_cookie",
		"storage.driver", "storage.seed",
		"storage.database.host", "storage.database.port", "storage.database.database",
		"storage.database.username", "storage.database.password", "storage.database.ssl_mode",
		"logging.level", "logging.format", "logging.output",
		"metrics.enabled", "reporter.enabled", "rate_limit.enabled",
	} {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if v.IsSet("server.host") {
		cfg.Server.Host = v.GetString("server.host")
	}
	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("session.secret") {
		cfg.Session.Secret = v.GetString("session.secret")
	}
	if v.IsSet("session.secure_cookie") {
		cfg.Session.SecureCookie = v.GetBool("session.secure_cookie")
	}
	if v.IsSet("storage.driver") {
		cfg.Storage.Driver = v.GetString("storage.driver")
	}
	if v.IsSet("storage.seed") {
		cfg.Storage.Seed = v.GetBool("storage.seed")
	}

	db := &cfg.Storage.Database
	if v.IsSet("storage.database.host") {
		db.Host = v.GetString("storage.database.host")
	}
	if v.IsSet("storage.database.port") {
		db.Port = v.GetInt("storage.database.port")
	}
	if v.IsSet("storage.database.database") {
		db.Database = v.GetString("storage.database.database")
	}
	if v.IsSet("storage.database.username") {
		db.Username = v.GetString("storage.database.username")
	}
	if v.IsSet("storage.database.password") {
		db.Password = v.GetString("storage.database.password")
	}
	if v.IsSet("storage.database.ssl_mode") {
		db.SSLMode = v.GetString("storage.database.ssl_mode")
	}

	if v.IsSet("logging.level") {
		cfg.Logging.Level = logging.LogLevel(v.GetString("logging.level"))
	}
	if v.IsSet("logging.format") {
		cfg.Logging.Format = logging.LogFormat(v.GetString("logging.format"))
	}
	if v.IsSet("logging.output") {
		cfg.Logging.Output = v.GetString("logging.output")
	}
	if v.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	}
	if v.IsSet("reporter.enabled") {
		cfg.Reporter.Enabled = v.GetBool("reporter.enabled")
	}
	if v.IsSet("rate_limit.enabled") {
		cfg.RateLimit.Enabled = v.GetBool("rate_limit.enabled")
	}
	return nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// newLogger builds the process logger from cfg and installs it as the
// default.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := cfg.Logging
	if verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDefault(logger)
	return logger, nil
}
