// Command kapuad boots one Kapua mesh node: it parses configuration (YAML
// file and/or flags), loads or generates the node's long-lived key pair,
// constructs the core, prints the startup splash, and runs until an
// interrupt or terminate signal asks it to shut down.
//
// Grounded on SAGE-X-project-sage's cmd/sage-did: a cobra root command
// with flags bound via Flags().StringVar, RunE returning an error cobra
// reports and turns into a non-zero exit.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kapua-mesh/kapua/internal/banner"
	"github.com/kapua-mesh/kapua/internal/config"
	"github.com/kapua-mesh/kapua/internal/cryptoenv"
	"github.com/kapua-mesh/kapua/internal/logger"
	"github.com/kapua-mesh/kapua/internal/node"
)

var (
	flagConfigPath      string
	flagServerID        string
	flagBindAddress     string
	flagPort            int
	flagDiscoveryEnable string
	flagDiscoveryIntvl  string
	flagLoggingLevel    string
	flagDisableSplash   string
	flagPublicKeyPath   string
	flagPrivateKeyPath  string
)

var rootCmd = &cobra.Command{
	Use:     "kapuad",
	Short:   "Kapua peer-to-peer mesh node",
	Long:    "kapuad discovers neighbors on the local network and maintains mutually-authenticated, encrypted sessions with them.",
	Version: versionString(),
	RunE:    run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagConfigPath, "config", "", "path to a YAML configuration file")
	flags.StringVar(&flagServerID, "server.id", "", "64-bit hex node id literal, overrides the random default")
	flags.StringVar(&flagBindAddress, "server.ip4_address", "", "bind address (default 0.0.0.0)")
	flags.IntVar(&flagPort, "server.port", 0, "UDP port (default 11860)")
	flags.StringVar(&flagDiscoveryEnable, "local_discovery.enable", "", "enable local discovery broadcasts (true/false)")
	flags.StringVar(&flagDiscoveryIntvl, "local_discovery.interval", "", "discovery broadcast interval, e.g. 1h27m16s")
	flags.StringVar(&flagLoggingLevel, "logging.level", "", "error|warn|info|debug")
	flags.StringVar(&flagDisableSplash, "logging.disable_splash", "", "suppress the startup banner (true/false)")
	flags.StringVar(&flagPublicKeyPath, "public-key", "", "path to the node's public key PEM (default public.pem)")
	flags.StringVar(&flagPrivateKeyPath, "private-key", "", "path to the node's private key PEM (default private.pem)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func versionString() string {
	return "0.0.1"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kapuad: %v\n", err)
		os.Exit(1)
	}
}

func overridesFromFlags(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	f := cmd.Flags()

	if f.Changed("server.id") {
		o.ServerID = &flagServerID
	}
	if f.Changed("server.ip4_address") {
		o.BindAddress = &flagBindAddress
	}
	if f.Changed("server.port") {
		o.Port = &flagPort
	}
	if f.Changed("local_discovery.enable") {
		o.LocalDiscoveryEnable = &flagDiscoveryEnable
	}
	if f.Changed("local_discovery.interval") {
		o.LocalDiscoveryInterval = &flagDiscoveryIntvl
	}
	if f.Changed("logging.level") {
		o.LoggingLevel = &flagLoggingLevel
	}
	if f.Changed("logging.disable_splash") {
		o.LoggingDisableSplash = &flagDisableSplash
	}
	if f.Changed("public-key") {
		o.PublicKeyPath = &flagPublicKeyPath
	}
	if f.Changed("private-key") {
		o.PrivateKeyPath = &flagPrivateKeyPath
	}
	return o
}

func run(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadFile(flagConfigPath, overridesFromFlags(cmd))
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	log := logger.New(os.Stdout, settings.LoggingLevel, "")

	keys, err := cryptoenv.LoadOrGenerateKeyPair(settings.PublicKeyPath, settings.PrivateKeyPath, cryptoenv.DefaultKeyBits)
	if err != nil {
		return fmt.Errorf("startup: load key pair: %w", err)
	}

	core := node.New(settings, log, keys)

	banner.Print(log, settings.LoggingDisableSplash, core.ID(),
		fmt.Sprintf("%s:%d", settings.BindAddress, settings.Port))

	if err := core.Run(); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	core.Stop()
	return nil
}
