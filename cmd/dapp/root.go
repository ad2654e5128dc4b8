package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/dapp-builder/internal/config"
	"github.com/altuslabsxyz/dapp-builder/internal/di"
	"github.com/altuslabsxyz/dapp-builder/internal/output"
	"github.com/altuslabsxyz/dapp-builder/internal/paths"
	"github.com/altuslabsxyz/dapp-builder/internal/version"
	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

// Environment variables read at start-up.
const (
	envHome       = "DAPP_HOME"
	envPassphrase = "DAPP_KEYSTORE_PASSPHRASE"
)

// Command group IDs for organized help output.
const (
	GroupMain  = "main"
	GroupSetup = "setup"
)

// app carries the global flags and the lazily built container shared by
// every command.
type app struct {
	homeDir     string
	configPath  string
	projectPath string
	jsonMode    bool
	noColor     bool
	verbose     bool

	logger    *output.Logger
	settings  config.Settings
	project   *config.ProjectConfig
	container *di.Container
}

func newApp() *app {
	return &app{logger: output.NewLogger()}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dapp",
		Short: "Develop, deploy and test smart contracts against any network",
		Long: `dapp is a development toolkit for smart-contract applications.

It resolves networks by ecosystem/network/provider identifiers, manages
accounts from several backends, compiles contracts through pluggable
compilers and sends transactions with safe nonce and retry handling.

Examples:
  # List configured networks
  dapp networks list

  # Check that a network is reachable and reports the expected chain id
  dapp networks ping ethereum/mainnet

  # Send 1 wei on the built-in simulated chain and wait for the receipt
  dapp tx send --from 0xf39F... --to 0x7099... --value 1 --wait`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.homeDir, "home", paths.DefaultHomeDir(), "Base directory for keys, plugins and caches")
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config.toml (default: ./config.toml or <home>/config.toml)")
	cmd.PersistentFlags().StringVar(&a.projectPath, "project", "", "Path to the network configuration (default: ./"+paths.ProjectConfigFile+")")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVar(&a.jsonMode, "json", false, "Output in JSON format")

	cmd.AddGroup(
		&cobra.Group{ID: GroupMain, Title: "Main Commands:"},
		&cobra.Group{ID: GroupSetup, Title: "Setup Commands:"},
	)

	for _, sub := range []*cobra.Command{
		newNetworksCmd(a),
		newAccountsCmd(a),
		newCompileCmd(a),
		newTxCmd(a),
	} {
		sub.GroupID = GroupMain
		cmd.AddCommand(sub)
	}
	plugins := newPluginsCmd(a)
	plugins.GroupID = GroupSetup
	cmd.AddCommand(plugins, version.NewCmd("dapp"))

	return cmd
}

// load resolves settings and the network configuration.
// Priority: default < config.toml < env < flag.
func (a *app) load(cmd *cobra.Command) error {
	flags := cmd.Flags()

	if env := os.Getenv(envHome); env != "" && !flags.Changed("home") {
		a.homeDir = env
	}

	loader := config.NewConfigLoader(a.homeDir, a.configPath, a.logger)
	fileCfg, configFile, err := loader.LoadFileConfig()
	if err != nil {
		return err
	}
	settings, err := fileCfg.Resolve(a.homeDir)
	if err != nil {
		return err
	}

	if flags.Changed("home") {
		settings.Home = a.homeDir
	}
	if flags.Changed("verbose") {
		settings.Verbose = a.verbose
	}
	if flags.Changed("json") {
		settings.JSON = a.jsonMode
	}
	if os.Getenv("NO_COLOR") != "" {
		settings.NoColor = true
	}
	if flags.Changed("no-color") {
		settings.NoColor = a.noColor
	}
	if flags.Changed("project") {
		settings.Project = a.projectPath
	}
	a.settings = settings

	if settings.NoColor {
		a.logger.SetNoColor(true)
	}
	a.logger.SetVerbose(settings.Verbose)
	a.logger.SetJSONMode(settings.JSON)
	if configFile != "" {
		a.logger.Debug("Using config file: %s", configFile)
	}

	project, err := loadProject(settings.Project)
	if err != nil {
		return err
	}
	a.project = project
	return nil
}

// loadProject merges the project file, if any, over the built-in networks.
// Without an explicit path ./dapp-config.yaml is used when present.
func loadProject(path string) (*config.ProjectConfig, error) {
	builtin := config.BuiltinProjectConfig()
	if path == "" {
		if _, err := os.Stat(paths.ProjectConfigFile); err != nil {
			return builtin, nil
		}
		path = paths.ProjectConfigFile
	}
	project, err := config.LoadProjectConfig(path)
	if err != nil {
		return nil, err
	}
	return config.Merge(builtin, project), nil
}

// Container builds the composition root on first use.
func (a *app) Container() (*di.Container, error) {
	if a.container != nil {
		return a.container, nil
	}
	c, err := di.New(
		di.Config{Settings: a.settings, Project: a.project},
		di.WithLogger(a.logger),
		di.WithHCLogger(output.NewHCLogger("dapp", os.Stderr, a.settings.Verbose, a.settings.JSON)),
		di.WithPassphraseFunc(promptPassphrase),
	)
	if err != nil {
		return nil, err
	}
	a.container = c
	return c, nil
}

func (a *app) close() error {
	if a.container == nil {
		return nil
	}
	err := a.container.Close()
	a.container = nil
	return err
}

// promptPassphrase unlocks keystore accounts from the environment, or asks
// on the terminal.
func promptPassphrase(addr chain.Address) (string, error) {
	if pass, ok := os.LookupEnv(envPassphrase); ok {
		return pass, nil
	}
	return output.PassphrasePrompt(fmt.Sprintf("Passphrase for %s", addr.Hex()), false)
}
