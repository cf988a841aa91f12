package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelogin/pkg/config"
	"github.com/MrCodeEU/facelogin/pkg/logging"
)

// cli carries the global flags and the configuration they resolve to.
type cli struct {
	configFile string
	debug      bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "facelogin",
		Short: "Face + password authentication service",
		Long: `facelogin registers users with a password and a reference photo,
and logs them in by checking both the password and a fresh photo.

Configuration is read from /etc/facelogin/facelogin.yaml or
~/.config/facelogin/facelogin.yaml unless --config is given.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd(c))
	rootCmd.AddCommand(newRegisterCmd(c))
	rootCmd.AddCommand(newLoginCmd(c))
	rootCmd.AddCommand(newRemoveCmd(c))
	rootCmd.AddCommand(newListCmd(c))
	rootCmd.AddCommand(newDownloadModelsCmd(c))
	rootCmd.AddCommand(newConfigCmd(c))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// setup loads configuration and initializes logging.
func (c *cli) setup() error {
	var err error
	if c.configFile != "" {
		c.cfg, err = config.Load(c.configFile)
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", c.configFile, err)
		}
	} else {
		c.cfg, err = config.LoadDefault()
		if err != nil {
			logging.Warnf("Failed to load config, using defaults: %v", err)
			c.cfg = config.DefaultConfig()
		}
	}

	c.cfg.ExpandPaths()
	if c.debug {
		c.cfg.Logging.Level = "debug"
	}
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Init(c.cfg.Logging.Level, c.cfg.Logging.Format, c.cfg.Logging.File); err != nil {
		logging.Warnf("Failed to open log file %s: %v", c.cfg.Logging.File, err)
	}
	logging.Debugf("facelogin v%s starting", version)
	return nil
}

func newConfigCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := c.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "facelogin v%s\n", version)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
