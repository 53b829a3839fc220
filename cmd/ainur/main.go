package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/expeca/ainur/pkg/config"
	"github.com/expeca/ainur/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ainur",
	Short: "Ainur - edge-to-cloud testbed orchestrator",
	Long: `Ainur deploys experimental compute and network testbeds: it brings up
layer-3 connectivity across local LANs and cloud instances, meshes the
cloud side in over an encrypted VPN overlay, and forms a Docker Swarm
cluster spanning the whole thing.

Everything is scoped: a failed deployment rolls itself back, and an
interrupted run tears down in strict reverse order of bring-up.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Ainur version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"path to the testbed configuration file")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(runsCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.NewLoader().LoadFile(cfgFile)
	}
	return config.NewLoader().Load()
}

func initLogging(cfg *config.Config) {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogFormat == "json",
	})
}
