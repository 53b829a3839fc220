package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/expeca/ainur/pkg/ansible"
	"github.com/expeca/ainur/pkg/log"
	"github.com/expeca/ainur/pkg/network"
	"github.com/expeca/ainur/pkg/vpn"
)

var sshCleanup bool

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Force-tear down everything the configuration declares",
	Long: `Run the teardown playbooks against every declared host, whether or not a
deployment is known to be up. Use this to clean up after a crashed or
killed run; a normally interrupted 'up' tears itself down.

With --ssh, cloud hosts are cleaned up over bare SSH instead of the
playbook runner, for control hosts without an ansible-runner install.`,
	RunE: runDown,
}

func init() {
	downCmd.Flags().BoolVar(&sshCleanup, "ssh", false,
		"clean up cloud hosts over bare SSH instead of the playbook runner")
}

func runDown(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)
	logger := log.WithComponent("down")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, store, err := buildRunner(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	hosts, err := cfg.HostIdentities()
	if err != nil {
		return err
	}

	// teardown failures on one layer never stop the others
	var errs []error
	if len(cfg.Cloud.Hosts) > 0 {
		gw, err := cfg.Gateway()
		if err != nil {
			errs = append(errs, err)
		} else {
			meshRunner := runner
			if sshCleanup {
				meshRunner = ansible.NewSSHRunner(vpn.SSHTeardownScripts())
			}
			cloudHosts, cloudConfigs, err := cfg.CloudBatch()
			if err == nil {
				err = vpn.ForceDown(ctx, meshRunner, gw, cloudHosts, cloudConfigs)
			}
			if err != nil {
				logger.Error().Err(err).Msg("cloud mesh teardown failed")
				errs = append(errs, err)
			}
		}
	}

	for _, netCfg := range cfg.Networks {
		members, err := cfg.NetworkHosts(netCfg, hosts)
		if err == nil {
			err = network.ForceDown(ctx, runner, netCfg.Name, members)
		}
		if err != nil {
			logger.Error().Err(err).Str("network", netCfg.Name).Msg("LAN teardown failed")
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info().Msg("testbed torn down")
	return nil
}
