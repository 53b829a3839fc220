package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/expeca/ainur/pkg/ansible"
	"github.com/expeca/ainur/pkg/config"
	"github.com/expeca/ainur/pkg/events"
	"github.com/expeca/ainur/pkg/log"
	"github.com/expeca/ainur/pkg/metrics"
	"github.com/expeca/ainur/pkg/network"
	"github.com/expeca/ainur/pkg/storage"
	"github.com/expeca/ainur/pkg/swarm"
	"github.com/expeca/ainur/pkg/vpn"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Deploy the testbed and hold it up until interrupted",
	Long: `Deploy the testbed described by the configuration: bring up the declared
LANs, mesh in the cloud instances over the VPN overlay, and form the Docker
Swarm cluster. The command then blocks until interrupted (SIGINT/SIGTERM)
and tears everything down in reverse order of bring-up.`,
	RunE: runUp,
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)
	logger := log.WithComponent("up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, store, err := buildRunner(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker.Subscribe())

	hosts, err := cfg.HostIdentities()
	if err != nil {
		return err
	}

	comp := network.NewComposite()
	for _, netCfg := range cfg.Networks {
		members, err := cfg.NetworkHosts(netCfg, hosts)
		if err != nil {
			return err
		}
		comp.Add(network.NewLANLayer(netCfg.Name, runner, members, network.WithBroker(broker)))
	}

	var mesh *vpn.CloudMesh
	if len(cfg.Cloud.Hosts) > 0 {
		gw, err := cfg.Gateway()
		if err != nil {
			return err
		}
		mesh = vpn.NewCloudMesh(gw, runner, vpn.WithBroker(broker))
		comp.Add(mesh)
	}

	if err := comp.Enter(ctx); err != nil {
		return err
	}

	if mesh != nil {
		cloudHosts, cloudConfigs, err := cfg.CloudBatch()
		if err == nil {
			err = mesh.Connect(ctx, cloudHosts, cloudConfigs)
		}
		if err != nil {
			logger.Error().Err(err).Msg("cloud mesh deployment failed, tearing down")
			return errors.Join(err, comp.TearDown(context.Background()))
		}
	}

	var cluster *swarm.DockerSwarm
	if len(cfg.Swarm.Managers) > 0 {
		managers, workers, err := cfg.SwarmAssignments(comp.Lookup)
		if err == nil {
			cluster, err = swarm.FormSwarm(ctx, swarm.Config{
				Managers:      managers,
				Workers:       workers,
				DefaultLabels: cfg.Swarm.DefaultLabels,
				DaemonPort:    cfg.Swarm.DaemonPort,
				MaxParallel:   cfg.Swarm.MaxParallel,
				Broker:        broker,
			})
		}
		if err != nil {
			logger.Error().Err(err).Msg("swarm formation failed, tearing down")
			return errors.Join(err, comp.TearDown(context.Background()))
		}
	}

	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
		defer srv.Close()
	}

	logger.Info().Int("hosts", comp.Len()).Msg("testbed is up; press Ctrl-C to tear down")
	<-ctx.Done()
	stop()
	logger.Warn().Msg("interrupted, tearing down the testbed")

	// teardown runs in strict reverse order of bring-up, on a fresh context
	tctx := context.Background()
	var errs []error
	if cluster != nil {
		if err := cluster.TearDown(tctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := comp.TearDown(tctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		logger.Info().
			Str("type", string(ev.Type)).
			Str("host", ev.HostID).
			Msg(ev.Message)
	}
}

func buildRunner(cfg *config.Config) (ansible.Runner, *storage.FactStore, error) {
	store, err := storage.NewFactStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, err
	}
	actx, err := ansible.NewContext(cfg.Ansible.BaseDir)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	opts := []ansible.ExecOption{ansible.WithFactStore(store)}
	if cfg.Ansible.SSHKey != "" {
		opts = append(opts, ansible.WithSSHKey(cfg.Ansible.SSHKey))
	}
	if cfg.Ansible.Verbose {
		opts = append(opts, ansible.WithVerboseOutput())
	}
	return ansible.NewExecRunner(actx, opts...), store, nil
}
