package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/expeca/ainur/pkg/storage"
)

var factsCmd = &cobra.Command{
	Use:   "facts [host]",
	Short: "Show facts gathered from testbed hosts",
	Long: `Show the structured facts cached by previous playbook runs. Without an
argument, lists the hosts that have cached facts; with a host ID, prints
that host's fact map as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFacts,
}

func runFacts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewFactStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		ids, err := store.HostIDs()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No cached facts. Run 'ainur up' first.")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	facts, err := store.Facts(args[0])
	if err != nil {
		return err
	}
	if facts == nil {
		return fmt.Errorf("no cached facts for host %s", args[0])
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(facts)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded playbook runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := storage.NewFactStore(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.Runs()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs.")
			return nil
		}

		fmt.Printf("%-38s %-20s %-8s %-10s %s\n", "RUN ID", "PLAYBOOK", "STATUS", "DURATION", "HOSTS")
		for _, r := range runs {
			fmt.Printf("%-38s %-20s %-8s %-10s %d\n",
				r.ID, r.Playbook, r.Status, r.Duration.Round(10*time.Millisecond), len(r.HostIDs))
		}
		return nil
	},
}
