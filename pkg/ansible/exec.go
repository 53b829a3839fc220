package ansible

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/expeca/ainur/pkg/log"
	"github.com/expeca/ainur/pkg/metrics"
	"github.com/expeca/ainur/pkg/storage"
)

// Context points at a base directory laid out the way ansible-runner expects:
// an env/ subdirectory with settings and extravars, and a project/
// subdirectory holding the playbooks.
type Context struct {
	baseDir string
	envDir  string
	projDir string
}

// NewContext validates the base directory structure and returns a Context
func NewContext(baseDir string) (*Context, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	envDir := filepath.Join(base, "env")
	projDir := filepath.Join(base, "project")
	for _, d := range []string{base, envDir, projDir} {
		info, err := os.Stat(d)
		if err != nil {
			return nil, fmt.Errorf("ansible context directory %s: %w", d, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("ansible context path %s is not a directory", d)
		}
	}

	return &Context{baseDir: base, envDir: envDir, projDir: projDir}, nil
}

// prepare assembles a throwaway private data directory for a single run:
// the project directory is symlinked, env is copied so per-run overrides
// never touch the base environment, and the inventory is written out.
func (c *Context) prepare(runDir string, inv Inventory, sshKey string) error {
	if err := os.Symlink(c.projDir, filepath.Join(runDir, "project")); err != nil {
		return fmt.Errorf("failed to link project directory: %w", err)
	}
	if err := os.CopyFS(filepath.Join(runDir, "env"), os.DirFS(c.envDir)); err != nil {
		return fmt.Errorf("failed to copy env directory: %w", err)
	}

	if sshKey != "" {
		key, err := os.ReadFile(sshKey)
		if err != nil {
			return fmt.Errorf("failed to read ssh key %s: %w", sshKey, err)
		}
		if err := os.WriteFile(filepath.Join(runDir, "env", "ssh_key"), key, 0600); err != nil {
			return fmt.Errorf("failed to stage ssh key: %w", err)
		}
	}

	invDir := filepath.Join(runDir, "inventory")
	if err := os.MkdirAll(invDir, 0755); err != nil {
		return fmt.Errorf("failed to create inventory directory: %w", err)
	}
	data, err := yaml.Marshal(inv.Document())
	if err != nil {
		return fmt.Errorf("failed to marshal inventory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(invDir, "hosts.yml"), data, 0644); err != nil {
		return fmt.Errorf("failed to write inventory: %w", err)
	}
	return nil
}

// ExecRunner runs playbooks by shelling out to the ansible-runner binary
// inside a temporary private data directory derived from a Context.
type ExecRunner struct {
	ctx    *Context
	store  *storage.FactStore // optional fact cache
	sshKey string             // optional private key staged into each run
	quiet  bool
}

// ExecOption configures an ExecRunner
type ExecOption func(*ExecRunner)

// WithFactStore caches gathered facts in the given store after each run
func WithFactStore(store *storage.FactStore) ExecOption {
	return func(r *ExecRunner) { r.store = store }
}

// WithSSHKey stages the given private key file into every run environment
func WithSSHKey(path string) ExecOption {
	return func(r *ExecRunner) { r.sshKey = path }
}

// WithVerboseOutput passes runner output through instead of discarding it
func WithVerboseOutput() ExecOption {
	return func(r *ExecRunner) { r.quiet = false }
}

// NewExecRunner creates a runner over the given context
func NewExecRunner(ctx *Context, opts ...ExecOption) *ExecRunner {
	r := &ExecRunner{ctx: ctx, quiet: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the named playbook against the inventory and gathers facts
func (r *ExecRunner) Run(ctx context.Context, inv Inventory, playbook string) (*Result, error) {
	logger := log.WithComponent("ansible")
	runID := uuid.New().String()
	start := time.Now()

	runDir, err := os.MkdirTemp("", "ainur-runner-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	defer os.RemoveAll(runDir)

	if err := r.ctx.prepare(runDir, inv, r.sshKey); err != nil {
		return nil, err
	}

	logger.Info().
		Str("playbook", playbook).
		Str("run_id", runID).
		Int("hosts", len(inv)).
		Msg("running playbook")

	cmd := exec.CommandContext(ctx, "ansible-runner", "run", runDir,
		"-p", playbook, "-i", runID)
	if !r.quiet {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	status := StatusOK
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("playbook %s interrupted: %w", playbook, ctx.Err())
		}
		status = StatusFailed
		logger.Warn().
			Str("playbook", playbook).
			Str("run_id", runID).
			Err(err).
			Msg("playbook run failed")
	}

	result := &Result{
		RunID:  runID,
		Status: status,
		Facts:  r.collectFacts(runDir, runID),
	}

	metrics.PlaybookRunsTotal.WithLabelValues(playbook, string(status)).Inc()
	if r.store != nil {
		r.cacheRun(result, inv, playbook, start)
	}
	return result, nil
}

// collectFacts reads the per-host fact cache ansible-runner leaves under
// artifacts/<ident>/fact_cache
func (r *ExecRunner) collectFacts(runDir, runID string) map[string]map[string]any {
	facts := make(map[string]map[string]any)
	cacheDir := filepath.Join(runDir, "artifacts", runID, "fact_cache")

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return facts
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cacheDir, entry.Name()))
		if err != nil {
			continue
		}
		var hostFacts map[string]any
		if err := json.Unmarshal(data, &hostFacts); err != nil {
			continue
		}
		facts[entry.Name()] = hostFacts
	}
	return facts
}

func (r *ExecRunner) cacheRun(result *Result, inv Inventory, playbook string, start time.Time) {
	for hostID, hostFacts := range result.Facts {
		if err := r.store.PutFacts(hostID, hostFacts); err != nil {
			log.Errorf("failed to cache facts", err)
		}
	}
	rec := storage.RunRecord{
		ID:        result.RunID,
		Playbook:  playbook,
		Status:    string(result.Status),
		StartedAt: start,
		Duration:  time.Since(start),
		HostIDs:   inv.HostIDs(),
	}
	if err := r.store.RecordRun(rec); err != nil {
		log.Errorf("failed to record playbook run", err)
	}
}
