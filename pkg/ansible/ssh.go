package ansible

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/expeca/ainur/pkg/log"
)

// SSHRunner executes fixed command sequences over SSH instead of running a
// full playbook. Each playbook identifier maps to a command list; the
// commands run on every inventory host in order. Useful for small probe or
// cleanup actions where spinning up the full runner is overkill.
type SSHRunner struct {
	scripts map[string][]string
	timeout time.Duration
}

// NewSSHRunner creates a runner with a playbook-name to command-list mapping
func NewSSHRunner(scripts map[string][]string) *SSHRunner {
	return &SSHRunner{
		scripts: scripts,
		timeout: 10 * time.Second,
	}
}

// Run executes the command list registered for playbook on every host
func (r *SSHRunner) Run(ctx context.Context, inv Inventory, playbook string) (*Result, error) {
	commands, ok := r.scripts[playbook]
	if !ok {
		return nil, fmt.Errorf("no command sequence registered for playbook %s", playbook)
	}

	logger := log.WithComponent("sshrunner")
	status := StatusOK

	for hostID, vars := range inv {
		if err := r.runHost(ctx, hostID, vars, commands); err != nil {
			logger.Warn().
				Str("host", hostID).
				Str("playbook", playbook).
				Err(err).
				Msg("command sequence failed")
			status = StatusFailed
		}
	}

	return &Result{
		Status: status,
		Facts:  map[string]map[string]any{},
	}, nil
}

func (r *SSHRunner) runHost(ctx context.Context, hostID string, vars HostVars, commands []string) error {
	addr, _ := vars["ansible_host"].(string)
	user, _ := vars["ansible_user"].(string)
	keyFile, _ := vars["ansible_ssh_private_key_file"].(string)
	if addr == "" || user == "" {
		return fmt.Errorf("host %s is missing connection parameters", hostID)
	}

	config := &ssh.ClientConfig{
		User:            user,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.timeout,
	}
	if keyFile != "" {
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return fmt.Errorf("failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	}

	client, err := ssh.Dial("tcp", addr+":22", config)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer client.Close()

	for _, command := range commands {
		if err := runCommand(ctx, client, command); err != nil {
			return fmt.Errorf("command %q: %w", command, err)
		}
	}
	return nil
}

func runCommand(ctx context.Context, client *ssh.Client, command string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stderr = &stderr

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w (stderr: %s)", err, stderr.String())
		}
	}
	return nil
}
