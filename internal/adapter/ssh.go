package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"monview/internal/domain"
	"monview/internal/logger"
)

// Default remote commands of the monitoring agent
const (
	DefaultUninstallCommand = "sudo monview-agent uninstall"
	DefaultPluginCommand    = "sudo monview-agent plugin disable"
)

// SSHConfig configures SSHAgent
type SSHConfig struct {
	User             string
	KeyPath          string
	Passphrase       string
	Password         string
	KnownHostsPath   string // empty disables host key checking
	Timeout          time.Duration
	CommandTimeout   time.Duration
	UninstallCommand string
	PluginCommand    string
}

// SSHAgent runs monitoring agent commands on machines over SSH
type SSHAgent struct {
	cfg    SSHConfig
	auth   []ssh.AuthMethod
	hostCB ssh.HostKeyCallback
	log    logger.Logger
}

// NewSSHAgent loads credentials and host keys once
func NewSSHAgent(cfg SSHConfig, log logger.Logger) (*SSHAgent, error) {
	if log == nil {
		log = logger.Noop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Minute
	}
	if cfg.UninstallCommand == "" {
		cfg.UninstallCommand = DefaultUninstallCommand
	}
	if cfg.PluginCommand == "" {
		cfg.PluginCommand = DefaultPluginCommand
	}

	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	hostCB := ssh.InsecureIgnoreHostKey() //nolint:gosec // no known_hosts configured
	if cfg.KnownHostsPath != "" {
		hostCB, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &SSHAgent{cfg: cfg, auth: auth, hostCB: hostCB, log: log}, nil
}

// authMethods builds auth from key file, password and the local ssh-agent
func authMethods(cfg SSHConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := parseSigner(key, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}

	if socket := os.Getenv("SSH_AUTH_SOCK"); socket != "" {
		if conn, err := net.Dial("unix", socket); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(methods) == 0 {
		return nil, errors.New("no SSH credentials: set a key, a password or SSH_AUTH_SOCK")
	}
	return methods, nil
}

func parseSigner(key []byte, passphrase string) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

func (a *SSHAgent) clientConfig(machine *domain.Machine) *ssh.ClientConfig {
	user := machine.User
	if user == "" {
		user = a.cfg.User
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            a.auth,
		HostKeyCallback: a.hostCB,
		Timeout:         a.cfg.Timeout,
	}
}

// Install runs the install command on machine
func (a *SSHAgent) Install(ctx context.Context, machine *domain.Machine, command string) error {
	_, err := a.run(ctx, machine, command)
	return err
}

// Uninstall removes the agent from machine
func (a *SSHAgent) Uninstall(ctx context.Context, machine *domain.Machine) error {
	_, err := a.run(ctx, machine, a.cfg.UninstallCommand)
	return err
}

// DisablePlugin turns off one plugin of the agent on machine
func (a *SSHAgent) DisablePlugin(ctx context.Context, machine *domain.Machine, plugin string) error {
	_, err := a.run(ctx, machine, a.cfg.PluginCommand+" "+shellQuote(plugin))
	return err
}

func (a *SSHAgent) run(ctx context.Context, machine *domain.Machine, cmd string) (string, error) {
	if machine.Host == "" {
		return "", fmt.Errorf("machine %s has no host", machine.ID)
	}
	client, err := a.connect(ctx, machine)
	if err != nil {
		return "", err
	}
	defer client.Close()

	a.log.Debug("ssh %s: %s", machine.ID, cmd)
	out, err := a.runCommand(ctx, client, cmd)
	if err != nil {
		return out, fmt.Errorf("%s on %s: %w", cmd, machine.ID, err)
	}
	return out, nil
}

// connect establishes an SSH connection honouring ctx while dialing
func (a *SSHAgent) connect(ctx context.Context, machine *domain.Machine) (*ssh.Client, error) {
	port := machine.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(machine.Host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: a.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, a.clientConfig(machine))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// runCommand executes cmd and returns its combined output. A non-zero exit
// status is an error.
func (a *SSHAgent) runCommand(ctx context.Context, client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	timer := time.NewTimer(a.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		out := strings.TrimSpace(string(r.out))
		var exitErr *ssh.ExitError
		if errors.As(r.err, &exitErr) {
			return out, fmt.Errorf("exit status %d: %s", exitErr.ExitStatus(), out)
		}
		if r.err != nil {
			return out, fmt.Errorf("command failed: %w", r.err)
		}
		return out, nil
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case <-timer.C:
		session.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("command timeout")
	}
}

// shellQuote wraps s in single quotes for a POSIX shell
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
