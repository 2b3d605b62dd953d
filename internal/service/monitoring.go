package service

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/google/uuid"

	"monview/internal/domain"
	"monview/internal/logger"
)

// DefaultInstallTemplate renders the manual installation command
const DefaultInstallTemplate = `curl -sSL https://get.monview.local/agent | sudo sh -s -- --machine {{.Machine.ID}} --token {{.Token}}`

// Agent installs and removes the monitoring agent on a machine
type Agent interface {
	Install(ctx context.Context, machine *domain.Machine, command string) error
	Uninstall(ctx context.Context, machine *domain.Machine) error
}

// MonitoringService enables and disables monitoring
type MonitoringService struct {
	machines *MachineService
	agent    Agent
	tmpl     *template.Template
	log      logger.Logger
	timeout  time.Duration
}

// NewMonitoringService creates a monitoring service. An empty install
// template selects DefaultInstallTemplate.
func NewMonitoringService(machines *MachineService, agent Agent, installTemplate string, log logger.Logger) (*MonitoringService, error) {
	if installTemplate == "" {
		installTemplate = DefaultInstallTemplate
	}
	tmpl, err := template.New("install").Option("missingkey=error").Parse(installTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse install template: %w", err)
	}
	if log == nil {
		log = logger.Noop()
	}
	return &MonitoringService{
		machines: machines,
		agent:    agent,
		tmpl:     tmpl,
		log:      log,
		timeout:  2 * time.Minute,
	}, nil
}

// Command renders the install command for machine
func (s *MonitoringService) Command(machine *domain.Machine) (string, error) {
	var buf bytes.Buffer
	err := s.tmpl.Execute(&buf, struct {
		Machine *domain.Machine
		Token   string
	}{machine, uuid.NewString()})
	if err != nil {
		return "", fmt.Errorf("render install command: %w", err)
	}
	return buf.String(), nil
}

// InstallCommand reports the manual installation command
func (s *MonitoringService) InstallCommand(machine *domain.Machine, done func(ok bool, command string)) {
	go func() {
		cmd, err := s.Command(machine)
		if err != nil {
			s.log.Warn("install command for %s: %v", machine.ID, err)
			done(false, "")
			return
		}
		done(true, cmd)
	}()
}

// Enable turns monitoring on. Without force the agent is installed over SSH
// first; with force the user installed it by hand.
func (s *MonitoringService) Enable(machine *domain.Machine, force bool, done func(ok bool)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if !force {
			if s.agent == nil {
				s.log.Warn("enable %s: no agent installer configured", machine.ID)
				done(false)
				return
			}
			cmd, err := s.Command(machine)
			if err == nil {
				err = s.agent.Install(ctx, machine, cmd)
			}
			if err != nil {
				s.log.Warn("install agent on %s: %v", machine.ID, err)
				done(false)
				return
			}
		}

		if err := s.machines.SetMonitoring(ctx, machine.ID, true); err != nil {
			s.log.Warn("enable monitoring for %s: %v", machine.ID, err)
			done(false)
			return
		}
		s.log.Info("monitoring enabled for %s (force=%t)", machine.ID, force)
		done(true)
	}()
}

// Disable turns monitoring off. Removing the agent is best effort.
func (s *MonitoringService) Disable(machine *domain.Machine, done func(ok bool)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if s.agent != nil && machine.Probed {
			if err := s.agent.Uninstall(ctx, machine); err != nil {
				s.log.Warn("uninstall agent on %s: %v", machine.ID, err)
			}
		}
		if err := s.machines.SetMonitoring(ctx, machine.ID, false); err != nil {
			s.log.Warn("disable monitoring for %s: %v", machine.ID, err)
			done(false)
			return
		}
		s.log.Info("monitoring disabled for %s", machine.ID)
		done(true)
	}()
}
