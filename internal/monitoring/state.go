package monitoring

import (
	"monview/internal/domain"
	"monview/internal/logger"
	"monview/internal/loop"
)

// State of monitoring for the machine shown in a view
type State string

const (
	StateDisabled            State = "disabled"
	StatePendingCommand      State = "pending_command"
	StatePendingConfirmation State = "pending_confirmation"
	StateEnabled             State = "enabled"
)

// EnableResult tells the caller what RequestEnable did
type EnableResult string

const (
	EnableLoginRequired        EnableResult = "login_required"
	EnablePlanRequired         EnableResult = "plan_required"
	EnableAwaitingCommand      EnableResult = "awaiting_command"
	EnableAwaitingConfirmation EnableResult = "awaiting_confirmation"
	EnableIgnored              EnableResult = "ignored"
)

// StateMachine drives the enable and disable flows of one machine.
// The machine's HasMonitoring flag, fed through Observe, is authoritative:
// a successful Enable only shows up once the flag flips.
type StateMachine struct {
	machine *domain.Machine
	deps    *Deps
	log     logger.Logger

	state          State
	disabling      bool // the pending confirmation is for a disable
	gettingCommand bool
	shown          bool

	onShow func()
	onHide func()
}

// NewStateMachine creates a machine in the Disabled state. onShow and onHide
// run when the observed monitoring flag turns on or off.
func NewStateMachine(machine *domain.Machine, deps *Deps, onShow, onHide func()) *StateMachine {
	deps.applyDefaults()
	return &StateMachine{
		machine: machine,
		deps:    deps,
		log:     deps.Logger,
		state:   StateDisabled,
		onShow:  onShow,
		onHide:  onHide,
	}
}

// State returns the current state
func (sm *StateMachine) State() State { return sm.state }

// GettingCommand reports whether the install command is being fetched
func (sm *StateMachine) GettingCommand() bool { return sm.gettingCommand }

func (sm *StateMachine) loop() *loop.Loop { return sm.deps.Loop }

// RequestEnable starts the enable flow. Preconditions are checked in order
// and the first failing one decides the result.
func (sm *StateMachine) RequestEnable() EnableResult {
	if sm.state != StateDisabled {
		return EnableIgnored
	}

	switch {
	case !sm.deps.Session.Authenticated():
		sm.deps.Session.PromptLogin()
		return EnableLoginRequired

	case !sm.deps.Session.HasPlan():
		sm.deps.Dialogs.Open(missingPlanDialog(sm.deps.AccountURL))
		return EnablePlanRequired

	case !sm.machine.Probed:
		sm.state = StatePendingCommand
		sm.gettingCommand = true
		sm.deps.Monitoring.InstallCommand(sm.machine, func(ok bool, command string) {
			sm.loop().Post(func() { sm.commandFetched(ok, command) })
		})
		return EnableAwaitingCommand

	default:
		sm.state = StatePendingConfirmation
		sm.disabling = false
		sm.deps.Dialogs.Open(enableDialog(deferred(sm.loop(), sm.enableConfirmed)))
		return EnableAwaitingConfirmation
	}
}

func (sm *StateMachine) commandFetched(ok bool, command string) {
	sm.gettingCommand = false
	if sm.state != StatePendingCommand {
		return
	}
	if !ok {
		sm.log.Warn("fetch install command for %s failed", sm.machine.ID)
		sm.deps.Recorder.Action("install_command", false)
		sm.state = StateDisabled
		return
	}
	sm.deps.Dialogs.Open(installCommandDialog(command, deferred(sm.loop(), sm.commandConfirmed)))
}

func (sm *StateMachine) commandConfirmed(confirmed bool) {
	if sm.state != StatePendingCommand {
		return
	}
	if !confirmed {
		sm.state = StateDisabled
		return
	}
	sm.deps.Monitoring.Enable(sm.machine, true, deferred(sm.loop(), sm.enableDone))
}

func (sm *StateMachine) enableConfirmed(confirmed bool) {
	if sm.state != StatePendingConfirmation || sm.disabling {
		return
	}
	if !confirmed {
		sm.state = StateDisabled
		return
	}
	sm.deps.Monitoring.Enable(sm.machine, false, deferred(sm.loop(), sm.enableDone))
}

func (sm *StateMachine) enableDone(ok bool) {
	sm.deps.Recorder.Action("enable", ok)
	if ok {
		sm.log.Info("monitoring enable accepted for %s", sm.machine.ID)
		return
	}
	sm.log.Warn("enable monitoring for %s failed", sm.machine.ID)
	if sm.state == StatePendingCommand || sm.state == StatePendingConfirmation {
		sm.state = StateDisabled
	}
}

// RequestDisable asks for confirmation and then disables monitoring after
// the configured delay. done, if set, receives the outcome of the external
// call; it is not called when the request is ignored or declined.
// It returns false when monitoring is not enabled or a disable is pending.
func (sm *StateMachine) RequestDisable(done func(ok bool)) bool {
	if sm.state != StateEnabled {
		return false
	}
	sm.state = StatePendingConfirmation
	sm.disabling = true
	sm.deps.Dialogs.Open(disableDialog(deferred(sm.loop(), func(confirmed bool) {
		sm.disableConfirmed(confirmed, done)
	})))
	return true
}

func (sm *StateMachine) disableConfirmed(confirmed bool, done func(bool)) {
	if sm.state != StatePendingConfirmation || !sm.disabling {
		return
	}
	if !confirmed {
		sm.state = StateEnabled
		sm.disabling = false
		return
	}
	sm.loop().Later(sm.deps.DisableDelay, func() {
		if sm.state != StatePendingConfirmation || !sm.disabling {
			return
		}
		sm.deps.Monitoring.Disable(sm.machine, deferred(sm.loop(), func(ok bool) {
			sm.disableDone(ok, done)
		}))
	})
}

func (sm *StateMachine) disableDone(ok bool, done func(bool)) {
	sm.deps.Recorder.Action("disable", ok)
	if sm.disabling && sm.state == StatePendingConfirmation {
		sm.disabling = false
		if ok {
			sm.deps.Presentation.Close()
			sm.state = StateDisabled
		} else {
			sm.log.Warn("disable monitoring for %s failed", sm.machine.ID)
			sm.state = StateEnabled
		}
	}
	if done != nil {
		done(ok)
	}
}

// reset returns to Disabled with nothing shown, so the next Observe starts over.
// Answers to dialogs opened before the reset are ignored.
func (sm *StateMachine) reset() {
	sm.state = StateDisabled
	sm.disabling = false
	sm.gettingCommand = false
	sm.shown = false
}

// Observe feeds the machine's HasMonitoring flag. Observing the same value
// twice is a no-op.
func (sm *StateMachine) Observe(hasMonitoring bool) {
	if hasMonitoring {
		// An open disable confirmation stays open.
		if !sm.disabling {
			sm.state = StateEnabled
		}
		if !sm.shown {
			sm.shown = true
			sm.onShow()
		}
		return
	}

	// A pending enable is still the user's to decide.
	if sm.state == StateEnabled || sm.disabling {
		sm.state = StateDisabled
		sm.disabling = false
	}
	if sm.shown {
		sm.shown = false
		sm.onHide()
	}
}
