package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle of the supervised poller process.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StartResult tells whether Start launched a process.
type StartResult int

const (
	Started StartResult = iota
	AlreadyRunning
)

func (r StartResult) String() string {
	if r == AlreadyRunning {
		return "already running"
	}
	return "started"
}

// Supervisor owns at most one poller process.
type Supervisor struct {
	command     []string
	env         []string
	stopTimeout time.Duration
	log         *logrus.Logger

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	done  chan struct{}
}

func NewSupervisor(command []string, stopTimeout time.Duration, log *logrus.Logger) *Supervisor {
	return &Supervisor{
		command:     command,
		stopTimeout: stopTimeout,
		log:         log,
	}
}

// SetEnv replaces the environment of processes started afterwards.
func (s *Supervisor) SetEnv(env []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = env
}

// Start launches the poller unless one is already running. A start during
// a stop waits for the old process to exit first.
func (s *Supervisor) Start() (StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state == StateStopping {
		done := s.done
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
	if s.state == StateRunning {
		return AlreadyRunning, nil
	}

	if len(s.command) == 0 {
		return Started, errors.New("no poller command configured")
	}

	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if s.env != nil {
		cmd.Env = s.env
	}
	if err := cmd.Start(); err != nil {
		return Started, fmt.Errorf("start poller: %w", err)
	}

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.state = StateRunning
	s.log.Infof("poller started (pid %d)", cmd.Process.Pid)

	go s.wait(cmd, done)
	return Started, nil
}

// wait reaps the process and returns the supervisor to idle.
func (s *Supervisor) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	s.mu.Lock()
	if s.cmd == cmd {
		s.cmd = nil
		s.done = nil
		s.state = StateIdle
	}
	s.mu.Unlock()
	close(done)

	if err != nil {
		s.log.Warnf("poller (pid %d) exited: %v", cmd.Process.Pid, err)
		return
	}
	s.log.Infof("poller (pid %d) exited", cmd.Process.Pid)
}

// Stop terminates the poller, killing it if it has not exited within the
// stop timeout. Stopping an idle supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	cmd, done := s.cmd, s.done
	s.state = StateStopping
	s.mu.Unlock()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warnf("failed to signal poller: %v", err)
	}

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		s.log.Warnf("poller did not exit within %s, killing", s.stopTimeout)
	case <-ctx.Done():
		s.log.Warn("stop cancelled, killing poller")
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill poller: %w", err)
	}
	<-done
	return nil
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the running process id, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}
