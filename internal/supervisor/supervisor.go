// Package supervisor starts and stops the application processes hosted
// inside a mounted volume. Processes are detached from the manager (their
// lifetime is not tied to ours) but their output streams are consumed:
// every line on stdout counts as an activity signal.
package supervisor

import (
	"bufio"
	"io"
	"net"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nace/skrinja/internal/container"
	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

const (
	// Stop sequence: poll for process exit roughly this long before
	// escalating to a forced kill.
	stopPollAttempts = 10
	stopPollInterval = 500 * time.Millisecond
	killSettleDelay  = 2 * time.Second
)

// Result is the per-application outcome of a start or stop batch.
type Result struct {
	App     string `json:"app"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Supervisor launches and terminates supervised applications.
type Supervisor struct {
	executor     *system.Executor
	logger       *ui.Logger
	probeTimeout time.Duration
	onActivity   func(name string)
}

// New creates a supervisor. onActivity is invoked (with the container
// name) whenever a supervised process emits output; it may be nil.
func New(executor *system.Executor, logger *ui.Logger, probeTimeout time.Duration, onActivity func(string)) *Supervisor {
	return &Supervisor{
		executor:     executor,
		logger:       logger,
		probeTimeout: probeTimeout,
		onActivity:   onActivity,
	}
}

// StartAll launches every enabled application with a startup command as a
// detached process rooted at mountPoint. One application failing to launch
// does not stop the rest of the batch.
func (s *Supervisor) StartAll(name, mountPoint string, apps []container.ApplicationSpec) []Result {
	results := make([]Result, 0, len(apps))
	for _, app := range apps {
		if !app.Enabled || app.StartupCommand == "" {
			continue
		}
		if err := s.launch(name, mountPoint, app); err != nil {
			s.logger.Warning("start %s: %v", app.Name, err)
			results = append(results, Result{App: app.Name, Message: err.Error()})
			continue
		}
		results = append(results, Result{App: app.Name, Success: true, Message: "started"})
	}
	return results
}

func (s *Supervisor) launch(name, mountPoint string, app container.ApplicationSpec) error {
	cmd := exec.Command("/bin/sh", "-c", app.StartupCommand)
	cmd.Dir = mountPoint
	// New session: the process must survive manager restarts and never
	// receive our terminal signals.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	s.logger.Info("launched %s (pid %d)", app.Name, cmd.Process.Pid)

	var drained sync.WaitGroup
	drained.Add(2)
	go func() {
		defer drained.Done()
		s.consume(name, app.Name, stdout, true)
	}()
	go func() {
		defer drained.Done()
		s.consume(name, app.Name, stderr, false)
	}()
	go func() {
		// Wait closes our ends of the pipes; calling it before both
		// streams hit EOF drops buffered output and the activity
		// signals riding on it.
		drained.Wait()
		// Reap; the exit status of a detached app is diagnostic only
		if err := cmd.Wait(); err != nil {
			s.logger.Debug("%s exited: %v", app.Name, err)
		}
	}()

	return nil
}

// consume drains an output stream. Lines on stdout are activity signals.
func (s *Supervisor) consume(name, appName string, r io.Reader, activity bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if activity && s.onActivity != nil {
			s.onActivity(name)
		}
		s.logger.Debug("%s: %s", appName, scanner.Text())
	}
}

// StopAll invokes each application's shutdown command, waits a bounded
// period for the process to disappear, and force-kills it if it is still
// present. An empty application list is an empty, successful result.
func (s *Supervisor) StopAll(name string, apps []container.ApplicationSpec) []Result {
	results := make([]Result, 0, len(apps))
	for _, app := range apps {
		if app.ShutdownCommand == "" {
			continue
		}
		results = append(results, s.stop(app))
	}
	return results
}

func (s *Supervisor) stop(app container.ApplicationSpec) Result {
	if err := s.executor.Run("/bin/sh", "-c", app.ShutdownCommand); err != nil {
		s.logger.Warning("shutdown command for %s: %v", app.Name, err)
	}

	for i := 0; i < stopPollAttempts; i++ {
		if !s.processRunning(app) {
			return Result{App: app.Name, Success: true, Message: "stopped"}
		}
		time.Sleep(stopPollInterval)
	}

	s.logger.Warning("%s still running after shutdown, forcing termination", app.Name)
	if err := s.executor.Run("pkill", "-9", "-f", processPattern(app)); err != nil {
		s.logger.Debug("pkill %s: %v", app.Name, err)
	}
	time.Sleep(killSettleDelay)

	if s.processRunning(app) {
		return Result{App: app.Name, Message: "process did not terminate"}
	}
	return Result{App: app.Name, Success: true, Message: "stopped (forced)"}
}

// processRunning checks for the application's runtime process signature
func (s *Supervisor) processRunning(app container.ApplicationSpec) bool {
	return s.executor.Run("pgrep", "-f", processPattern(app)) == nil
}

// processPattern is the pgrep -f signature of an application: the startup
// command line, which the shell-launched process keeps in its argv.
// pgrep treats the pattern as an extended regex, so metacharacters in the
// command must match themselves, not act as operators.
func processPattern(app container.ApplicationSpec) string {
	return regexp.QuoteMeta(strings.TrimSpace(app.StartupCommand))
}

// Reachable issues a bounded liveness probe against addr. A completed
// connection counts as reachable; timeout or refusal does not.
func (s *Supervisor) Reachable(addr string) bool {
	if addr == "" {
		return false
	}
	conn, err := net.DialTimeout("tcp", addr, s.probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
