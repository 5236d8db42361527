package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jobd/jobd/internal/eventloop"
	"github.com/jobd/jobd/internal/job"
	"github.com/jobd/jobd/internal/launcher"
	"github.com/jobd/jobd/internal/manifest"
	"github.com/jobd/jobd/internal/manifest/jsonreader"
	"github.com/jobd/jobd/internal/manifest/tomlreader"
	"github.com/jobd/jobd/internal/registry"
	"github.com/jobd/jobd/internal/rpc"
	"github.com/jobd/jobd/internal/store"
	"github.com/jobd/jobd/internal/supervisor"
)

// Daemon is the single owning record spec.md §9 calls for in place of the
// original's process-wide singletons. Every field it holds is mutated
// exclusively by the goroutine running loop.Run (spec.md §5).
type Daemon struct {
	cfg *Config

	reg      *registry.Registry
	sv       *supervisor.Supervisor
	st       *store.Store
	notifier *rpc.Notifier
	dispatch *rpc.Dispatcher
	rpcSrv   *rpc.Server
	watcher  *registry.Watcher
	loop     *eventloop.Loop

	pidfile *os.File

	shutdownDeadline time.Time
	shuttingDown     bool
	killSent         bool
	finished         bool
	exitCode         int
}

// New builds every component and wires it into the event loop, but does not
// start serving; call Run for that. Initialization failures (cannot acquire
// the pidfile, cannot create data directories) are fatal per spec.md §7; the
// socket is bound later, when Run starts the RPC server.
func New(cfg *Config) (*Daemon, error) {
	for _, dir := range []string{cfg.DataDir, cfg.RuntimeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("daemon: create %s: %w", dir, err)
		}
	}

	pidfile, err := acquirePidfile(cfg.PidFile)
	if err != nil {
		return nil, err
	}

	reg := registry.New(map[string]manifest.Reader{
		".json": jsonreader.New(),
		".toml": tomlreader.New(),
	})

	l, err := launcher.New()
	if err != nil {
		releasePidfile(pidfile, cfg.PidFile)
		return nil, fmt.Errorf("daemon: %w", err)
	}
	sv := supervisor.New(l, nil)
	reg.SetStopper(sv)

	st := store.New(cfg.DataDir, cfg.RuntimeDir)
	sv.SetStatusWriter(st)
	notifier := rpc.NewNotifier()
	dispatch := rpc.NewDispatcher(reg, sv, st, notifier)

	rpcSrv, err := rpc.New(&rpc.Config{SocketPath: cfg.SocketPath, ShutdownTimeout: cfg.ShutdownTimeout}, dispatch)
	if err != nil {
		releasePidfile(pidfile, cfg.PidFile)
		return nil, err
	}

	watcher, err := registry.NewWatcher(cfg.SpoolDir)
	if err != nil {
		releasePidfile(pidfile, cfg.PidFile)
		return nil, err
	}

	loop, err := eventloop.New()
	if err != nil {
		watcher.Close()
		releasePidfile(pidfile, cfg.PidFile)
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		reg:      reg,
		sv:       sv,
		st:       st,
		notifier: notifier,
		dispatch: dispatch,
		rpcSrv:   rpcSrv,
		watcher:  watcher,
		loop:     loop,
		pidfile:  pidfile,
	}

	if err := d.wireEventSources(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Daemon) wireEventSources() error {
	if err := d.loop.RegisterRead(d.watcher.ReadFD(), d.handleSpoolChange); err != nil {
		return err
	}
	if err := d.loop.RegisterRead(d.rpcSrv.ReadFD(), d.rpcSrv.Drain); err != nil {
		return err
	}
	if err := d.loop.RegisterSignal(unix.SIGCHLD, d.handleSigchld); err != nil {
		return err
	}
	if err := d.loop.RegisterSignal(unix.SIGHUP, d.handleSighup); err != nil {
		return err
	}
	if err := d.loop.RegisterSignal(unix.SIGTERM, d.handleShutdownSignal); err != nil {
		return err
	}
	if err := d.loop.RegisterSignal(unix.SIGINT, d.handleShutdownSignal); err != nil {
		return err
	}
	d.loop.SetWakeSource(d, d.handleTimeout)
	return nil
}

// Run scans the spool directory, starts every job the boot-time enable
// pass determines runnable (see applyBootProperties), serves the control
// socket on its own goroutine, and then runs the event loop until a
// shutdown signal drives ExitCode to a final value.
func (d *Daemon) Run() (int, error) {
	if err := d.reg.Scan(d.cfg.SpoolDir); err != nil {
		return 1, err
	}
	ordered, _ := d.reg.ResolveOrder()
	d.applyBootProperties(ordered)

	rpcDone := make(chan error, 1)
	go func() { rpcDone <- d.rpcSrv.Serve() }()

	loopDone := make(chan error, 1)
	go func() { loopDone <- d.loop.Run() }()

	select {
	case err := <-rpcDone:
		d.loop.Stop()
		<-loopDone
		if err != nil {
			return 1, err
		}
	case err := <-loopDone:
		d.rpcSrv.Stop()
		<-rpcDone
		if err != nil {
			return 1, err
		}
	}

	releasePidfile(d.pidfile, d.cfg.PidFile)
	return d.exitCode, nil
}

// applyBootProperties restores each Loaded job's persisted Property
// document (or the manifest's `enable` default, for a job never persisted
// before) and, mirroring the RPC `enable` method's documented side effect,
// starts any job that comes out of that restore Loaded, enabled, and
// Runnable. spec.md has no separate "start at load" concept; applying
// enable's own semantics at boot is the only rule that keeps `enable`
// consistent whether it runs at boot or over the control socket (recorded
// as an Open Question decision in DESIGN.md).
func (d *Daemon) applyBootProperties(ordered []*job.Job) {
	for _, j := range ordered {
		enabled := j.Manifest.Enable
		if prop, err := d.st.LoadProperty(j.Label); err != nil {
			slog.Error("failed to load persisted property", "label", j.Label, "err", err)
		} else if prop != nil {
			enabled = prop.Enabled
			j.SetFault(job.ParseFaultState(prop.FaultState), prop.FaultMessage)
		}
		j.SetEnabled(enabled)
		d.sv.ArmInitialSchedule(j)

		// Restore the last observed exit disposition so `list` reflects it
		// across a daemon restart, even though the pid itself is stale (the
		// runtime directory can survive a daemon crash/restart without a
		// reboot, per spec.md §4.7's runtime_dir placement). A job about to
		// be started below immediately overwrites this with its fresh pid.
		if status, err := d.st.LoadStatus(j.Label); err != nil {
			slog.Error("failed to load persisted status", "label", j.Label, "err", err)
		} else if status != nil {
			j.RecordExit(status.LastExitStatus, status.TermSignal)
		}

		if j.State() == job.StateLoaded && j.Runnable() {
			if err := d.sv.Start(j); err != nil {
				slog.Error("failed to start job at boot", "label", j.Label, "err", err)
			}
		}
	}
}

// handleSpoolChange runs on the event loop goroutine whenever the watcher's
// wake pipe fires: it rescans and then drains any further wake bytes the
// rescan's own writes could not have beaten to the pipe.
func (d *Daemon) handleSpoolChange() {
	if err := d.reg.Scan(d.cfg.SpoolDir); err != nil {
		slog.Error("spool scan failed", "err", err)
	}
	d.watcher.Drain()
}

// handleSighup is SIGHUP's handler: an explicit rescan request (spec.md §6),
// identical to the watcher-driven path.
func (d *Daemon) handleSighup(unix.Signal) {
	d.handleSpoolChange()
}

// handleSigchld drains every exited child via waitpid(WNOHANG) in a loop,
// since signalfd coalesces repeated identical signals into one
// notification (spec.md §5's reaper contract).
func (d *Daemon) handleSigchld(unix.Signal) {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		var exitStatus, termSignal int
		signaled := ws.Signaled()
		if ws.Exited() {
			exitStatus = ws.ExitStatus()
		}
		if signaled {
			termSignal = int(ws.Signal())
		}

		label, ok := d.sv.Reap(pid, exitStatus, termSignal, signaled)
		if ok {
			d.notifier.Publish(rpc.Notification{Label: label, State: d.labelState(label)})
			d.finalizeIfPendingRemoval(label)
		}
	}

	d.maybeFinishShutdown()
}

// maybeFinishShutdown finishes the shutdown sequence once every signaled job
// has actually been reaped (spec.md S5: "sends SIGKILL, waits for reap, then
// exits"). Called after every reap, and after killRemaining in case nothing
// was left to wait for.
func (d *Daemon) maybeFinishShutdown() {
	if d.shuttingDown && d.runningCount() == 0 {
		d.finishShutdown()
	}
}

func (d *Daemon) labelState(label string) string {
	if j, ok := d.reg.Lookup(label); ok {
		return j.State().String()
	}
	return "Unloaded"
}

// finalizeIfPendingRemoval completes a deferred Unload once the job it
// targeted has actually stopped running.
func (d *Daemon) finalizeIfPendingRemoval(label string) {
	j, ok := d.reg.Lookup(label)
	if !ok || j.State() == job.StateRunning || j.State() == job.StateStopping {
		return
	}
	d.reg.FinalizeReap(label)
	if _, stillLoaded := d.reg.Lookup(label); stillLoaded {
		return
	}
	if err := d.st.RemoveStatus(label); err != nil {
		slog.Error("failed to remove status document", "label", label, "err", err)
	}
}

// handleShutdownSignal begins the bounded shutdown sequence (spec.md §4.5/
// §6): every Running job is sent SIGTERM, and a deadline is armed through
// the WakeSource path so the event loop escalates to SIGKILL without any
// additional goroutine.
func (d *Daemon) handleShutdownSignal(sig unix.Signal) {
	if d.shuttingDown {
		return
	}
	d.shuttingDown = true
	if sig == unix.SIGINT {
		d.exitCode = 1
	}

	d.sv.BeginShutdown()
	for _, j := range d.reg.List() {
		if j.State() == job.StateRunning {
			if err := d.sv.Stop(j); err != nil {
				slog.Error("failed to signal job during shutdown", "label", j.Label, "err", err)
			}
		}
	}

	d.shutdownDeadline = time.Now().Add(d.cfg.ShutdownTimeout)
	d.maybeFinishShutdown()
}

// runningCount returns how many jobs still have a live, unreaped pid —
// Running, Stopping (SIGTERM sent), or Killed (SIGKILL sent, reap pending).
// Shutdown must not finish until this reaches zero, or the daemon exits
// while a just-SIGKILLed child is still an unreaped zombie (spec.md S5).
func (d *Daemon) runningCount() int {
	n := 0
	for _, j := range d.reg.List() {
		if j.Pid() != 0 {
			n++
		}
	}
	return n
}

// handleTimeout is the event loop's onTimeout callback, driven by NextWake:
// it resolves due KeepAlive restarts and periodic/calendar relaunches, and
// checks whether the shutdown deadline (if armed) has elapsed.
func (d *Daemon) handleTimeout(now time.Time) {
	if d.shuttingDown {
		if !d.killSent && !d.shutdownDeadline.IsZero() && !now.Before(d.shutdownDeadline) {
			d.killRemaining()
			d.killSent = true
			// The killed processes are not yet reaped (spec.md S5: "sends
			// SIGKILL, waits for reap, then exits"); maybeFinishShutdown
			// only proceeds once runningCount confirms none are left.
			d.maybeFinishShutdown()
		}
		return
	}

	d.sv.Tick(now)
	for _, label := range d.sv.DueRestarts(now) {
		j, ok := d.reg.Lookup(label)
		if !ok {
			continue
		}
		if err := d.sv.Start(j); err != nil {
			slog.Error("keepalive restart failed", "label", label, "err", err)
		}
	}
}

func (d *Daemon) killRemaining() {
	for _, j := range d.reg.List() {
		if j.State() == job.StateRunning || j.State() == job.StateStopping {
			if err := d.sv.Kill(j); err != nil {
				slog.Error("failed to kill job at shutdown deadline", "label", j.Label, "err", err)
			}
		}
	}
}

// finishShutdown stops the event loop. It is only ever called once
// runningCount is zero (every signaled job has actually been reaped), and
// guards against being invoked twice (handleShutdownSignal itself, and a
// later handleSigchld reap, can both observe runningCount()==0).
func (d *Daemon) finishShutdown() {
	if d.finished {
		return
	}
	d.finished = true
	d.loop.Stop()
}

// NextWake implements eventloop.WakeSource, folding the shutdown deadline
// (if one is armed) in with the supervisor's own restart/schedule wake so a
// single timer source drives both concerns. Once SIGKILL has been sent
// (killSent), the deadline has done its job: the loop should block
// indefinitely for the reaper's SIGCHLD rather than spin on an
// already-elapsed wake time.
func (d *Daemon) NextWake() (time.Time, bool) {
	at, ok := d.sv.NextWake()
	if d.shuttingDown && !d.killSent && !d.shutdownDeadline.IsZero() {
		if !ok || d.shutdownDeadline.Before(at) {
			at, ok = d.shutdownDeadline, true
		}
	}
	return at, ok
}

// acquirePidfile opens path with O_EXCL, refusing to start a second
// instance, and writes the current pid (spec.md §6).
func acquirePidfile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daemon: pidfile %s: %w (is another instance running?)", path, err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("daemon: write pidfile %s: %w", path, err)
	}
	return f, nil
}

func releasePidfile(f *os.File, path string) {
	f.Close()
	_ = os.Remove(path)
}
