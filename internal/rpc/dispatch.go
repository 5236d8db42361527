package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobd/jobd/internal/job"
	"github.com/jobd/jobd/internal/registry"
	"github.com/jobd/jobd/internal/store"
	"github.com/jobd/jobd/internal/supervisor"
)

// Supervisor is the subset of internal/supervisor.Supervisor the dispatcher
// needs.
type Supervisor interface {
	Start(j *job.Job) error
	Stop(j *job.Job) error
	RunMethod(j *job.Job, method string) (int, error)
}

// Dispatcher implements every method in spec.md §4.6's table, plus the
// supplemented `runMethod` (SPEC_FULL.md's SUPPLEMENTED FEATURES, item 1).
// It holds no connection state:
// one Dispatcher is shared by every accepted connection, exactly as the
// registry and supervisor are shared by the rest of the daemon.
type Dispatcher struct {
	reg      *registry.Registry
	sv       Supervisor
	st       *store.Store
	notifier *Notifier
}

func NewDispatcher(reg *registry.Registry, sv Supervisor, st *store.Store, notifier *Notifier) *Dispatcher {
	return &Dispatcher{reg: reg, sv: sv, st: st, notifier: notifier}
}

// startErr maps a Supervisor.Start failure to its wire Kind: an exclusive
// launch conflict is a precondition on the job's runnable state, not a
// syscall failure.
func startErr(label string, err error) *Error {
	if errors.Is(err, supervisor.ErrExclusiveConflict) {
		return NewError(KindInvalidState, fmt.Sprintf("job %q: %s", label, err))
	}
	return NewError(KindSyscallFailure, err.Error())
}

// Dispatch routes req to the matching method and returns the Response to
// write back, never panicking on a per-request error (spec.md §4.6
// Propagation policy).
func (d *Dispatcher) Dispatch(req *Request) *Response {
	handler, ok := methodTable[req.Method]
	if !ok {
		return Failure(req.ID, CodeMethodNotFound, "unknown method "+req.Method)
	}

	result, err := handler(d, req.Params)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return Success(req.ID, result)
}

type methodFunc func(d *Dispatcher, params json.RawMessage) (any, error)

var methodTable = map[string]methodFunc{
	"list":      (*Dispatcher).list,
	"load":      (*Dispatcher).load,
	"unload":    (*Dispatcher).unload,
	"enable":    (*Dispatcher).enable,
	"disable":   (*Dispatcher).disable,
	"start":     (*Dispatcher).start,
	"stop":      (*Dispatcher).stop,
	"restart":   (*Dispatcher).restart,
	"clear":     (*Dispatcher).clear,
	"runMethod": (*Dispatcher).runMethod,
}

// listEntry is the per-label value spec.md §4.6's `list` method and S4
// both require: exactly pid, state, enabled, fault_state.
type listEntry struct {
	Pid        int    `json:"pid"`
	State      string `json:"state"`
	Enabled    bool   `json:"enabled"`
	FaultState string `json:"fault_state"`
}

func (d *Dispatcher) list(json.RawMessage) (any, error) {
	out := make(map[string]listEntry, len(d.reg.List()))
	for _, j := range d.reg.List() {
		snap := j.Snapshot()
		out[snap.Label] = listEntry{
			Pid:        snap.Pid,
			State:      snap.State.String(),
			Enabled:    snap.Enabled,
			FaultState: snap.FaultState.String(),
		}
	}
	return out, nil
}

type loadParams struct {
	Path string `json:"path"`
}

func (d *Dispatcher) load(raw json.RawMessage) (any, error) {
	var p loadParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}

	result, err := d.reg.LoadFile(p.Path)
	switch result {
	case registry.LoadDuplicateLabel:
		return nil, NewError(KindDuplicateLabel, err.Error())
	case registry.LoadInvalidManifest:
		return nil, NewError(KindInvalidManifest, err.Error())
	}
	if err != nil {
		return nil, NewError(KindInvalidManifest, err.Error())
	}
	return struct{}{}, nil
}

type labelParams struct {
	Label string `json:"label"`
}

func (d *Dispatcher) unload(raw json.RawMessage) (any, error) {
	var p labelParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}

	result, err := d.reg.Unload(p.Label)
	if result == registry.UnloadNotFound {
		return nil, NewError(KindNotFound, p.Label)
	}
	if err != nil {
		return nil, NewError(KindSyscallFailure, err.Error())
	}
	d.publish(p.Label)
	return struct{}{}, nil
}

func (d *Dispatcher) enable(raw json.RawMessage) (any, error) {
	var p labelParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}

	j, ok := d.reg.Lookup(p.Label)
	if !ok {
		return nil, NewError(KindNotFound, p.Label)
	}
	if j.Enabled() {
		return nil, NewError(KindAlreadyEnabled, p.Label)
	}

	j.SetEnabled(true)
	d.saveProperty(j)

	if j.State() == job.StateLoaded && j.Runnable() {
		if err := d.sv.Start(j); err != nil {
			return nil, startErr(p.Label, err)
		}
	}
	d.publish(p.Label)
	return struct{}{}, nil
}

func (d *Dispatcher) disable(raw json.RawMessage) (any, error) {
	var p labelParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}

	j, ok := d.reg.Lookup(p.Label)
	if !ok {
		return nil, NewError(KindNotFound, p.Label)
	}
	if !j.Enabled() {
		return nil, NewError(KindAlreadyDisabled, p.Label)
	}

	j.SetEnabled(false)
	d.saveProperty(j)

	if j.State() == job.StateRunning {
		if err := d.sv.Stop(j); err != nil {
			return nil, NewError(KindSyscallFailure, err.Error())
		}
	}
	d.publish(p.Label)
	return struct{}{}, nil
}

func (d *Dispatcher) start(raw json.RawMessage) (any, error) {
	var p labelParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}

	j, ok := d.reg.Lookup(p.Label)
	if !ok {
		return nil, NewError(KindNotFound, p.Label)
	}
	if st := j.State(); st != job.StateStopped && st != job.StateLoaded && st != job.StateWaiting && st != job.StateExited {
		return nil, NewError(KindInvalidState, fmt.Sprintf("job %q is %s", p.Label, st))
	}

	if err := d.sv.Start(j); err != nil {
		return nil, startErr(p.Label, err)
	}
	d.publish(p.Label)
	return struct{}{}, nil
}

func (d *Dispatcher) stop(raw json.RawMessage) (any, error) {
	var p labelParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}

	j, ok := d.reg.Lookup(p.Label)
	if !ok {
		return nil, NewError(KindNotFound, p.Label)
	}
	if j.State() != job.StateRunning {
		return nil, NewError(KindInvalidState, fmt.Sprintf("job %q is %s", p.Label, j.State()))
	}

	if err := d.sv.Stop(j); err != nil {
		return nil, NewError(KindSyscallFailure, err.Error())
	}
	d.publish(p.Label)
	return struct{}{}, nil
}

// restart is best-effort (spec.md §4.6: "best-effort stop then start"): a
// Running job is asked to stop, and a non-Running job is started; no error
// is returned for a job already mid-transition, since the reaper will carry
// a KeepAlive job the rest of the way regardless.
func (d *Dispatcher) restart(raw json.RawMessage) (any, error) {
	var p labelParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}

	j, ok := d.reg.Lookup(p.Label)
	if !ok {
		return nil, NewError(KindNotFound, p.Label)
	}

	if j.State() == job.StateRunning {
		_ = d.sv.Stop(j)
	} else if j.State() == job.StateStopped || j.State() == job.StateLoaded || j.State() == job.StateExited {
		_ = d.sv.Start(j)
	}
	d.publish(p.Label)
	return struct{}{}, nil
}

func (d *Dispatcher) clear(raw json.RawMessage) (any, error) {
	var p labelParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}

	j, ok := d.reg.Lookup(p.Label)
	if !ok {
		return nil, NewError(KindNotFound, p.Label)
	}

	j.ClearFault()
	d.saveProperty(j)
	d.publish(p.Label)
	return struct{}{}, nil
}

type runMethodParams struct {
	Label  string `json:"label"`
	Method string `json:"method"`
}

type runMethodResult struct {
	Pid int `json:"pid"`
}

func (d *Dispatcher) runMethod(raw json.RawMessage) (any, error) {
	var p runMethodParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}

	j, ok := d.reg.Lookup(p.Label)
	if !ok {
		return nil, NewError(KindNotFound, p.Label)
	}

	pid, err := d.sv.RunMethod(j, p.Method)
	if err != nil {
		return nil, NewError(KindInvalidManifest, err.Error())
	}
	return runMethodResult{Pid: pid}, nil
}

func (d *Dispatcher) saveProperty(j *job.Job) {
	if d.st == nil {
		return
	}
	if err := d.st.SaveProperty(j); err != nil {
		slog.Error("failed to persist property", "label", j.Label, "err", err)
	}
}

// Subscribe exposes the dispatcher's Notifier to the RPC server's `watch`
// connection mode. A Dispatcher built with a nil notifier (e.g. in tests
// that only exercise request/response methods) reports no subscription
// available rather than panicking.
func (d *Dispatcher) Subscribe() (<-chan Notification, func()) {
	if d.notifier == nil {
		return nil, func() {}
	}
	return d.notifier.Subscribe()
}

func (d *Dispatcher) publish(label string) {
	if d.notifier == nil {
		return
	}
	j, ok := d.reg.Lookup(label)
	state := "Unloaded"
	if ok {
		state = j.State().String()
	}
	d.notifier.Publish(Notification{Label: label, State: state})
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return newWireErr(CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return newWireErr(CodeInvalidParams, "invalid params: "+err.Error())
	}
	return nil
}
