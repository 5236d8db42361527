// Package rpcid generates short correlation ids for tying together the
// handful of log lines one jobctl invocation emits (dial, write, read,
// decode). It is unrelated to job identity, which is always the manifest
// label (spec.md invariant 1); repurposed from the teacher's typeid-based
// job id (internal/job/id.go, pkg/job/id.go), which had no equivalent here
// since jobd never generates a synthetic job identifier.
package rpcid

import (
	"log/slog"

	"go.jetify.com/typeid"
)

// New returns a fresh "reqlog_"-prefixed id, or a fixed fallback if the
// generator itself fails (entropy exhaustion), which must never prevent a
// jobctl invocation from proceeding.
func New() string {
	tid, err := typeid.WithPrefix("reqlog")
	if err != nil {
		slog.Warn("rpcid: falling back to static id", "err", err)
		return "reqlog_unavailable"
	}
	return tid.String()
}
