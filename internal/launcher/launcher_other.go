//go:build !unix

package launcher

import (
	"os"
	"os/exec"
)

func applySysProcAttr(cmd *exec.Cmd) {}

// RunChild is unsupported on non-POSIX platforms; jobd is a POSIX service
// manager (spec.md §1 scope).
func RunChild() {
	os.Exit(124)
}
