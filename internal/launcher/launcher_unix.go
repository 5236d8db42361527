//go:build unix

package launcher

import (
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

func applySysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setsid: true}
}

// RunChild is invoked by cmd/jobd's hidden "exec-child" subcommand. It never
// returns on success: the process image is replaced by execve. On any
// failure it exits the process with code 124 (spec.md §4.3 step 10), which
// the supervisor's reaper recognizes as "exec failed in child".
func RunChild() {
	encoded := os.Getenv(childSpecEnv)
	if encoded == "" {
		os.Exit(124)
	}

	spec, err := decodeSpec(encoded)
	if err != nil {
		os.Exit(124)
	}

	if err := setup(spec); err != nil {
		os.Exit(124)
	}

	// setup only returns on error; a successful setup calls unix.Exec and
	// never returns to this function.
	os.Exit(124)
}

// setup performs the child-side setup sequence in the exact order mandated
// by spec.md §4.3, ported from the ordering in
// _examples/original_source/src/jobd/job.cpp (setsid -> signals -> rlimits
// -> chdir -> chroot -> credentials -> umask -> stdio -> env -> execve).
func setup(spec *ChildSpec) error {
	// 1. become a session leader. Launch already starts the child with
	// Setsid, in which case a second setsid(2) would fail with EPERM.
	if sid, _ := unix.Getsid(0); sid != unix.Getpid() {
		if _, err := unix.Setsid(); err != nil {
			return &SyscallError{Kind: "setsid", Err: err}
		}
	}

	// 2. unblock all signals and reset dispositions to default. Go's signal
	// package does not expose sigprocmask directly; a freshly exec'd binary
	// already starts with an empty pending set, so resetting handlers is
	// the meaningful half of this step.
	signal.Reset()

	// 3. apply resource limits (nice value at minimum).
	_ = unix.Setpriority(unix.PRIO_PROCESS, 0, 0)

	// 4. chdir(working_directory).
	if spec.WorkingDirectory != "" {
		if err := unix.Chdir(spec.WorkingDirectory); err != nil {
			return &SyscallError{Kind: "chdir", Err: err}
		}
	}

	euid := unix.Geteuid()

	// 5. chroot, only as root and only when a non-default root was given.
	if euid == 0 && spec.RootDirectory != "" && spec.RootDirectory != "/" {
		if err := unix.Chroot(spec.RootDirectory); err != nil {
			return &SyscallError{Kind: "chroot", Err: err}
		}
		if err := unix.Chdir("/"); err != nil {
			return &SyscallError{Kind: "chdir", Err: err}
		}
	}

	// 6. resolve and drop credentials: gid before uid, init_groups first.
	if euid == 0 && (spec.UserName != "" || spec.GroupName != "") {
		if err := dropCredentials(spec); err != nil {
			return err
		}
	}

	// 7. umask.
	if spec.Umask != "" {
		m, err := strconv.ParseUint(spec.Umask, 8, 32)
		if err != nil {
			return &SyscallError{Kind: "umask", Err: err}
		}
		unix.Umask(int(m))
	}

	// 8. redirect stdio.
	if err := redirectStdio(spec); err != nil {
		return err
	}

	// 9. build the final environment.
	env := buildEnv(spec, euid == 0)

	// 10. execve. exec.LookPath resolves argv[0] against PATH the same way
	// a shell would, matching the original's reliance on execvp semantics.
	if len(spec.Argv) == 0 {
		return &SyscallError{Kind: "execve", Err: os.ErrInvalid}
	}
	path, err := exec.LookPath(spec.Argv[0])
	if err != nil {
		return &SyscallError{Kind: "execve", Err: err}
	}

	if err := unix.Exec(path, spec.Argv, env); err != nil {
		return &SyscallError{Kind: "execve", Err: err}
	}
	return nil
}

func dropCredentials(spec *ChildSpec) error {
	var (
		uid, gid int
		username = spec.UserName
	)

	if username != "" {
		u, err := user.Lookup(username)
		if err != nil {
			return &SyscallError{Kind: "getpwnam", Err: err}
		}
		uid, _ = strconv.Atoi(u.Uid)
		gid, _ = strconv.Atoi(u.Gid)

		if spec.InitGroups {
			groupIDs, err := u.GroupIds()
			if err != nil {
				return &SyscallError{Kind: "initgroups", Err: err}
			}
			gids := make([]int, 0, len(groupIDs))
			for _, g := range groupIDs {
				n, err := strconv.Atoi(g)
				if err != nil {
					continue
				}
				gids = append(gids, n)
			}
			if err := unix.Setgroups(gids); err != nil {
				return &SyscallError{Kind: "initgroups", Err: err}
			}
		}
	}

	if spec.GroupName != "" {
		g, err := user.LookupGroup(spec.GroupName)
		if err != nil {
			return &SyscallError{Kind: "getgrnam", Err: err}
		}
		gid, _ = strconv.Atoi(g.Gid)
	}

	if err := unix.Setgid(gid); err != nil {
		return &SyscallError{Kind: "setgid", Err: err}
	}
	if err := unix.Setuid(uid); err != nil {
		return &SyscallError{Kind: "setuid", Err: err}
	}

	return nil
}

func redirectStdio(spec *ChildSpec) error {
	if spec.StdinPath != "" {
		fd, err := unix.Open(spec.StdinPath, unix.O_RDONLY, 0)
		if err != nil {
			return &SyscallError{Kind: "open(stdin)", Err: err}
		}
		if err := dup2AndClose(fd, unix.Stdin); err != nil {
			return err
		}
	}

	if spec.StdoutPath != "" {
		fd, err := unix.Open(spec.StdoutPath, unix.O_WRONLY|unix.O_CREAT, 0600)
		if err != nil {
			return &SyscallError{Kind: "open(stdout)", Err: err}
		}
		if err := dup2AndClose(fd, unix.Stdout); err != nil {
			return err
		}
	}

	if spec.StderrPath != "" {
		fd, err := unix.Open(spec.StderrPath, unix.O_WRONLY|unix.O_CREAT, 0600)
		if err != nil {
			return &SyscallError{Kind: "open(stderr)", Err: err}
		}
		if err := dup2AndClose(fd, unix.Stderr); err != nil {
			return err
		}
	}

	return nil
}

func dup2AndClose(fd, target int) error {
	if fd == target {
		return nil
	}
	if err := unix.Dup2(fd, target); err != nil {
		return &SyscallError{Kind: "dup2", Err: err}
	}
	return unix.Close(fd)
}

// baseEnvKeys are the minimal per-session variables the original always set
// (spec.md §4.3 step 9); for uid 0 these may be omitted.
var baseEnvKeys = []string{"LOGNAME", "USER", "HOME", "PATH", "SHELL", "TMPDIR", "PWD"}

func buildEnv(spec *ChildSpec, isRoot bool) []string {
	base := map[string]string{
		"PATH": "/usr/bin:/bin:/usr/sbin:/sbin",
	}

	if !isRoot {
		if u, err := user.Current(); err == nil {
			base["LOGNAME"] = u.Username
			base["USER"] = u.Username
			base["HOME"] = u.HomeDir
		}
		base["SHELL"] = "/bin/sh"
		base["TMPDIR"] = os.TempDir()
	}

	if spec.WorkingDirectory != "" {
		base["PWD"] = spec.WorkingDirectory
	}

	env := make([]string, 0, len(base)+len(spec.Env))
	for _, k := range baseEnvKeys {
		if v, ok := base[k]; ok {
			env = append(env, k+"="+v)
		}
	}

	// manifest environment may override any base variable.
	overridden := map[string]bool{}
	for _, kv := range spec.Env {
		overridden[envKey(kv)] = true
	}
	filtered := env[:0:0]
	for _, kv := range env {
		if !overridden[envKey(kv)] {
			filtered = append(filtered, kv)
		}
	}
	filtered = append(filtered, spec.Env...)

	return filtered
}

func envKey(kv string) string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i]
		}
	}
	return kv
}
