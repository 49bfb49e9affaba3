//go:build unix

package launcher

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// AlternateIdentity runs the program as another local account. Output is
// collected through a temporary file that is always removed afterwards.
//
// On unix the password is not checked: switching credentials requires the
// scheduler itself to run with sufficient privilege.
type AlternateIdentity struct {
	Timeout time.Duration
	TempDir string
}

// Launch runs the program as inv.User
func (a AlternateIdentity) Launch(ctx context.Context, inv Invocation) (Result, error) {
	u, err := user.Lookup(inv.User)
	if err != nil {
		return Result{ExitCode: -1}, errors.Wrapf(err, "unknown user %q", inv.User)
	}
	cred, err := credential(u)
	if err != nil {
		return Result{ExitCode: -1}, err
	}

	dir := a.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	outPath := filepath.Join(dir, "local-tasks-"+uuid.NewString()+".log")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return Result{ExitCode: -1}, errors.Wrap(err, "failed to create output file")
	}
	defer os.Remove(outPath)
	defer out.Close()

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = a.Timeout
	}
	code, timedOut, err := run(ctx, timeout, func(ctx context.Context) *exec.Cmd {
		cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
		return cmd
	}, out, out)

	res := Result{ExitCode: code, TimedOut: timedOut, Captured: true}
	if data, readErr := os.ReadFile(outPath); readErr == nil {
		res.Stdout = string(data)
	}
	if err != nil {
		return res, errors.Wrapf(err, "failed to start %s as %s", inv.Path, inv.User)
	}
	return res, nil
}

func credential(u *user.User) (*syscall.Credential, error) {
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid uid %q", u.Uid)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid gid %q", u.Gid)
	}
	cred := &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}

	if int(uid) == os.Getuid() {
		cred.NoSetGroups = true
		return cred, nil
	}
	if ids, err := u.GroupIds(); err == nil {
		for _, id := range ids {
			if g, err := strconv.ParseUint(id, 10, 32); err == nil {
				cred.Groups = append(cred.Groups, uint32(g))
			}
		}
	}
	return cred, nil
}
