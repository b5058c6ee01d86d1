//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

type platformState struct{}

func configureCmdSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func (g *Group) start() error {
	return g.cmd.Start()
}

func (g *Group) killGroup() error {
	if err := syscall.Kill(-g.pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("kill process group %s (pgid %d): %w", g.name, g.pid, ErrProcessGone)
		}
		return fmt.Errorf("kill process group %s (pgid %d): %w", g.name, g.pid, err)
	}
	return nil
}
