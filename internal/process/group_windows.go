//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"

	winjob "github.com/kolesnikovae/go-winjob"
)

type platformState struct {
	job *winjob.JobObject
}

func configureCmdSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

func (g *Group) start() error {
	// Breakaway stays disallowed so descendants cannot leave the job.
	job, err := winjob.Create("sidecar-"+g.name+"-"+strconv.Itoa(syscall.Getpid()),
		winjob.WithKillOnJobClose(),
	)
	if err != nil {
		return fmt.Errorf("create job object: %w", err)
	}
	if err := winjob.StartInJobObject(g.cmd, job); err != nil {
		_ = job.Close()
		return fmt.Errorf("start in job: %w", err)
	}
	g.platform.job = job
	return nil
}

// killGroup closes the job handle; kill-on-close terminates every process
// assigned to the job.
func (g *Group) killGroup() error {
	job := g.platform.job
	if job == nil {
		return fmt.Errorf("kill job %s: %w", g.name, ErrProcessGone)
	}
	if err := job.Close(); err != nil {
		return fmt.Errorf("close job object %s: %w", g.name, err)
	}
	return nil
}
