package action

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	logx "dayloop/pkg/logx"
)

// ExitInfo describes a launched process once it has been reaped.
type ExitInfo struct {
	Program  string
	PID      int
	Code     int
	Duration time.Duration
	Err      error
}

// Launcher starts programs without waiting for them.
//
// The process is started synchronously so launch failures (missing binary,
// permission denied) are returned to the caller. A background goroutine
// reaps it and reports the exit through OnExit.
type Launcher struct {
	log logx.Logger

	// Dir and Env are applied to every launched process when set.
	Dir string
	Env []string
	// OnExit, when set, is called from the reaping goroutine.
	OnExit func(ExitInfo)

	wg sync.WaitGroup
}

func NewLauncher(log logx.Logger) *Launcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Launcher{log: log}
}

// Launch starts program with args and returns its PID.
func (l *Launcher) Launch(program string, args []string) (int, error) {
	program = strings.TrimSpace(program)
	if program == "" {
		return 0, errors.New("empty program")
	}
	cmd := exec.Command(program, args...)
	if l.Dir != "" {
		cmd.Dir = l.Dir
	}
	if len(l.Env) > 0 {
		cmd.Env = l.Env
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch %s: %w", program, err)
	}

	pid := cmd.Process.Pid
	started := time.Now()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := cmd.Wait()
		info := ExitInfo{Program: program, PID: pid, Duration: time.Since(started), Err: err}
		if cmd.ProcessState != nil {
			info.Code = cmd.ProcessState.ExitCode()
		}
		if err != nil {
			l.log.Debug("process exited", logx.String("program", program), logx.Int("pid", pid), logx.Int("code", info.Code), logx.Err(err))
		} else {
			l.log.Debug("process exited", logx.String("program", program), logx.Int("pid", pid))
		}
		if l.OnExit != nil {
			l.OnExit(info)
		}
	}()
	return pid, nil
}

// LaunchLine splits params with SplitArgs and launches program.
func (l *Launcher) LaunchLine(program, params string) (int, error) {
	args, err := SplitArgs(params)
	if err != nil {
		return 0, fmt.Errorf("parameters for %s: %w", program, err)
	}
	return l.Launch(program, args)
}

// Wait blocks until every launched process has been reaped.
func (l *Launcher) Wait() { l.wg.Wait() }
