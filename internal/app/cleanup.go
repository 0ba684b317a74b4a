package app

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rail44/culprit/internal/log"
)

// terminationGrace is how long a child gets between SIGTERM and SIGKILL.
const terminationGrace = 2 * time.Second

// child is a spawned process with exit tracking, so liveness checks and
// bounded termination don't race the reaper.
type child struct {
	name   string
	cmd    *exec.Cmd
	exited chan struct{}
}

// startChild starts cmd and reaps it in the background.
func startChild(name string, cmd *exec.Cmd) (*child, error) {
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	c := &child{name: name, cmd: cmd, exited: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(c.exited)
	}()
	return c, nil
}

func (c *child) alive() bool {
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// terminate asks the child to exit, escalating to SIGKILL after the
// grace period.
func (c *child) terminate() {
	if !c.alive() {
		return
	}
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return
	}
	select {
	case <-c.exited:
	case <-time.After(terminationGrace):
		log.Warn("process did not exit in time, killing", "name", c.name)
		c.cmd.Process.Kill()
		<-c.exited
	}
}

// cleanup tears down everything a run spawned or generated. It runs on
// every exit path, success or failure, and is idempotent. The persisted
// result file is never registered here.
type cleanup struct {
	mu       sync.Mutex
	children []*child
	files    []string
	kept     map[string]bool
	done     bool
}

func (cl *cleanup) addChild(c *child) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.children = append(cl.children, c)
}

func (cl *cleanup) addFile(path string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.files = append(cl.files, path)
}

// keep exempts a registered file from removal, for failure paths whose
// remediation points the user at it.
func (cl *cleanup) keep(path string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.kept == nil {
		cl.kept = map[string]bool{}
	}
	cl.kept[path] = true
}

func (cl *cleanup) run() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.done {
		return
	}
	cl.done = true

	// Children go down in reverse spawn order: client before proxy.
	for i := len(cl.children) - 1; i >= 0; i-- {
		cl.children[i].terminate()
	}
	for _, path := range cl.files {
		if cl.kept[path] {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Debug("failed to remove working file", "path", path, "error", err)
		}
	}
}
