package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	runLockFileName  = ".run.lock"
	runLockOwnerFile = ".run.owner.json"
)

// RunLock is an advisory flock on an output directory. The kernel drops it
// when the holding process exits, so a crashed run never blocks the next one.
type RunLock struct {
	fl        *flock.Flock
	ownerPath string
}

type runLockOwner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireRunLock takes the lock without blocking. A leftover owner file from
// a dead process is overwritten.
func AcquireRunLock(outputDir, runID string) (RunLock, error) {
	target := strings.TrimSpace(outputDir)
	if target == "" {
		return RunLock{}, fmt.Errorf("output directory is required")
	}
	if err := Mkdir(target); err != nil {
		return RunLock{}, err
	}

	fl := flock.New(filepath.Join(target, runLockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
	}
	ownerPath := filepath.Join(target, runLockOwnerFile)
	if !locked {
		var owner runLockOwner
		if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 {
			return RunLock{}, fmt.Errorf(
				"output directory is locked: %s (pid=%d run_id=%s created_at=%s host=%s)",
				target, owner.PID, owner.RunID, owner.CreatedAt, owner.Hostname,
			)
		}
		return RunLock{}, fmt.Errorf("output directory is locked: %s", target)
	}

	owner := runLockOwner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = fl.Unlock()
		return RunLock{}, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}
	return RunLock{fl: fl, ownerPath: ownerPath}, nil
}

func (l RunLock) Release() error {
	if l.fl == nil {
		return nil
	}
	_ = os.Remove(l.ownerPath)
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release run lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
