package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// RunLock keeps two runs from working on the same state at once. It is a
// file created with O_EXCL; a lock older than staleAfter is taken over.
type RunLock struct {
	fs         afero.Fs
	path       string
	clock      clockwork.Clock
	staleAfter time.Duration
	held       bool
}

// NewRunLock creates an unheld lock at path. A zero staleAfter never expires.
func NewRunLock(fs afero.Fs, path string, clock clockwork.Clock, staleAfter time.Duration) *RunLock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RunLock{fs: fs, path: path, clock: clock, staleAfter: staleAfter}
}

// Acquire takes the lock or returns a RUN_LOCKED error
func (l *RunLock) Acquire(owner string) error {
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return l.ioError(err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_, werr := fmt.Fprintf(f, "pid=%d run=%s at=%s\n", os.Getpid(), owner, l.clock.Now().UTC().Format(time.RFC3339))
			cerr := f.Close()
			if werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = l.fs.Remove(l.path)
				return l.ioError(werr)
			}
			l.held = true
			return nil
		}

		info, statErr := l.fs.Stat(l.path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			}
			return l.ioError(statErr)
		}

		age := l.clock.Now().Sub(info.ModTime())
		if l.staleAfter <= 0 || age < l.staleAfter || attempt > 0 {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeRunLocked,
				"Another run is in progress").
				WithContext("lockFile", l.path).
				WithContext("lockAge", age.Round(time.Second).String()).
				Build())
		}
		if err := l.fs.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return l.ioError(err)
		}
	}

	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeRunLocked,
		"Could not acquire the run lock").WithContext("lockFile", l.path).Build())
}

// Release removes the lock if this process holds it
func (l *RunLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := l.fs.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *RunLock) ioError(err error) error {
	return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLedgerIO,
		fmt.Sprintf("Cannot write run lock %s", l.path)).
		WithContext("lockFile", l.path).
		Build(), err)
}
