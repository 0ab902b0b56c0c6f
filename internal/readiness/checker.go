// Package readiness decides when locally produced files are finished being
// written and can be uploaded.
package readiness

import (
	"context"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

const (
	DefaultStableChecks = 2
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 60 * time.Second
)

// Options configures a Checker
type Options struct {
	// StableChecks is how many consecutive polls must see the same size and mtime
	StableChecks int
	PollInterval time.Duration
	Timeout      time.Duration
}

// Checker polls files until they stop changing
type Checker struct {
	fs     afero.Fs
	clock  clockwork.Clock
	opts   Options
	logger logging.Logger
}

type snapshot struct {
	size    int64
	modTime time.Time
	streak  int
}

// NewChecker creates a Checker. Zero options take the defaults.
func NewChecker(fs afero.Fs, clock clockwork.Clock, opts Options, logger logging.Logger) *Checker {
	if opts.StableChecks <= 0 {
		opts.StableChecks = DefaultStableChecks
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Checker{fs: fs, clock: clock, opts: opts, logger: logger}
}

// WaitStable blocks until every path has kept the same size and modification
// time for StableChecks polls, or Timeout elapses. It returns the paths that
// settled and those that did not, each in input order. Paths that vanish
// while waiting are dropped from both.
func (c *Checker) WaitStable(ctx context.Context, paths []string) (stable, pending []string, err error) {
	if len(paths) == 0 {
		return nil, nil, nil
	}

	states := make(map[string]*snapshot, len(paths))
	live := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := c.fs.Stat(p)
		if err != nil {
			c.logger.Warn("Upload candidate disappeared before readiness check",
				logging.F("path", p),
				logging.F("error", err.Error()),
			)
			continue
		}
		states[p] = &snapshot{size: info.Size(), modTime: info.ModTime()}
		live = append(live, p)
	}

	deadline := c.clock.Now().Add(c.opts.Timeout)
	polls := 0

	for !c.allStable(live, states) {
		select {
		case <-ctx.Done():
			return nil, nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeCancelled,
				"Readiness wait cancelled").Build(), ctx.Err())
		case <-c.clock.After(c.opts.PollInterval):
		}
		polls++

		kept := live[:0]
		for _, p := range live {
			info, err := c.fs.Stat(p)
			if err != nil {
				c.logger.Warn("Upload candidate disappeared while waiting",
					logging.F("path", p),
				)
				delete(states, p)
				continue
			}
			s := states[p]
			if info.Size() == s.size && info.ModTime().Equal(s.modTime) {
				s.streak++
			} else {
				s.size, s.modTime, s.streak = info.Size(), info.ModTime(), 0
			}
			kept = append(kept, p)
		}
		live = kept

		if !c.clock.Now().Before(deadline) {
			break
		}
	}

	for _, p := range live {
		if states[p].streak >= c.opts.StableChecks {
			stable = append(stable, p)
		} else {
			pending = append(pending, p)
		}
	}

	if len(pending) > 0 {
		c.logger.Warn("Some files were still changing when the readiness wait ended",
			logging.F("pending", pending),
			logging.F("stable", len(stable)),
			logging.F("timeout", c.opts.Timeout.String()),
		)
	} else {
		c.logger.Debug("Upload candidates settled",
			logging.F("files", len(stable)),
			logging.F("polls", polls),
		)
	}
	return stable, pending, nil
}

func (c *Checker) allStable(paths []string, states map[string]*snapshot) bool {
	for _, p := range paths {
		if states[p].streak < c.opts.StableChecks {
			return false
		}
	}
	return true
}
