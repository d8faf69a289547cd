package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// locker maps each lock name to an advisory file lock (flock(2)) in dir.
// The kernel drops the lock when the holder dies, so a crashed run never blocks the next one.
type locker struct {
	dir    string
	logger core.Logger
}

var _ offline.Locker = (*locker)(nil) // interface compliance check

func NewLocker(dir string, logger core.Logger) (*locker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating lock dir")
	}
	return &locker{dir: dir, logger: logger}, nil
}

// Path returns the lock file used for name.
func (l *locker) Path(name string) string {
	return filepath.Join(l.dir, unsafeChars.ReplaceAllString(name, "_")+".lock")
}

func (l *locker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	fl := flock.New(l.Path(name))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, errors.Wrapf(err, "locking %s", fl.Path())
	}
	if !locked {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := fl.Unlock(); err != nil {
				l.logger.Error(fmt.Sprintf("unlocking %s: %v", fl.Path(), err), err)
			}
		})
	}
	return release, true, nil
}
