// Package ledger persists the names of items already copied to the archive
// folder. The file is append-only: one key per line, never rewritten.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/spf13/afero"
)

// Set is the in-memory view of the ledger
type Set map[string]struct{}

// Has reports whether key was recorded
func (s Set) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Add marks key as recorded
func (s Set) Add(key string) {
	s[key] = struct{}{}
}

// Len returns the number of distinct keys
func (s Set) Len() int {
	return len(s)
}

// Sorted returns the keys in lexical order
func (s Set) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ledger is a line-oriented, append-only file of processed keys.
// It is not safe for concurrent writers.
type Ledger struct {
	fs   afero.Fs
	path string
}

// New returns a ledger stored at path on fs
func New(fs afero.Fs, path string) *Ledger {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Ledger{fs: fs, path: path}
}

// Path returns the ledger file location
func (l *Ledger) Path() string {
	return l.path
}

// ValidKey reports whether key can be stored as a single ledger line
func ValidKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, "\r\n")
}

// Entries returns every recorded line in file order, skipping blank lines.
// A missing file yields no entries.
func (l *Ledger) Entries() ([]string, error) {
	f, err := l.fs.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, ioError("open", l.path, err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, ioError("read", l.path, err)
	}
	return entries, nil
}

// Load reads the ledger into a Set
func (l *Ledger) Load() (Set, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	set := make(Set, len(entries))
	for _, e := range entries {
		set.Add(e)
	}
	return set, nil
}

// Record appends key and syncs the file before returning
func (l *Ledger) Record(key string) error {
	if !ValidKey(key) {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"Ledger keys must be non-empty and single-line").
			WithContext("key", key).
			Build())
	}

	if dir := filepath.Dir(l.path); dir != "" {
		if err := l.fs.MkdirAll(dir, 0755); err != nil {
			return ioError("create directory for", l.path, err)
		}
	}

	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return ioError("open", l.path, err)
	}

	if _, err := f.WriteString(key + "\n"); err != nil {
		_ = f.Close()
		return ioError("append to", l.path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return ioError("sync", l.path, err)
	}
	if err := f.Close(); err != nil {
		return ioError("close", l.path, err)
	}
	return nil
}

func ioError(op, path string, err error) error {
	return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLedgerIO,
		fmt.Sprintf("Failed to %s ledger: %s", op, err)).
		WithContext("path", path).
		Build(), err)
}
