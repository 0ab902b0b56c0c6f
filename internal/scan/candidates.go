package scan

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// DefaultExtensions are the upload extensions when none are configured
var DefaultExtensions = []string{".pdf"}

// Candidate is one file that may be uploaded
type Candidate struct {
	Name    string
	Path    string
	Size    int64
	ModTime int64
}

// Options configures a scan
type Options struct {
	Matcher    *Matcher
	Extensions []string
}

// Candidates lists the regular files directly under dir that pass the
// matcher and carry one of the extensions (case-insensitive), sorted by
// name. A missing directory yields no candidates.
func Candidates(ctx context.Context, fs afero.Fs, dir string, opts Options) ([]Candidate, error) {
	matcher := opts.Matcher
	if matcher == nil {
		matcher = NewMatcher(nil)
	}
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Candidate
	for _, info := range infos {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !info.Mode().IsRegular() {
			continue
		}
		name := info.Name()
		if matcher.IsExcluded(name) || !hasExtension(name, extensions) {
			continue
		}
		out = append(out, Candidate{
			Name:    name,
			Path:    filepath.Join(dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Paths returns the candidate paths in order
func Paths(candidates []Candidate) []string {
	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.Path
	}
	return paths
}

func hasExtension(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
