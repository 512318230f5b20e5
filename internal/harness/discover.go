package harness

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SuiteDirError is returned when a suite directory doesn't exist.
type SuiteDirError struct {
	Dir string
	Err error
}

// Error implements the error interface.
func (e *SuiteDirError) Error() string {
	return fmt.Sprintf("suite directory %q: %v", e.Dir, e.Err)
}

// Unwrap returns the underlying error.
func (e *SuiteDirError) Unwrap() error {
	return e.Err
}

// Discover returns every .yaml and .yml file under dir, sorted. A path to a
// single file is returned as is.
func Discover(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &SuiteDirError{Dir: dir, Err: err}
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, &SuiteDirError{Dir: dir, Err: err}
	}
	slices.Sort(paths)
	return paths, nil
}

// Report summarizes a batch of suite runs.
type Report struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Results  []*Result      `json:"-"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure records one failed suite.
type SuiteFailure struct {
	Suite  string   `json:"suite"`
	Path   string   `json:"path"`
	Errors []string `json:"errors"`
}

// OK reports whether every suite passed.
func (r *Report) OK() bool {
	return r.Failed == 0
}

func (r *Report) fail(suite, path string, errs ...string) {
	r.Failed++
	r.Failures = append(r.Failures, SuiteFailure{Suite: suite, Path: path, Errors: errs})
}

// RunFiles loads and runs each suite file on h. A suite that fails to load
// or run counts as failed; the batch continues.
func (h *Harness) RunFiles(ctx context.Context, paths []string) *Report {
	report := &Report{}
	for _, path := range paths {
		report.Total++

		suite, err := LoadSuite(path)
		if err != nil {
			report.fail("", path, err.Error())
			continue
		}
		result, err := h.Run(ctx, suite)
		if err != nil {
			report.fail(suite.Name, path, err.Error())
			continue
		}

		report.Results = append(report.Results, result)
		if result.Pass {
			report.Passed++
		} else {
			report.fail(suite.Name, path, result.Errors...)
		}
	}
	return report
}

// RunDir discovers and runs every suite under dir.
func (h *Harness) RunDir(ctx context.Context, dir string) (*Report, error) {
	paths, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	return h.RunFiles(ctx, paths), nil
}
