package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/roach88/flowledger/internal/compiler"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/store"
)

// LoadError represents an error that occurred while loading a scenario file.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadScenario reads a .cue, .yaml, .yml or .json scenario file.
// Errors are *LoadError.
func LoadScenario(path string) (*ir.Scenario, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("scenario file not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing scenario file: %v", err)}
	}
	if info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a file: %s", path)}
	}

	s, err := compiler.LoadFile(path)
	if err != nil {
		return nil, toLoadError(err)
	}
	return s, nil
}

// toLoadError converts a compiler error, keeping its CUE position.
func toLoadError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeLoadFailed,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// loadScenario wraps LoadScenario for commands: load failures exit with
// ExitCommandError.
func loadScenario(path string) (*ir.Scenario, error) {
	s, err := LoadScenario(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	return s, nil
}

// openStore opens an existing database named by --db, or by store.path when
// the flag is empty.
func openStore(opts *RootOptions, path string) (*store.Store, error) {
	if path == "" {
		cfg, err := opts.config()
		if err != nil {
			return nil, err
		}
		path = cfg.Store.Path
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
