// Package securefs restricts meeting artifact storage to a base directory
// using Go 1.24's os.Root for OS-level filesystem sandboxing.
//
// All uploaded recordings, transcripts and generated reports live under a
// per-meeting directory. os.Root enforces the access boundary at the OS
// level, preventing traversal via "../" segments or symlinks.
package securefs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cybeform/cybemeeting/internal/errors"
)

// SecureFS provides filesystem operations restricted to a base directory.
type SecureFS struct {
	baseDir string   // The base directory that all operations are restricted to
	root    *os.Root // The sandboxed filesystem root
}

// New creates a new secure filesystem rooted at baseDir. The directory is
// created if it does not exist.
func New(baseDir string) (*SecureFS, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	// Only owner can write, others can read/execute for serving files
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem sandbox: %w", err)
	}

	return &SecureFS{
		baseDir: absPath,
		root:    root,
	}, nil
}

// BaseDir returns the absolute base directory of the sandbox.
func (sfs *SecureFS) BaseDir() string {
	return sfs.baseDir
}

// Close releases the sandbox root.
func (sfs *SecureFS) Close() error {
	return sfs.root.Close()
}

// MeetingDir returns the relative directory holding a meeting's artifacts.
func MeetingDir(userID, projectID, meetingID string) string {
	return path.Join("users", userID, "projects", projectID, "meetings", meetingID)
}

// ProjectDir returns the relative directory holding a project's meetings.
func ProjectDir(userID, projectID string) string {
	return path.Join("users", userID, "projects", projectID)
}

// validateRelPath rejects absolute paths and traversal segments before they
// reach os.Root. os.Root would refuse them anyway, this gives callers a
// categorized error instead of a generic one.
func validateRelPath(relPath string) error {
	if relPath == "" {
		return errors.Newf("empty path").Category(errors.CategoryValidation).Build()
	}
	if filepath.IsAbs(relPath) {
		return errors.Newf("absolute path not allowed: %s", relPath).Category(errors.CategoryValidation).Build()
	}
	cleaned := path.Clean(filepath.ToSlash(relPath))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return errors.Newf("path escapes storage root: %s", relPath).Category(errors.CategoryValidation).Build()
	}
	return nil
}

// MkdirAll creates a directory and all missing parents inside the sandbox.
func (sfs *SecureFS) MkdirAll(relPath string) error {
	if err := validateRelPath(relPath); err != nil {
		return err
	}
	return sfs.root.MkdirAll(filepath.FromSlash(relPath), 0o750)
}

// Create creates or truncates a file inside the sandbox.
func (sfs *SecureFS) Create(relPath string) (*os.File, error) {
	if err := validateRelPath(relPath); err != nil {
		return nil, err
	}
	return sfs.root.Create(filepath.FromSlash(relPath))
}

// Open opens a file for reading inside the sandbox.
func (sfs *SecureFS) Open(relPath string) (*os.File, error) {
	if err := validateRelPath(relPath); err != nil {
		return nil, err
	}
	return sfs.root.Open(filepath.FromSlash(relPath))
}

// Stat returns file info for a path inside the sandbox.
func (sfs *SecureFS) Stat(relPath string) (fs.FileInfo, error) {
	if err := validateRelPath(relPath); err != nil {
		return nil, err
	}
	return sfs.root.Stat(filepath.FromSlash(relPath))
}

// Exists reports whether a path exists inside the sandbox.
func (sfs *SecureFS) Exists(relPath string) bool {
	_, err := sfs.Stat(relPath)
	return err == nil
}

// Remove removes a file inside the sandbox.
func (sfs *SecureFS) Remove(relPath string) error {
	if err := validateRelPath(relPath); err != nil {
		return err
	}
	return sfs.root.Remove(filepath.FromSlash(relPath))
}

// RemoveAll removes a directory tree inside the sandbox.
func (sfs *SecureFS) RemoveAll(relPath string) error {
	if err := validateRelPath(relPath); err != nil {
		return err
	}
	return sfs.root.RemoveAll(filepath.FromSlash(relPath))
}

// WriteFile writes data to a file inside the sandbox, creating parent
// directories as needed.
func (sfs *SecureFS) WriteFile(relPath string, data []byte) error {
	if err := validateRelPath(relPath); err != nil {
		return err
	}
	if dir := path.Dir(filepath.ToSlash(relPath)); dir != "." {
		if err := sfs.MkdirAll(dir); err != nil {
			return err
		}
	}
	f, err := sfs.Create(relPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// ReadFile reads an entire file inside the sandbox.
func (sfs *SecureFS) ReadFile(relPath string) ([]byte, error) {
	f, err := sfs.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// SaveStream copies a reader into a file inside the sandbox, creating parent
// directories as needed. Returns the number of bytes written.
func (sfs *SecureFS) SaveStream(relPath string, r io.Reader) (int64, error) {
	if err := validateRelPath(relPath); err != nil {
		return 0, err
	}
	if dir := path.Dir(filepath.ToSlash(relPath)); dir != "." {
		if err := sfs.MkdirAll(dir); err != nil {
			return 0, err
		}
	}
	f, err := sfs.Create(relPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := io.Copy(f, r)
	if err != nil {
		return n, err
	}
	return n, f.Sync()
}

// AbsolutePath returns the absolute path of a sandbox-relative path. The
// file is not required to exist. Use for handing paths to external tools
// such as ffmpeg.
func (sfs *SecureFS) AbsolutePath(relPath string) (string, error) {
	if err := validateRelPath(relPath); err != nil {
		return "", err
	}
	return filepath.Join(sfs.baseDir, filepath.FromSlash(relPath)), nil
}
