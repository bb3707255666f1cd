package vfs

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lanshuttle/lanshuttle/internal/models"
)

// Root names one of the two storage trees exposed to clients.
type Root string

const (
	RootUploads   Root = "uploads"
	RootDownloads Root = "downloads"

	copyBufferSize = 64 * 1024
)

// View maps virtual paths under the uploads/downloads roots to real
// storage. It is the only component that touches raw filesystem paths.
type View struct {
	fs     afero.Fs
	roots  map[Root]string
	logger *logrus.Logger
}

// New creates a View over the OS filesystem.
func New(uploadsDir, downloadsDir string, logger *logrus.Logger) (*View, error) {
	return NewWithFs(afero.NewOsFs(), uploadsDir, downloadsDir, logger)
}

// NewWithFs creates a View over the given filesystem. Both root
// directories are created if missing.
func NewWithFs(fs afero.Fs, uploadsDir, downloadsDir string, logger *logrus.Logger) (*View, error) {
	v := &View{
		fs: fs,
		roots: map[Root]string{
			RootUploads:   uploadsDir,
			RootDownloads: downloadsDir,
		},
		logger: logger,
	}

	for root, dir := range v.roots {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s root: %w", root, err)
		}
	}

	return v, nil
}

// Fs returns the backing filesystem.
func (v *View) Fs() afero.Fs {
	return v.fs
}

// RootDir returns the real directory backing a root.
func (v *View) RootDir(root Root) (string, error) {
	dir, ok := v.roots[root]
	if !ok {
		return "", fmt.Errorf("unknown root %q", root)
	}
	return dir, nil
}

// Resolve maps a virtual path to a real path inside the given root.
// Any absolute path, `..` segment, or symlink trick that would leave the
// root fails with ErrPathEscape.
func (v *View) Resolve(root Root, virtualPath string) (string, error) {
	rootDir, err := v.RootDir(root)
	if err != nil {
		return "", err
	}

	cleaned := path.Clean("/" + filepath.ToSlash(virtualPath))
	if cleaned == "/" {
		cleaned = ""
	}
	real := filepath.Join(rootDir, filepath.FromSlash(cleaned))

	rel, err := filepath.Rel(rootDir, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		v.logger.Warnf("Rejected path escaping %s root", root)
		return "", ErrPathEscape
	}

	// Lexical containment is not enough on a real filesystem: a symlink
	// inside the root can still point outside it. Canonicalize the deepest
	// existing ancestor and re-check the prefix.
	if _, ok := v.fs.(*afero.OsFs); ok {
		if err := checkSymlinkContainment(rootDir, real); err != nil {
			v.logger.Warnf("Rejected symlinked path escaping %s root", root)
			return "", err
		}
	}

	return real, nil
}

// checkSymlinkContainment walks up from real to its deepest existing
// ancestor, canonicalizes it, and verifies it is still under rootDir.
func checkSymlinkContainment(rootDir, real string) error {
	canonicalRoot, err := filepath.EvalSymlinks(rootDir)
	if err != nil {
		return fmt.Errorf("failed to canonicalize root: %w", err)
	}

	probe := real
	for {
		resolved, err := filepath.EvalSymlinks(probe)
		if err == nil {
			rel, relErr := filepath.Rel(canonicalRoot, resolved)
			if relErr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return ErrPathEscape
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return err
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return nil
		}
		probe = parent
	}
}

// VirtualJoin joins a virtual directory and a child name using forward
// slashes, the separator used on the wire.
func VirtualJoin(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

// List returns the immediate children of a virtual directory, directories
// first and each group sorted lexicographically. The listing reflects the
// filesystem at call time.
func (v *View) List(root Root, virtualDir string) ([]models.FileEntry, error) {
	real, err := v.Resolve(root, virtualDir)
	if err != nil {
		return nil, err
	}

	info, err := v.fs.Stat(real)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	infos, err := afero.ReadDir(v.fs, real)
	if err != nil {
		return nil, err
	}

	entries := make([]models.FileEntry, 0, len(infos))
	for _, fi := range infos {
		entry := models.FileEntry{
			Name:         fi.Name(),
			IsDirectory:  fi.IsDir(),
			ModifiedTime: fi.ModTime(),
			VirtualPath:  VirtualJoin(strings.Trim(path.Clean("/"+virtualDir), "/"), fi.Name()),
		}
		if !fi.IsDir() {
			entry.Size = fi.Size()
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDirectory != entries[j].IsDirectory {
			return entries[i].IsDirectory
		}
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// Write streams data to a virtual path, creating parent directories as
// needed. The copy is chunked so large uploads never reside in memory.
// On any failure the partially written file is removed before the error
// propagates.
func (v *View) Write(root Root, virtualPath string, data io.Reader) (int64, error) {
	real, err := v.Resolve(root, virtualPath)
	if err != nil {
		return 0, err
	}

	if err := v.fs.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create parent directory: %w", err)
	}

	dst, err := v.fs.OpenFile(real, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	buf := make([]byte, copyBufferSize)
	written, err := io.CopyBuffer(dst, data, buf)
	if err != nil {
		dst.Close()
		v.removePartial(root, real)
		return written, fmt.Errorf("write failed after %d bytes: %w", written, err)
	}

	if err := dst.Close(); err != nil {
		v.removePartial(root, real)
		return written, fmt.Errorf("failed to finalize file: %w", err)
	}

	return written, nil
}

func (v *View) removePartial(root Root, real string) {
	if err := v.fs.Remove(real); err != nil {
		v.logger.Warnf("Failed to remove partial file in %s root: %v", root, err)
	}
}

// OpenForRead opens a virtual path for streaming reads and returns its
// entry so callers can set Content-Length.
func (v *View) OpenForRead(root Root, virtualPath string) (afero.File, models.FileEntry, error) {
	real, err := v.Resolve(root, virtualPath)
	if err != nil {
		return nil, models.FileEntry{}, err
	}

	info, err := v.fs.Stat(real)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.FileEntry{}, ErrNotFound
		}
		return nil, models.FileEntry{}, err
	}
	if info.IsDir() {
		return nil, models.FileEntry{}, ErrIsDirectory
	}

	f, err := v.fs.Open(real)
	if err != nil {
		return nil, models.FileEntry{}, err
	}

	entry := models.FileEntry{
		Name:         info.Name(),
		Size:         info.Size(),
		ModifiedTime: info.ModTime(),
		VirtualPath:  strings.Trim(path.Clean("/"+filepath.ToSlash(virtualPath)), "/"),
	}
	return f, entry, nil
}

// Stat returns the entry for a virtual path.
func (v *View) Stat(root Root, virtualPath string) (models.FileEntry, error) {
	real, err := v.Resolve(root, virtualPath)
	if err != nil {
		return models.FileEntry{}, err
	}

	info, err := v.fs.Stat(real)
	if err != nil {
		if os.IsNotExist(err) {
			return models.FileEntry{}, ErrNotFound
		}
		return models.FileEntry{}, err
	}

	entry := models.FileEntry{
		Name:         info.Name(),
		IsDirectory:  info.IsDir(),
		ModifiedTime: info.ModTime(),
		VirtualPath:  strings.Trim(path.Clean("/"+filepath.ToSlash(virtualPath)), "/"),
	}
	if !info.IsDir() {
		entry.Size = info.Size()
	}
	return entry, nil
}

// Remove deletes a virtual path. Used to discard aborted uploads.
func (v *View) Remove(root Root, virtualPath string) error {
	real, err := v.Resolve(root, virtualPath)
	if err != nil {
		return err
	}
	if err := v.fs.Remove(real); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
