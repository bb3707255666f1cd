// Package archive streams sets of files and folders into a single ZIP
// without materializing the archive, or any member, in memory.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"time"

	"github.com/lanshuttle/lanshuttle/pkg/vfs"
)

// Entry timestamps are pinned so identical input sets produce identical
// archive structure regardless of when the archive is built.
var fixedModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

const copyBufferSize = 32 * 1024

// Builder streams ZIP archives out of a filesystem view.
type Builder struct {
	view *vfs.View
}

// NewBuilder creates a Builder over the given view.
func NewBuilder(view *vfs.View) *Builder {
	return &Builder{view: view}
}

// WriteZip writes a ZIP of the given virtual paths to w. Files become one
// entry each; directories are added recursively. Entry names are virtual
// paths relative to the root, and entries appear in input order (listing
// order within directories), so the structure is deterministic. If a
// source path disappears mid-build the stream is aborted with the
// underlying error; the client sees a truncated archive.
func (b *Builder) WriteZip(w io.Writer, root vfs.Root, paths []string) error {
	zw := zip.NewWriter(w)
	buf := make([]byte, copyBufferSize)

	for _, p := range paths {
		entry, err := b.view.Stat(root, p)
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}

		if entry.IsDirectory {
			err = b.addDirectory(zw, root, entry.VirtualPath, buf)
		} else {
			err = b.addFile(zw, root, entry.VirtualPath, buf)
		}
		if err != nil {
			zw.Close()
			return err
		}
	}

	return zw.Close()
}

func (b *Builder) addDirectory(zw *zip.Writer, root vfs.Root, virtualDir string, buf []byte) error {
	entries, err := b.view.List(root, virtualDir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", virtualDir, err)
	}

	for _, entry := range entries {
		if entry.IsDirectory {
			if err := b.addDirectory(zw, root, entry.VirtualPath, buf); err != nil {
				return err
			}
			continue
		}
		if err := b.addFile(zw, root, entry.VirtualPath, buf); err != nil {
			return err
		}
	}

	return nil
}

func (b *Builder) addFile(zw *zip.Writer, root vfs.Root, virtualPath string, buf []byte) error {
	f, entry, err := b.view.OpenForRead(root, virtualPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", virtualPath, err)
	}
	defer f.Close()

	hdr := &zip.FileHeader{
		Name:     entry.VirtualPath,
		Method:   zip.Deflate,
		Modified: fixedModTime,
	}
	hdr.SetMode(0o644)

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", virtualPath, err)
	}

	if _, err := io.CopyBuffer(dst, f, buf); err != nil {
		return fmt.Errorf("failed to archive %s: %w", virtualPath, err)
	}

	return nil
}
