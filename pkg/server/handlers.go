package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"

	"github.com/lanshuttle/lanshuttle/internal/models"
	"github.com/lanshuttle/lanshuttle/pkg/telemetry"
	"github.com/lanshuttle/lanshuttle/pkg/vfs"
)

// splitRootPath splits a root-qualified virtual path ("downloads/a/b")
// into the storage root and the path inside it. The root segment is the
// only routing clients get; everything below it is opaque to the router.
func splitRootPath(p string) (vfs.Root, string, error) {
	p = strings.Trim(p, "/")
	rootName, rest, _ := strings.Cut(p, "/")
	switch vfs.Root(rootName) {
	case vfs.RootUploads, vfs.RootDownloads:
		return vfs.Root(rootName), rest, nil
	default:
		return "", "", fmt.Errorf("unknown storage root %q", rootName)
	}
}

// fileErrorStatus maps view errors to HTTP status codes. Path escapes are
// reported exactly like missing files so probing requests learn nothing
// about the real filesystem layout.
func fileErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, vfs.ErrPathEscape), errors.Is(err, vfs.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, vfs.ErrIsDirectory):
		return http.StatusBadRequest, "path is a directory, use /download-folder"
	case errors.Is(err, vfs.ErrNotDirectory):
		return http.StatusBadRequest, "path is not a directory"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// handleIndex serves the embedded phone-side web client.
func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// handleAlive is a simple liveness check
func (s *Server) handleAlive(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// handleListFiles lists the immediate children of a virtual directory.
// The root query selects uploads or downloads; downloads is the default
// because that is what phones browse.
func (s *Server) handleListFiles(c *gin.Context) {
	rootName := c.DefaultQuery("root", string(vfs.RootDownloads))
	root := vfs.Root(rootName)
	if root != vfs.RootUploads && root != vfs.RootDownloads {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown storage root %q", rootName)})
		return
	}

	entries, err := s.view.List(root, c.Query("path"))
	if err != nil {
		status, msg := fileErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.WithError(err).Error("Failed to list directory")
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	// Qualify paths with the root so the client can feed them straight
	// back into the download endpoints.
	for i := range entries {
		entries[i].VirtualPath = string(root) + "/" + entries[i].VirtualPath
	}

	c.JSON(http.StatusOK, entries)
}

// handleStatus reports uptime, open connections and disk usage of the
// volume backing the uploads root.
func (s *Server) handleStatus(c *gin.Context) {
	resp := models.StatusResponse{
		Uptime:      time.Since(s.startTime).Seconds(),
		Connections: s.counter.Count(),
	}

	if dir, err := s.view.RootDir(vfs.RootUploads); err == nil {
		if usage, err := disk.Usage(dir); err != nil {
			s.logger.WithError(err).Warn("Failed to read disk usage")
		} else {
			resp.Disk = models.DiskStats{
				Total:   usage.Total,
				Used:    usage.Used,
				Free:    usage.Free,
				Percent: usage.UsedPercent,
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleUpload receives one or more files as multipart form data and
// stores them under the uploads root. Parts are streamed straight to
// disk; a request is never buffered in memory. A failed part does not
// abort the remaining parts, but exceeding the size limit aborts the
// whole request and leaves no partial file behind.
func (s *Server) handleUpload(c *gin.Context) {
	limit := s.config.Transfer.MaxUploadBytes

	// Reject oversized requests before reading the body when the client
	// declares a length. MaxBytesReader catches liars mid-stream.
	if c.Request.ContentLength > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("request exceeds upload limit of %d bytes", limit),
		})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	reader, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected multipart form data"})
		return
	}

	var summary models.UploadSummary
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isBodyTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"error": fmt.Sprintf("request exceeds upload limit of %d bytes", limit),
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed multipart body"})
			return
		}

		if part.FileName() == "" {
			part.Close()
			continue
		}
		// Client-supplied names are reduced to their base so an upload can
		// never place a file outside the uploads root.
		name := filepath.Base(filepath.FromSlash(part.FileName()))

		span := telemetry.StartTransferSpan(c.Request.Context(), "upload", name)
		written, err := s.view.Write(vfs.RootUploads, name, part)
		telemetry.EndTransferSpan(span, written, err)
		part.Close()
		if err != nil {
			if isBodyTooLarge(err) {
				// The partial file is already gone; tell the client why the
				// stream stopped.
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"error": fmt.Sprintf("request exceeds upload limit of %d bytes", limit),
				})
				return
			}
			s.logger.WithError(err).WithField("name", name).Error("Failed to store upload")
			s.notifyTransfer(LevelError, fmt.Sprintf("Upload failed: %s", name))
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: storage error", name))
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"name": name,
			"size": written,
		}).Info("Stored upload")
		s.notifyTransfer(LevelSuccess, fmt.Sprintf("Uploaded: %s (%d bytes)", name, written))
		summary.Succeeded++
	}

	c.JSON(http.StatusOK, summary)
}

// isBodyTooLarge reports whether err came from MaxBytesReader tripping.
func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// handleDownload streams a single file. The path parameter is a
// root-qualified virtual path.
func (s *Server) handleDownload(c *gin.Context) {
	root, rel, err := splitRootPath(c.Param("path"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	f, entry, err := s.view.OpenForRead(root, rel)
	if err != nil {
		status, msg := fileErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.WithError(err).Error("Failed to open file for download")
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	defer f.Close()

	span := telemetry.StartTransferSpan(c.Request.Context(), "download", entry.VirtualPath)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.Name))
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Length", strconv.FormatInt(entry.Size, 10))
	c.Status(http.StatusOK)

	written, err := io.Copy(c.Writer, f)
	telemetry.EndTransferSpan(span, written, err)
	if err != nil {
		// Almost always the client going away mid-stream; the status code
		// is already on the wire, so this only affects reporting.
		s.logger.WithError(err).WithField("name", entry.Name).Warn("Download aborted")
		return
	}
	s.notifyTransfer(LevelSuccess, fmt.Sprintf("Sent: %s (%d bytes)", entry.Name, written))
}

// handleDownloadFolder streams a directory as a ZIP archive built on the
// fly. The archive is never materialized server-side.
func (s *Server) handleDownloadFolder(c *gin.Context) {
	root, rel, err := splitRootPath(c.Param("path"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	entry, err := s.view.Stat(root, rel)
	if err != nil {
		status, msg := fileErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.WithError(err).Error("Failed to stat folder for download")
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	if !entry.IsDirectory {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is a file, use /download"})
		return
	}

	name := entry.Name
	if rel == "" {
		name = string(root)
	}
	s.streamZip(c, root, []string{rel}, name+".zip")
}

// handleDownloadSelected streams an arbitrary selection of files and
// folders as one ZIP. Paths are root-qualified, comma-separated, and must
// all live under the same root. Every path is validated before the first
// response byte so a bad selection still gets a clean status code.
func (s *Server) handleDownloadSelected(c *gin.Context) {
	raw := c.Query("paths")
	var rels []string
	var root vfs.Root
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r, rel, err := splitRootPath(p)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if len(rels) > 0 && r != root {
			c.JSON(http.StatusBadRequest, gin.H{"error": "selection must stay within one storage root"})
			return
		}
		root = r
		rels = append(rels, rel)
	}
	if len(rels) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty selection"})
		return
	}

	for _, rel := range rels {
		if _, err := s.view.Stat(root, rel); err != nil {
			status, msg := fileErrorStatus(err)
			if status == http.StatusInternalServerError {
				s.logger.WithError(err).Error("Failed to stat selection entry")
			}
			c.JSON(status, gin.H{"error": msg})
			return
		}
	}

	s.streamZip(c, root, rels, "selection.zip")
}

// streamZip writes archive headers and hands the response body to the
// builder. Once streaming starts a failure can only truncate the
// archive, so it is logged rather than reported.
func (s *Server) streamZip(c *gin.Context, root vfs.Root, rels []string, filename string) {
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)

	if err := s.builder.WriteZip(c.Writer, root, rels); err != nil {
		s.logger.WithError(err).Error("Archive stream aborted")
	}
}
