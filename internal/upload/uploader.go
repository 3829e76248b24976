// Package upload sends staged attachments to the REST upload endpoint and
// turns the answer into a wire attachment.
package upload

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/czeful/goalchat/internal/metrics"
	"github.com/czeful/goalchat/internal/rest"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
)

// Client is the REST surface the uploader needs; *rest.Client satisfies it.
type Client interface {
	Upload(ctx context.Context, name, mimeType string, r io.Reader) (rest.Uploaded, error)
}

// Uploader uploads local files.
type Uploader struct {
	client Client
	log    *zap.Logger
}

// New creates an uploader.
func New(c Client, log *zap.Logger) *Uploader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Uploader{client: c, log: log.Named("upload")}
}

// File describes a local file ready to upload.
type File struct {
	Kind     wire.Type
	Path     string
	Name     string
	Size     int64
	MimeType string
}

// Upload sends f and returns the attachment referencing the stored copy.
func (u *Uploader) Upload(ctx context.Context, f File) (wire.Attachment, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return wire.Attachment{}, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() { _ = fh.Close() }()

	start := time.Now()
	up, err := u.client.Upload(ctx, f.Name, f.MimeType, fh)
	metrics.UploadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Uploads.WithLabelValues(string(f.Kind), "error").Inc()
		u.log.Warn("upload failed", zap.String("name", f.Name), zap.Error(err))
		return wire.Attachment{}, fmt.Errorf("upload %s: %w", f.Name, err)
	}
	metrics.Uploads.WithLabelValues(string(f.Kind), "ok").Inc()
	u.log.Info("uploaded",
		zap.String("name", f.Name),
		zap.Int64("bytes", f.Size),
		zap.Duration("took", time.Since(start)),
	)
	name := up.Name
	if name == "" {
		name = f.Name
	}
	return wire.Attachment{URL: up.URL, Name: name, SizeBytes: f.Size, MimeType: f.MimeType}, nil
}

// Inspect stats path and sniffs its content type. Images are classified as
// image; everything else, including audio picked from disk, as file.
func Inspect(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := sniff(path)
	if err != nil {
		return File{}, err
	}
	kind := wire.TypeFile
	if strings.HasPrefix(mt, "image/") {
		kind = wire.TypeImage
	}
	return File{
		Kind:     kind,
		Path:     path,
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: mt,
	}, nil
}

// sniff prefers the content signature and falls back to the extension when
// the content is not recognized.
func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	mt := http.DetectContentType(head[:n])
	if mt == "application/octet-stream" || strings.HasPrefix(mt, "text/plain") {
		if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
			mt = byExt
		}
	}
	if base, _, err := mime.ParseMediaType(mt); err == nil && !strings.HasPrefix(base, "text/") {
		mt = base
	}
	return mt, nil
}
