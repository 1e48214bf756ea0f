package client

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/turna/console/internal/models"
)

// UploadOptions carries the optional form fields of an upload.
type UploadOptions struct {
	HospitalID string
}

// UploadFile streams r to the upload endpoint as multipart field "file".
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader, opts UploadOptions) (*models.FileRecord, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Field: "filename", Message: "is required"}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, name, r, opts))
	}()

	var rec models.FileRecord
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/file/upload",
		body:        pr,
		contentType: mw.FormDataContentType(),
	}, &rec)
	pr.Close()
	if err != nil {
		return nil, err
	}
	if rec.Filename == "" {
		rec.Filename = name
	}
	return &rec, nil
}

func writeUploadForm(mw *multipart.Writer, name string, r io.Reader, opts UploadOptions) error {
	if opts.HospitalID != "" {
		if err := mw.WriteField("hospital_id", opts.HospitalID); err != nil {
			return err
		}
	}

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return mw.Close()
}

// ListFiles returns one page of the file list. The query carries start_at,
// end_at, limit, offset and hospital_id.
func (c *Client) ListFiles(ctx context.Context, query url.Values) (*models.Page[models.FileRecord], error) {
	return getPage[models.FileRecord](ctx, c, "/api/file/list", query)
}

// DeleteFile deletes one file.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	if id == "" {
		return &ValidationError{Field: "file id", Message: "is required"}
	}
	return c.do(ctx, request{method: http.MethodDelete, path: "/api/file/" + url.PathEscape(id)}, nil)
}
