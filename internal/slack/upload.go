package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// uploadSession is the short-lived handle issued by step 1 of the upload
// protocol and consumed by steps 2 and 3 within the same call. Sessions are
// never reused across files.
type uploadSession struct {
	uploadURL string
	fileID    string
}

// Uploader deposits byte blobs into a resolved channel through the
// three-step external upload protocol: request an upload URL, transfer the
// raw bytes, then finalize and share.
type Uploader struct {
	client     *Client
	httpClient *http.Client
	logger     *slog.Logger
}

// NewUploader creates an Uploader. The raw byte transfer reuses the API
// client's HTTP client but not its bearer token: the issued upload URL is
// pre-authorized and single-use.
func NewUploader(client *Client, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{client: client, httpClient: client.httpClient, logger: logger}
}

// Upload runs the full three-step protocol. Any step failing short-circuits
// the rest and returns false; each failure is logged with the step that
// broke so partial failures stay diagnosable. There is no retry and no
// cleanup of a half-finished session; callers re-run the whole sequence if
// they want another attempt.
func (u *Uploader) Upload(ctx context.Context, channelID, filename string, data []byte, initialComment string) bool {
	session, ok := u.requestSession(ctx, filename, len(data))
	if !ok {
		return false
	}
	if !u.transferBytes(ctx, session, filename, data) {
		return false
	}
	return u.finalize(ctx, session, channelID, filename, initialComment)
}

// requestSession asks the platform for a one-time upload URL and file id.
func (u *Uploader) requestSession(ctx context.Context, filename string, length int) (*uploadSession, bool) {
	res := u.client.PostForm(ctx, "files.getUploadURLExternal", map[string]string{
		"filename": filename,
		"length":   strconv.Itoa(length),
	})
	if !res.OK {
		u.logger.Error("upload step 1 failed: could not get upload URL",
			"filename", filename,
			"error", res.Error,
			"status", res.HTTPStatus,
		)
		return nil, false
	}

	session := &uploadSession{
		uploadURL: res.Str("upload_url"),
		fileID:    res.Str("file_id"),
	}
	if session.uploadURL == "" || session.fileID == "" {
		u.logger.Error("upload step 1 failed: response missing upload_url or file_id",
			"filename", filename,
		)
		return nil, false
	}
	return session, true
}

// transferBytes POSTs the raw content to the session's upload URL. The URL
// carries its own authorization, so no bearer token is attached.
func (u *Uploader) transferBytes(ctx context.Context, session *uploadSession, filename string, data []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, session.uploadURL, bytes.NewReader(data))
	if err != nil {
		u.logger.Error("upload step 2 failed: could not build transfer request",
			"filename", filename,
			"error", err,
		)
		return false
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		u.logger.Error("upload step 2 failed: byte transfer error",
			"filename", filename,
			"error", err,
		)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u.logger.Error("upload step 2 failed: transfer not accepted",
			"filename", filename,
			"status", resp.StatusCode,
		)
		return false
	}
	return true
}

// finalize completes the upload and shares the file into the channel.
func (u *Uploader) finalize(ctx context.Context, session *uploadSession, channelID, filename, initialComment string) bool {
	files, err := json.Marshal([]map[string]string{
		{"id": session.fileID, "title": filename},
	})
	if err != nil {
		u.logger.Error("upload step 3 failed: could not encode files list",
			"filename", filename,
			"error", err,
		)
		return false
	}

	fields := map[string]string{
		"files":      string(files),
		"channel_id": channelID,
	}
	if initialComment != "" {
		fields["initial_comment"] = initialComment
	}

	res := u.client.PostForm(ctx, "files.completeUploadExternal", fields)
	if !res.OK {
		u.logger.Error("upload step 3 failed: could not finalize upload",
			"filename", filename,
			"file_id", session.fileID,
			"channel", channelID,
			"error", res.Error,
			"status", res.HTTPStatus,
		)
		return false
	}
	return true
}
