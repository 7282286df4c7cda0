// Package backend talks to the remote intake service: OTP delivery and
// validation, client creation and the client listing.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/client-intake/frontend/internal/models"
	"go.uber.org/zap"
)

// Endpoint paths on the intake service.
const (
	PathSendOTP    = "/send-otp"
	PathValidation = "/validation"
	PathClients    = "/clients"
	PathLinks      = "/links"
)

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 64 << 10

// Attachment is one file streamed in a client creation request.
type Attachment struct {
	Name        string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// Client calls the intake service. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for baseURL. A zero timeout means no per-call
// deadline beyond the caller's context.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("backend"),
	}
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SendOTP asks the service to text a verification code to phone.
func (c *Client) SendOTP(ctx context.Context, phone string) error {
	return c.postJSON(ctx, PathSendOTP, map[string]string{"phone": phone})
}

// ValidateOTP checks code against the one last sent to phone.
func (c *Client) ValidateOTP(ctx context.Context, phone, code string) error {
	return c.postJSON(ctx, PathValidation, map[string]string{"phone": phone, "otp": code})
}

// CreateLink registers a client who shares documents through an external
// storage link.
func (c *Client) CreateLink(ctx context.Context, name, phone, link string) error {
	return c.postJSON(ctx, PathLinks, map[string]string{
		"name":  name,
		"phone": phone,
		"link":  link,
	})
}

// CreateClient registers a client together with their files. The multipart
// body is streamed so attachments are never buffered in memory.
func (c *Client) CreateClient(ctx context.Context, name, phone string, files []Attachment) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeClientForm(mw, name, phone, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathClients, pr)
	if err != nil {
		pr.Close()
		return &RequestError{Endpoint: PathClients, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, PathClients)
	// Unblocks the writer goroutine when the request failed before the body
	// was fully consumed.
	pr.Close()
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp, PathClients)
}

func writeClientForm(mw *multipart.Writer, name, phone string, files []Attachment) error {
	if err := mw.WriteField("name", name); err != nil {
		return err
	}
	if err := mw.WriteField("phone", phone); err != nil {
		return err
	}
	for _, f := range files {
		if err := writeAttachment(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeAttachment(mw *multipart.Writer, f Attachment) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer src.Close()

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("streaming %s: %w", f.Name, err)
	}
	return nil
}

// ListClients fetches the full client collection.
func (c *Client) ListClients(ctx context.Context) ([]models.Client, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathClients, nil)
	if err != nil {
		return nil, &RequestError{Endpoint: PathClients, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, PathClients)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, PathClients); err != nil {
		return nil, err
	}

	var clients []models.Client
	if err := json.NewDecoder(resp.Body).Decode(&clients); err != nil {
		return nil, &RequestError{Endpoint: PathClients, Status: resp.StatusCode, Err: fmt.Errorf("decoding clients: %w", err)}
	}
	return clients, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &RequestError{Endpoint: path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &RequestError{Endpoint: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp, path)
}

func (c *Client) do(req *http.Request, path string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed",
			zap.String("method", req.Method),
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, &RequestError{Endpoint: path, Err: err}
	}
	c.logger.Debug("request complete",
		zap.String("method", req.Method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// checkResponse maps a non-2xx response to a RequestError carrying the
// body's "error" field.
func checkResponse(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(data, &body)

	return &RequestError{
		Endpoint: path,
		Status:   resp.StatusCode,
		Message:  body.Error,
	}
}
