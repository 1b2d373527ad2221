package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/example/skinsight/internal/acquisition"
	"github.com/example/skinsight/internal/logging"
	"github.com/example/skinsight/internal/prediction"
)

const fileField = "file"

// HTTPClient calls the classifier over multipart HTTP. It makes exactly one
// attempt per call and sets no timeout of its own; ctx bounds the call.
type HTTPClient struct {
	endpoint string
	pingURL  string
	http     *http.Client
	logger   *zap.Logger
}

// NewHTTPClient returns a client for endpoint. A nil httpClient uses a plain
// client without a timeout.
func NewHTTPClient(endpoint string, httpClient *http.Client, logger *zap.Logger) (*HTTPClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid classifier endpoint %q", endpoint)
	}
	ping := *u
	ping.Path = "/ping"
	ping.RawQuery = ""

	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		endpoint: u.String(),
		pingURL:  ping.String(),
		http:     httpClient,
		logger:   logger.Named("classifier"),
	}, nil
}

// Classify uploads img and returns the decoded response object.
func (c *HTTPClient) Classify(ctx context.Context, img acquisition.Image) (prediction.RawResponse, error) {
	body, contentType, err := encodeMultipart(img)
	if err != nil {
		return nil, c.fail("classifier.encode", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, c.fail("classifier.new_request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail("classifier.post", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10)) //nolint:errcheck
		return nil, c.fail("classifier.status", fmt.Errorf("server error: %s", resp.Status))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var raw prediction.RawResponse
	if err := dec.Decode(&raw); err != nil {
		return nil, c.fail("classifier.decode", err)
	}
	if raw == nil {
		return nil, c.fail("classifier.decode", fmt.Errorf("response is not an object"))
	}

	if msg := raw.BackendError(); msg != "" {
		c.logger.Warn("classifier reported an error", zap.String("error", msg))
	}
	return raw, nil
}

// Ping queries the remote's readiness probe.
func (c *HTTPClient) Ping(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pingURL, nil)
	if err != nil {
		return nil, logging.NewOperationError("classifier.ping", "", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, logging.NewOperationError("classifier.ping", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, logging.NewOperationError("classifier.ping", "", fmt.Errorf("unexpected status %s", resp.Status))
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, logging.NewOperationError("classifier.ping", "", err)
	}
	return &status, nil
}

// fail logs the real cause and hands back the generic failure.
func (c *HTTPClient) fail(operation string, cause error) error {
	c.logger.Error("classification failed", zap.String("operation", operation), zap.Error(cause))
	return logging.NewOperationError(operation, "", fmt.Errorf("%w: %v", ErrAnalysisFailed, cause))
}

func encodeMultipart(img acquisition.Image) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := img.Filename
	if filename == "" {
		filename = "upload"
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
