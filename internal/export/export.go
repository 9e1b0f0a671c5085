// Package export pushes patients to a FHIR server as transaction bundles.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/JonMunkholm/fhirmap/internal/codec"
	"github.com/JonMunkholm/fhirmap/internal/fhir"
)

const contentType = "application/fhir+json"

// ErrEmptyBaseURL is returned by New without a server URL.
var ErrEmptyBaseURL = errors.New("export: FHIR server URL is empty")

// Options configures an Exporter.
type Options struct {
	BaseURL     string
	BearerToken string
	BatchSize   int
	RetryMax    int
	Timeout     time.Duration

	// RetryWaitMin and RetryWaitMax bound the backoff between attempts.
	// Zero keeps the client defaults.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Codec  codec.Codec
	Logger *slog.Logger
}

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("export failed: server returned %d: %s", e.Status, e.Body)
}

// Exporter sends patients to one FHIR endpoint.
type Exporter struct {
	base      string
	token     string
	batchSize int
	codec     codec.Codec
	client    *retryablehttp.Client
	logger    *slog.Logger
}

func New(opts Options) (*Exporter, error) {
	if opts.BaseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("export: invalid base URL: %w", err)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Codec == nil {
		opts.Codec = codec.JSONCodec{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.HTTPClient = &http.Client{Timeout: opts.Timeout}
	rc.Logger = logger
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Exporter{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		token:     opts.BearerToken,
		batchSize: opts.BatchSize,
		codec:     opts.Codec,
		client:    rc,
		logger:    logger,
	}, nil
}

type bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Entry        []bundleEntry `json:"entry"`
}

type bundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource"`
	Request  bundleRequest   `json:"request"`
}

type bundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// transaction builds a bundle that PUTs every patient under its own id, so
// re-exporting the same load updates instead of duplicating.
func (e *Exporter) transaction(patients []fhir.Patient) ([]byte, error) {
	b := bundle{ResourceType: "Bundle", Type: "transaction", Entry: make([]bundleEntry, 0, len(patients))}
	for _, p := range patients {
		doc, err := e.codec.Encode(p)
		if err != nil {
			return nil, fmt.Errorf("encode patient %q: %w", p.ID, err)
		}
		ref := "Patient/" + url.PathEscape(p.ID)
		b.Entry = append(b.Entry, bundleEntry{
			FullURL:  e.base + "/" + ref,
			Resource: doc,
			Request:  bundleRequest{Method: http.MethodPut, URL: ref},
		})
	}
	return json.Marshal(b)
}

// Export sends patients in batches and returns how many were accepted.
// It stops at the first failed batch.
func (e *Exporter) Export(ctx context.Context, patients []fhir.Patient) (int, error) {
	sent := 0
	for start := 0; start < len(patients); start += e.batchSize {
		end := min(start+e.batchSize, len(patients))
		if err := e.send(ctx, patients[start:end]); err != nil {
			return sent, err
		}
		sent += end - start
		e.logger.Debug("export batch sent", "sent", sent, "total", len(patients))
	}
	return sent, nil
}

func (e *Exporter) send(ctx context.Context, patients []fhir.Patient) error {
	body, err := e.transaction(patients)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.base, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("export: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
