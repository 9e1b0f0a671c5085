package web

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/fhirmap/internal/core"
	"github.com/JonMunkholm/fhirmap/internal/store"
	"github.com/JonMunkholm/fhirmap/internal/web/templates"
)

const (
	defaultLoadsLimit = 20
	maxLoadsLimit     = 100

	// maxResourceSize caps encode and decode bodies.
	maxResourceSize = 1 << 20
)

// limitedBody records when http.MaxBytesReader cuts the body short, since
// the loader reports read failures as a warning rather than an error.
type limitedBody struct {
	r      io.Reader
	tooBig error
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		b.tooBig = err
	}
	return n, err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"persistence": s.service.PersistenceEnabled(),
		"export":      s.service.ExportEnabled(),
		"loads":       s.service.LimiterStatus(),
	}
	if err := s.service.Ping(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["error"] = core.MapError(err).Code
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type loadResponse struct {
	*core.LoadReport
	Patients []json.RawMessage `json:"patients"`
}

// handleLoad accepts a patients CSV as the raw body or as the "file" part of
// a multipart form. Query flags fail_fast, persist and export are booleans.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Loader.MaxFileSize
	if maxSize > 0 && r.ContentLength > maxSize {
		s.respondError(w, r, fmt.Errorf("%w: %d bytes", core.ErrTooLarge, r.ContentLength))
		return
	}

	q := r.URL.Query()
	req := core.LoadRequest{Source: q.Get("source"), Size: r.ContentLength}
	for name, dst := range map[string]*bool{"fail_fast": &req.FailFast, "persist": &req.Persist, "export": &req.Export} {
		v, err := queryBool(q, name)
		if err != nil {
			s.respondError(w, r, badRequest(err, "Invalid query parameter "+name, "Use true or false"))
			return
		}
		*dst = v
	}

	var body io.Reader = r.Body
	if maxSize > 0 {
		body = http.MaxBytesReader(w, r.Body, maxSize)
	}
	lb := &limitedBody{r: body}

	src, filename, err := loadSource(r, lb)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Source == "" {
		req.Source = filename
	}
	if req.Source == "" {
		req.Source = "upload"
	}

	br := bufio.NewReader(src)
	if _, err := br.Peek(1); err != nil {
		if lb.tooBig != nil {
			err = fmt.Errorf("%w: %v", core.ErrTooLarge, lb.tooBig)
		} else if errors.Is(err, io.EOF) {
			err = core.ErrEmptyBody
		}
		s.respondError(w, r, err)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	report, err := s.service.Load(ctx, br, req)
	if lb.tooBig != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrTooLarge, lb.tooBig))
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := loadResponse{LoadReport: report, Patients: make([]json.RawMessage, 0, len(report.Patients))}
	for _, p := range report.Patients {
		doc, err := s.service.Codec().Encode(p)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		resp.Patients = append(resp.Patients, doc)
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadSource returns the CSV stream and, for multipart uploads, its file name.
func loadSource(r *http.Request, body io.Reader) (io.Reader, string, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return body, "", nil
	}
	if params["boundary"] == "" {
		return nil, "", badRequest(errors.New("missing boundary"), "Invalid multipart body", "Check the upload form and try again")
	}
	mr := multipart.NewReader(body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", badRequest(err, "No file provided", `Send the CSV in a form field named "file"`)
		}
		if err != nil {
			return nil, "", badRequest(err, "Invalid multipart body", "Check the upload form and try again")
		}
		if part.FormName() == "file" {
			return part, part.FileName(), nil
		}
	}
}

func queryBool(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", name, err)
	}
	return b, nil
}

func readResource(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxResourceSize))
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		return nil, fmt.Errorf("%w: %v", core.ErrTooLarge, err)
	case err != nil:
		return nil, err
	case len(b) == 0:
		return nil, core.ErrEmptyBody
	}
	return b, nil
}

// handleEncode decodes a Patient and writes it back through the configured
// codec.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	b, err := readResource(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	p, err := s.service.Decode(b)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	doc, err := s.service.Codec().Encode(p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", fhirContentType)
	_, _ = w.Write(doc)
}

type decodeResponse struct {
	Valid   bool   `json:"valid"`
	ID      string `json:"id"`
	Patient any    `json:"patient"`
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	b, err := readResource(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	p, err := s.service.Decode(b)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decodeResponse{Valid: true, ID: p.ID, Patient: p})
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.GetPatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	doc, err := s.service.Codec().Encode(p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", fhirContentType)
	_, _ = w.Write(doc)
}

type loadDTO struct {
	store.Load
	DurationMs int64 `json:"durationMs"`
}

func (s *Server) handleRecentLoads(w http.ResponseWriter, r *http.Request) {
	limit := defaultLoadsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, r, badRequest(fmt.Errorf("limit %q", v), "Invalid limit", "Use a positive number"))
			return
		}
		limit = min(n, maxLoadsLimit)
	}

	loads, err := s.service.RecentLoads(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]loadDTO, len(loads))
	for i, l := range loads {
		out[i] = loadDTO{Load: l, DurationMs: l.Duration.Milliseconds()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLoadsPage(w http.ResponseWriter, r *http.Request) {
	loads, err := s.service.RecentLoads(r.Context(), defaultLoadsLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rows := make([]templates.LoadRow, len(loads))
	for i, l := range loads {
		rows[i] = templates.LoadRow{
			ID:        l.ID.String(),
			Source:    l.Source,
			Total:     l.Total,
			Loaded:    l.Loaded,
			Failed:    l.Failed,
			Persisted: l.Persisted,
			Exported:  l.Exported,
			Warning:   l.Warning,
			StartedAt: l.StartedAt,
			Duration:  l.Duration,
		}
	}
	lim := s.service.LimiterStatus()
	status := templates.Status{
		Persistence: s.service.PersistenceEnabled(),
		Export:      s.service.ExportEnabled(),
		Codec:       s.service.Codec().Name(),
		ActiveLoads: lim.Active,
		MaxLoads:    lim.MaxConcurrent,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.LoadsPage(status, rows).Render(r.Context(), w); err != nil {
		s.respondError(w, r, err)
	}
}
