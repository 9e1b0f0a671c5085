package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/fhirmap/internal/config"
	"github.com/JonMunkholm/fhirmap/internal/core"
	"github.com/JonMunkholm/fhirmap/internal/fhir"
	"github.com/JonMunkholm/fhirmap/internal/store"
)

const csvHeader = "Id,BIRTHDATE,DEATHDATE,SSN,DRIVERS,PASSPORT,PREFIX,FIRST,LAST,SUFFIX,MAIDEN,MARITAL,RACE,ETHNICITY,GENDER,BIRTHPLACE,ADDRESS,CITY,STATE,COUNTY,ZIP,LAT,LON,HEALTHCARE_EXPENSES,HEALTHCARE_COVERAGE"

func csvRow(id string) string {
	return id + ",1985-07-14,,999-11-2222,S999,X1,Ms.,Jane,Doe,,,S,white,nonhispanic,F,Boston,12 Main St,Springfield,MA,Hampden County,01101,42.1,-72.5,1000.5,200.25"
}

func patientsCSV(rows ...string) string {
	var b strings.Builder
	b.WriteString(csvHeader + "\n")
	for _, r := range rows {
		b.WriteString(r + "\n")
	}
	return b.String()
}

// memStore keeps patients and loads in memory.
type memStore struct {
	mu       sync.Mutex
	patients map[string]fhir.Patient
	loads    []store.Load
}

func newMemStore() *memStore { return &memStore{patients: map[string]fhir.Patient{}} }

func (m *memStore) UpsertPatients(_ context.Context, _ uuid.UUID, ps []fhir.Patient) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		m.patients[p.ID] = p
	}
	return len(ps), nil
}

func (m *memStore) GetPatient(_ context.Context, id string) (fhir.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return fhir.Patient{}, fmt.Errorf("patient %q: %w", id, store.ErrNotFound)
	}
	return p, nil
}

func (m *memStore) RecordLoad(_ context.Context, l store.Load) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.loads {
		if m.loads[i].ID == l.ID {
			m.loads[i] = l
			return nil
		}
	}
	m.loads = append(m.loads, l)
	return nil
}

func (m *memStore) RecentLoads(_ context.Context, limit int) ([]store.Load, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Load
	for i := len(m.loads) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.loads[i])
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Loader:   config.LoaderConfig{MaxFileSize: 1 << 20},
		Security: config.SecurityConfig{EnableCSP: true},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, st core.PatientStore) http.Handler {
	t.Helper()
	opts := core.Options{Limiter: core.NewLoadLimiter(2, time.Second)}
	if st != nil {
		opts.Store = st
	}
	s := NewServer(core.NewService(opts), cfg)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s.Router()
}

func do(h http.Handler, method, target, contentType string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body %q: %v", rec.Body.String(), err)
	}
	return resp.Code
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)
	rec := do(h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Content-Security-Policy") == "" {
		t.Errorf("security headers missing: %v", rec.Header())
	}
}

func TestLoad_RawBody(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)
	rec := do(h, http.MethodPost, "/api/patients/load?source=batch1.csv", "text/csv", patientsCSV(csvRow("p1"), "p2,too,short"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		LoadID   string            `json:"loadId"`
		Source   string            `json:"source"`
		Total    int               `json:"total"`
		Loaded   int               `json:"loaded"`
		Failed   []map[string]any  `json:"failed"`
		Patients []json.RawMessage `json:"patients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.LoadID == "" || resp.Source != "batch1.csv" || resp.Total != 2 || resp.Loaded != 1 || len(resp.Failed) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Failed[0]["line"] != float64(3) {
		t.Errorf("failed row = %v", resp.Failed[0])
	}
	var p map[string]any
	if err := json.Unmarshal(resp.Patients[0], &p); err != nil || p["resourceType"] != "Patient" || p["id"] != "p1" {
		t.Errorf("patient = %s", resp.Patients[0])
	}
}

func TestLoad_Multipart(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("note", "ignored")
	fw, _ := mw.CreateFormFile("file", "upload.csv")
	_, _ = fw.Write([]byte(patientsCSV(csvRow("p1"), csvRow("p2"))))
	_ = mw.Close()

	rec := do(h, http.MethodPost, "/api/patients/load", mw.FormDataContentType(), body.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp core.LoadReport
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Loaded != 2 || resp.Source != "upload.csv" {
		t.Errorf("report = %+v", resp)
	}
}

func TestLoad_Errors(t *testing.T) {
	small := testConfig()
	small.Loader.MaxFileSize = 64

	tests := []struct {
		name       string
		cfg        *config.Config
		target     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"empty body", testConfig(), "/api/patients/load", "", http.StatusBadRequest, "FILE002"},
		{"too large", small, "/api/patients/load", patientsCSV(csvRow("p1")), http.StatusRequestEntityTooLarge, "FILE001"},
		{"bad flag", testConfig(), "/api/patients/load?persist=maybe", patientsCSV(csvRow("p1")), http.StatusBadRequest, "REQ001"},
		{"persist disabled", testConfig(), "/api/patients/load?persist=true", patientsCSV(csvRow("p1")), http.StatusServiceUnavailable, "DB005"},
		{"export disabled", testConfig(), "/api/patients/load?export=1", patientsCSV(csvRow("p1")), http.StatusServiceUnavailable, "EXP002"},
		{"fail fast", testConfig(), "/api/patients/load?fail_fast=true", patientsCSV(csvRow("p1"), "bad,row"), http.StatusUnprocessableEntity, "ROW001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.cfg, nil)
			rec := do(h, http.MethodPost, tt.target, "text/csv", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if got := errorCode(t, rec); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestPersistAndLookup(t *testing.T) {
	st := newMemStore()
	h := newTestServer(t, testConfig(), st)

	rec := do(h, http.MethodPost, "/api/patients/load?persist=true", "text/csv", patientsCSV(csvRow("p1")))
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = do(h, http.MethodGet, "/api/patients/p1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != fhirContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"family":"Doe"`) {
		t.Errorf("body = %s", rec.Body)
	}

	rec = do(h, http.MethodGet, "/api/patients/missing", "", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "PAT001" {
		t.Errorf("missing patient = %d %s", rec.Code, rec.Body)
	}

	rec = do(h, http.MethodGet, "/api/loads", "", "")
	var loads []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &loads); err != nil {
		t.Fatal(err)
	}
	if len(loads) != 1 || loads[0]["persisted"] != float64(1) {
		t.Errorf("loads = %v", loads)
	}
	if _, ok := loads[0]["durationMs"]; !ok {
		t.Errorf("load missing durationMs: %v", loads[0])
	}
}

func TestGetPatient_NoStore(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)
	rec := do(h, http.MethodGet, "/api/patients/p1", "", "")
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "DB005" {
		t.Errorf("response = %d %s", rec.Code, rec.Body)
	}
}

const janeJSON = `{"resourceType":"Patient","id":"p1","name":[{"family":"Doe","given":["Jane"]}],"gender":"female","birthDate":"1985-07-14"}`

func TestDecode(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)

	rec := do(h, http.MethodPost, "/api/patients/decode", "application/fhir+json", janeJSON)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Valid bool   `json:"valid"`
		ID    string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || !resp.Valid || resp.ID != "p1" {
		t.Errorf("response = %s", rec.Body)
	}

	for _, bad := range []string{`{"resourceType":"Observation"}`, `{"resourceType":"Patient","gender":"dragon"}`, `not json`} {
		rec := do(h, http.MethodPost, "/api/patients/decode", "application/fhir+json", bad)
		if rec.Code != http.StatusUnprocessableEntity || errorCode(t, rec) != "DEC001" {
			t.Errorf("decode %s = %d %s", bad, rec.Code, rec.Body)
		}
	}
}

func TestEncode(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)
	rec := do(h, http.MethodPost, "/api/patients/encode", "application/fhir+json", janeJSON)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc["resourceType"] != "Patient" || doc["birthDate"] != "1985-07-14" {
		t.Errorf("encoded = %s", rec.Body)
	}

	rec = do(h, http.MethodPost, "/api/patients/encode", "application/fhir+json", "")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "FILE002" {
		t.Errorf("empty encode = %d %s", rec.Code, rec.Body)
	}
}

func TestRecentLoads_Limit(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)
	for range 3 {
		do(h, http.MethodPost, "/api/patients/load", "text/csv", patientsCSV(csvRow("p1")))
	}

	rec := do(h, http.MethodGet, "/api/loads?limit=2", "", "")
	var loads []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &loads); err != nil {
		t.Fatal(err)
	}
	if len(loads) != 2 {
		t.Errorf("got %d loads, want 2", len(loads))
	}

	rec = do(h, http.MethodGet, "/api/loads?limit=-1", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLoadsPage(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)
	do(h, http.MethodPost, "/api/patients/load?source=nightly.csv", "text/csv", patientsCSV(csvRow("p1")))

	rec := do(h, http.MethodGet, "/", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") || !strings.Contains(rec.Body.String(), "nightly.csv") {
		t.Errorf("page = %s", rec.Body)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	h := newTestServer(t, cfg, nil)

	if rec := do(h, http.MethodGet, "/api/loads", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("without key = %d, want 401", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/loads", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key = %d, want 200", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz should stay public, got %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.stop()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("a") {
		t.Error("third request in window should be limited")
	}
	if !rl.allow("b") {
		t.Error("other clients have their own bucket")
	}
	now = now.Add(61 * time.Second)
	if !rl.allow("a") {
		t.Error("new window should reset the bucket")
	}
}

func TestRateLimitedLoad(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, LoadLimit: 1}
	h := newTestServer(t, cfg, nil)

	do(h, http.MethodPost, "/api/patients/load", "text/csv", patientsCSV(csvRow("p1")))
	rec := do(h, http.MethodPost, "/api/patients/load", "text/csv", patientsCSV(csvRow("p1")))
	if rec.Code != http.StatusTooManyRequests || errorCode(t, rec) != "RATE001" {
		t.Errorf("second load = %d %s", rec.Code, rec.Body)
	}
}
