package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JonMunkholm/fhirmap/internal/fhir"
)

func patients(ids ...string) []fhir.Patient {
	out := make([]fhir.Patient, len(ids))
	for i, id := range ids {
		out[i] = fhir.Patient{ID: id, Gender: fhir.GenderUnknown}
	}
	return out
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExport_SendsTransactionBundles(t *testing.T) {
	var (
		mu      sync.Mutex
		bundles []bundle
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != contentType {
			t.Errorf("Content-Type = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("Authorization = %q", got)
		}
		var b bundle
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			t.Errorf("decode bundle: %v", err)
		}
		mu.Lock()
		bundles = append(bundles, b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"resourceType":"Bundle","type":"transaction-response"}`))
	}))
	defer srv.Close()

	e, err := New(Options{BaseURL: srv.URL + "/fhir/", BatchSize: 2, BearerToken: "s3cret", Logger: quiet()})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}

	sent, err := e.Export(context.Background(), patients("a", "b", "c"))
	if err != nil {
		t.Fatalf("Export error = %v", err)
	}
	if sent != 3 {
		t.Errorf("sent = %d, want 3", sent)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(bundles) != 2 {
		t.Fatalf("got %d bundles, want 2", len(bundles))
	}
	if len(bundles[0].Entry) != 2 || len(bundles[1].Entry) != 1 {
		t.Errorf("entries per bundle = %d, %d", len(bundles[0].Entry), len(bundles[1].Entry))
	}

	entry := bundles[0].Entry[0]
	if bundles[0].Type != "transaction" || entry.Request.Method != http.MethodPut || entry.Request.URL != "Patient/a" {
		t.Errorf("bundle = %+v", bundles[0])
	}
	if entry.FullURL != srv.URL+"/fhir/Patient/a" {
		t.Errorf("fullUrl = %q", entry.FullURL)
	}
	var res map[string]any
	if err := json.Unmarshal(entry.Resource, &res); err != nil || res["resourceType"] != "Patient" {
		t.Errorf("resource = %s (%v)", entry.Resource, err)
	}
}

func TestExport_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := New(Options{BaseURL: srv.URL, RetryMax: 3, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond, Logger: quiet()})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if _, err := e.Export(context.Background(), patients("a")); err != nil {
		t.Fatalf("Export error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestExport_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"resourceType":"OperationOutcome"}`))
	}))
	defer srv.Close()

	e, err := New(Options{BaseURL: srv.URL, RetryMax: 3, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond, Logger: quiet()})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}

	sent, err := e.Export(context.Background(), patients("a", "b"))
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Export error = %v, want *StatusError", err)
	}
	if se.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", se.Status)
	}
	if sent != 0 {
		t.Errorf("sent = %d, want 0", sent)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestExport_MissingID(t *testing.T) {
	e, err := New(Options{BaseURL: "http://127.0.0.1:1", Logger: quiet()})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if _, err := e.Export(context.Background(), patients("")); err == nil {
		t.Error("Export of patient without id should fail before sending")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrEmptyBaseURL) {
		t.Errorf("New error = %v, want ErrEmptyBaseURL", err)
	}
}
