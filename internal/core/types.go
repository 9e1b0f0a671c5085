package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/fhirmap/internal/fhir"
	"github.com/JonMunkholm/fhirmap/internal/loader"
	"github.com/JonMunkholm/fhirmap/internal/mapper"
	"github.com/JonMunkholm/fhirmap/internal/store"
)

var (
	ErrTooLarge       = errors.New("file too large")
	ErrEmptyBody      = errors.New("empty file")
	ErrStoreDisabled  = errors.New("persistence is not configured")
	ErrExportDisabled = errors.New("export is not configured")
)

// PatientStore is the persistence the service needs. *store.Store
// satisfies it.
type PatientStore interface {
	UpsertPatients(ctx context.Context, loadID uuid.UUID, patients []fhir.Patient) (int, error)
	GetPatient(ctx context.Context, id string) (fhir.Patient, error)
	RecordLoad(ctx context.Context, l store.Load) error
	RecentLoads(ctx context.Context, limit int) ([]store.Load, error)
}

// Exporter pushes patients to a FHIR server. *export.Exporter satisfies it.
type Exporter interface {
	Export(ctx context.Context, patients []fhir.Patient) (int, error)
}

// LoadRequest describes one load.
type LoadRequest struct {
	Source string
	Size   int64

	// FailFast aborts on the first malformed row. It is or-ed with the
	// configured default.
	FailFast bool

	Persist bool
	Export  bool
}

// LoadReport is what a load returns to callers.
type LoadReport struct {
	ID               uuid.UUID          `json:"loadId"`
	Source           string             `json:"source,omitempty"`
	Lines            int                `json:"total"`
	Loaded           int                `json:"loaded"`
	Failed           []loader.FailedRow `json:"failed"`
	GenderFallbacks  int                `json:"genderFallbacks"`
	MaritalFallbacks int                `json:"maritalFallbacks"`
	Persisted        int                `json:"persisted"`
	Exported         int                `json:"exported"`
	Warning          string             `json:"warning,omitempty"`
	DurationMs       int64              `json:"durationMs"`
	StartedAt        time.Time          `json:"startedAt"`

	Patients []fhir.Patient `json:"-"`
}

func newLoadReport(id uuid.UUID, src string, started time.Time, res *loader.Result) *LoadReport {
	failed := res.Failed
	if failed == nil {
		failed = []loader.FailedRow{}
	}
	return &LoadReport{
		ID:               id,
		Source:           src,
		Lines:            res.Lines,
		Loaded:           len(res.Patients),
		Failed:           failed,
		GenderFallbacks:  res.Fallbacks.Gender,
		MaritalFallbacks: res.Fallbacks.Marital,
		Warning:          res.Warning(),
		DurationMs:       res.Duration.Milliseconds(),
		StartedAt:        started,
		Patients:         res.Patients,
	}
}

// abort notes why a load stopped early. A row that stopped a fail-fast load
// counts as failed.
func (r *LoadReport) abort(err error) {
	var mre *mapper.MalformedRowError
	if errors.As(err, &mre) {
		r.Failed = append(r.Failed, loader.FailedRow{
			Line:   mre.Line,
			Reason: mre.Reason,
			Data:   strings.Join(mre.Values, ","),
		})
	}
	if r.Warning == "" {
		r.Warning = "load aborted: " + err.Error()
	}
}

// record converts the report to a load history row.
func (r *LoadReport) record(ctx context.Context) store.Load {
	return store.Load{
		ID:        r.ID,
		Source:    r.Source,
		Total:     r.Lines,
		Loaded:    r.Loaded,
		Failed:    len(r.Failed),
		Persisted: r.Persisted,
		Exported:  r.Exported,
		Warning:   r.Warning,
		ClientIP:  GetIPAddressFromContext(ctx),
		UserAgent: GetUserAgentFromContext(ctx),
		StartedAt: r.StartedAt,
		Duration:  time.Duration(r.DurationMs) * time.Millisecond,
	}
}
