package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/fhirmap/internal/codec"
	"github.com/JonMunkholm/fhirmap/internal/config"
	"github.com/JonMunkholm/fhirmap/internal/fhir"
	"github.com/JonMunkholm/fhirmap/internal/loader"
	"github.com/JonMunkholm/fhirmap/internal/logging"
	"github.com/JonMunkholm/fhirmap/internal/mapper"
	"github.com/JonMunkholm/fhirmap/internal/store"
)

// Options configures a Service.
type Options struct {
	Loader loader.Options
	Codec  codec.Codec

	// Store and Exporter are optional. A nil value disables the feature.
	Store    PatientStore
	Exporter Exporter

	Limiter *LoadLimiter

	// Timeout bounds a single load, including persistence and export.
	Timeout time.Duration
}

// OptionsFromConfig builds Options from application config. Store and
// Exporter are left for the caller.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	mode, err := mapper.ParseDateMode(cfg.Loader.DateMode)
	if err != nil {
		return Options{}, err
	}
	c, err := codec.New(cfg.Loader.Codec)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Loader: loader.Options{
			FailFast:  cfg.Loader.FailFast,
			Workers:   cfg.Loader.Workers,
			ChunkSize: cfg.Loader.ChunkSize,
			DateMode:  mode,
		},
		Codec:   c,
		Limiter: NewLoadLimiter(cfg.Loader.MaxConcurrent, cfg.Loader.MaxWaitTime),
		Timeout: cfg.Loader.Timeout,
	}, nil
}

// Service loads patient CSVs and serves the mapped resources.
type Service struct {
	loaderOpts loader.Options
	codec      codec.Codec
	store      PatientStore
	exporter   Exporter
	limiter    *LoadLimiter
	timeout    time.Duration
	history    loadHistory
}

func NewService(opts Options) *Service {
	if opts.Codec == nil {
		opts.Codec = codec.JSONCodec{}
	}
	if opts.Limiter == nil {
		opts.Limiter = NewLoadLimiter(DefaultMaxConcurrentLoads, DefaultMaxWaitTime)
	}
	return &Service{
		loaderOpts: opts.Loader,
		codec:      opts.Codec,
		store:      opts.Store,
		exporter:   opts.Exporter,
		limiter:    opts.Limiter,
		timeout:    opts.Timeout,
	}
}

func (s *Service) Codec() codec.Codec { return s.codec }

func (s *Service) PersistenceEnabled() bool { return s.store != nil }

func (s *Service) ExportEnabled() bool { return s.exporter != nil }

// Load maps r and then optionally persists and exports the patients.
//
// The returned report is non-nil whenever mapping started, including when
// a later step fails. Malformed rows are reported in LoadReport.Failed and
// are not errors unless fail-fast is on.
func (s *Service) Load(ctx context.Context, r io.Reader, req LoadRequest) (*LoadReport, error) {
	if req.Persist && s.store == nil {
		return nil, ErrStoreDisabled
	}
	if req.Export && s.exporter == nil {
		return nil, ErrExportDisabled
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	id := uuid.New()
	logger := logging.WithFields(ctx, "load_id", id, "source", req.Source)
	logger.Info("load started", "bytes", req.Size, "persist", req.Persist, "export", req.Export)

	opts := s.loaderOpts
	opts.FailFast = opts.FailFast || req.FailFast
	opts.SourceSize = req.Size
	opts.Logger = logger

	started := time.Now()
	res, err := loader.New(opts).Load(ctx, r)
	if res == nil {
		return nil, err
	}
	report := newLoadReport(id, req.Source, started, res)
	if err != nil {
		logger.Warn("load aborted", "error", err, "loaded", report.Loaded)
		report.abort(err)
		s.finish(ctx, report)
		return report, err
	}

	if req.Persist {
		if err := s.persist(ctx, report); err != nil {
			logger.Error("persist failed", "error", err)
			report.abort(err)
			s.finish(ctx, report)
			return report, err
		}
		logger.Info("patients persisted", "count", report.Persisted)
	}

	if req.Export {
		sent, err := s.exporter.Export(ctx, report.Patients)
		report.Exported = sent
		if err != nil {
			logger.Error("export failed", "error", err, "sent", sent)
			s.finish(ctx, report)
			return report, fmt.Errorf("export load %s: %w", id, err)
		}
		logger.Info("patients exported", "count", sent)
	}

	s.finish(ctx, report)
	return report, nil
}

// persist writes the load row before the patients that reference it.
func (s *Service) persist(ctx context.Context, report *LoadReport) error {
	if err := s.store.RecordLoad(ctx, report.record(ctx)); err != nil {
		return err
	}
	n, err := s.store.UpsertPatients(ctx, report.ID, report.Patients)
	report.Persisted = n
	return err
}

// finish records the final counts in load history, on success and failure
// alike. History is best effort.
func (s *Service) finish(ctx context.Context, report *LoadReport) {
	report.DurationMs = time.Since(report.StartedAt).Milliseconds()
	l := report.record(ctx)
	if s.store == nil {
		s.history.add(l)
		return
	}
	if err := s.store.RecordLoad(context.WithoutCancel(ctx), l); err != nil {
		logging.FromContext(ctx).Warn("record load failed", "load_id", report.ID, "error", err)
	}
}

// Encode writes patients as NDJSON with the configured codec.
func (s *Service) Encode(w io.Writer, patients []fhir.Patient) error {
	return codec.WriteNDJSON(w, s.codec, patients)
}

// Decode parses one Patient resource with the configured codec.
func (s *Service) Decode(b []byte) (fhir.Patient, error) {
	return s.codec.Decode(b)
}

func (s *Service) GetPatient(ctx context.Context, id string) (fhir.Patient, error) {
	if s.store == nil {
		return fhir.Patient{}, ErrStoreDisabled
	}
	return s.store.GetPatient(ctx, id)
}

// RecentLoads returns up to limit loads, newest first, from the database
// when configured and from memory otherwise.
func (s *Service) RecentLoads(ctx context.Context, limit int) ([]store.Load, error) {
	if s.store == nil {
		return s.history.recent(limit), nil
	}
	return s.store.RecentLoads(ctx, limit)
}

// Ping checks the store when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Service) LimiterStatus() LimiterStatus { return s.limiter.Status() }

// WaitForLoads blocks until in-flight loads finish or ctx ends.
func (s *Service) WaitForLoads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
