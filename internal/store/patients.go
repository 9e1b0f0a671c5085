package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/fhirmap/internal/codec"
	"github.com/JonMunkholm/fhirmap/internal/fhir"
)

const upsertPatientSQL = `
INSERT INTO patients (id, family, given, gender, marital_code, birth_date, resource, load_id, loaded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (id) DO UPDATE SET
	family       = EXCLUDED.family,
	given        = EXCLUDED.given,
	gender       = EXCLUDED.gender,
	marital_code = EXCLUDED.marital_code,
	birth_date   = EXCLUDED.birth_date,
	resource     = EXCLUDED.resource,
	load_id      = EXCLUDED.load_id,
	loaded_at    = now()`

// patientArgs returns the upsert parameters for p. The resource column holds
// the canonical JSON form so lookups return exactly what was loaded.
func patientArgs(p fhir.Patient, loadID uuid.UUID) ([]any, error) {
	doc, err := codec.JSONCodec{}.Encode(p)
	if err != nil {
		return nil, err
	}
	name := p.PrimaryName()
	return []any{
		p.ID,
		ToPgText(name.Family),
		ToPgText(first(name.Given)),
		string(p.Gender),
		ToPgText(p.MaritalCode()),
		ToPgDate(p.BirthDate),
		doc,
		ToPgUUID(loadID),
	}, nil
}

// UpsertPatients writes patients in one transaction, replacing rows with the
// same id. It returns the number of rows written.
func (s *Store) UpsertPatients(ctx context.Context, loadID uuid.UUID, patients []fhir.Patient) (int, error) {
	written := 0
	err := s.inTx(ctx, func(db DBTX) error {
		n, err := upsertPatients(ctx, db, loadID, patients)
		written = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func upsertPatients(ctx context.Context, db DBTX, loadID uuid.UUID, patients []fhir.Patient) (int, error) {
	written := 0
	for start := 0; start < len(patients); start += BatchSize {
		end := min(start+BatchSize, len(patients))

		batch := &pgx.Batch{}
		for _, p := range patients[start:end] {
			args, err := patientArgs(p, loadID)
			if err != nil {
				return written, fmt.Errorf("patient %q: %w", p.ID, err)
			}
			batch.Queue(upsertPatientSQL, args...)
		}

		if err := execBatch(ctx, db, batch, patients[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}

func execBatch(ctx context.Context, db DBTX, batch *pgx.Batch, patients []fhir.Patient) error {
	br := db.SendBatch(ctx, batch)
	for _, p := range patients {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert patient %q: %w", p.ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

// GetPatient returns the stored resource for id, or ErrNotFound.
func (s *Store) GetPatient(ctx context.Context, id string) (fhir.Patient, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT resource FROM patients WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return fhir.Patient{}, fmt.Errorf("patient %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fhir.Patient{}, fmt.Errorf("get patient %q: %w", id, err)
	}
	return codec.JSONCodec{}.Decode(doc)
}

// CountPatients returns the number of stored patients.
func (s *Store) CountPatients(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM patients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return n, nil
}
