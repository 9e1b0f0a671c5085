// Package codec converts fhir.Patient records to and from FHIR JSON.
package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/fhirmap/internal/fhir"
)

// Codec encodes and decodes Patient resources.
type Codec interface {
	Encode(p fhir.Patient) ([]byte, error)
	Decode(b []byte) (fhir.Patient, error)
	Name() string
}

// ErrMissingID is returned by Encode for a record without an id.
var ErrMissingID = errors.New("patient has no id")

// DecodeError reports input that is not a valid Patient resource.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode patient: %s: %v", e.Reason, e.Err)
	}
	return "decode patient: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Names of the available codecs.
const (
	NameJSON = "json"
	NameR4   = "r4"
)

// New returns the codec registered under name.
func New(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameJSON:
		return JSONCodec{}, nil
	case NameR4:
		return NewR4Codec()
	}
	return nil, fmt.Errorf("unknown codec %q (want %s or %s)", name, NameJSON, NameR4)
}

// WriteNDJSON writes one encoded resource per line.
func WriteNDJSON(w io.Writer, c Codec, patients []fhir.Patient) error {
	bw := bufio.NewWriter(w)
	for _, p := range patients {
		b, err := c.Encode(p)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p.ID, err)
		}
		if _, err := bw.Write(b); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
