package codec

import (
	"fmt"
	"time"

	"github.com/google/fhir/go/fhirversion"
	"github.com/google/fhir/go/jsonformat"

	"github.com/JonMunkholm/fhirmap/internal/fhir"

	c4pb "github.com/google/fhir/go/proto/google/fhir/proto/r4/core/codes_go_proto"
	d4pb "github.com/google/fhir/go/proto/google/fhir/proto/r4/core/datatypes_go_proto"
	r4pb "github.com/google/fhir/go/proto/google/fhir/proto/r4/core/resources/bundle_and_contained_resource_go_proto"
	ppb "github.com/google/fhir/go/proto/google/fhir/proto/r4/core/resources/patient_go_proto"
)

// R4Codec goes through the R4 protocol buffer model, so both directions are
// checked against the FHIR R4 JSON rules. FHIR forbids empty strings, so
// empty values are dropped on encode and do not come back on decode.
type R4Codec struct {
	m *jsonformat.Marshaller
	u *jsonformat.Unmarshaller
}

func NewR4Codec() (*R4Codec, error) {
	m, err := jsonformat.NewMarshaller(false, "", "", fhirversion.R4)
	if err != nil {
		return nil, fmt.Errorf("create R4 marshaller: %w", err)
	}
	u, err := jsonformat.NewUnmarshaller("UTC", fhirversion.R4)
	if err != nil {
		return nil, fmt.Errorf("create R4 unmarshaller: %w", err)
	}
	return &R4Codec{m: m, u: u}, nil
}

func (*R4Codec) Name() string { return NameR4 }

func (c *R4Codec) Encode(p fhir.Patient) ([]byte, error) {
	if p.ID == "" {
		return nil, ErrMissingID
	}
	msg, err := toProto(p)
	if err != nil {
		return nil, err
	}
	return c.m.MarshalResource(msg)
}

func (c *R4Codec) Decode(b []byte) (fhir.Patient, error) {
	msg, err := c.u.Unmarshal(b)
	if err != nil {
		return fhir.Patient{}, &DecodeError{Reason: "invalid R4 resource", Err: err}
	}
	cr, ok := msg.(*r4pb.ContainedResource)
	if !ok || cr.GetPatient() == nil {
		return fhir.Patient{}, &DecodeError{Reason: "resource is not a Patient"}
	}
	p, err := fromProto(cr.GetPatient())
	if err != nil {
		return fhir.Patient{}, &DecodeError{Reason: "invalid Patient", Err: err}
	}
	return p, nil
}

func str(s string) *d4pb.String {
	if s == "" {
		return nil
	}
	return &d4pb.String{Value: s}
}

func strs(in []string) []*d4pb.String {
	var out []*d4pb.String
	for _, s := range in {
		if s != "" {
			out = append(out, &d4pb.String{Value: s})
		}
	}
	return out
}

var genderToProto = map[fhir.AdministrativeGender]c4pb.AdministrativeGenderCode_Value{
	fhir.GenderMale:    c4pb.AdministrativeGenderCode_MALE,
	fhir.GenderFemale:  c4pb.AdministrativeGenderCode_FEMALE,
	fhir.GenderOther:   c4pb.AdministrativeGenderCode_OTHER,
	fhir.GenderUnknown: c4pb.AdministrativeGenderCode_UNKNOWN,
}

var dateToProto = map[fhir.DatePrecision]d4pb.Date_Precision{
	fhir.PrecisionYear:  d4pb.Date_YEAR,
	fhir.PrecisionMonth: d4pb.Date_MONTH,
	fhir.PrecisionDay:   d4pb.Date_DAY,
}

func toProto(p fhir.Patient) (*ppb.Patient, error) {
	out := &ppb.Patient{Id: &d4pb.Id{Value: p.ID}}

	for _, n := range p.Name {
		out.Name = append(out.Name, &d4pb.HumanName{
			Family: str(n.Family),
			Given:  strs(n.Given),
			Suffix: strs(n.Suffix),
		})
	}

	if p.Gender != "" {
		g, ok := genderToProto[p.Gender]
		if !ok {
			return nil, fmt.Errorf("invalid gender %q", p.Gender)
		}
		out.Gender = &ppb.Patient_GenderCode{Value: g}
	}

	if p.BirthDate != nil {
		prec, ok := dateToProto[p.BirthDate.Precision]
		if !ok {
			prec = d4pb.Date_DAY
		}
		out.BirthDate = &d4pb.Date{
			ValueUs:   p.BirthDate.Time.UnixMicro(),
			Timezone:  "UTC",
			Precision: prec,
		}
	}

	for _, a := range p.Address {
		out.Address = append(out.Address, &d4pb.Address{
			Line:       strs(a.Line),
			City:       str(a.City),
			State:      str(a.State),
			PostalCode: str(a.PostalCode),
			Country:    str(a.Country),
		})
	}

	if p.MaritalStatus != nil {
		cc := &d4pb.CodeableConcept{Text: str(p.MaritalStatus.Text)}
		for _, c := range p.MaritalStatus.Coding {
			pc := &d4pb.Coding{Display: str(c.Display)}
			if c.System != "" {
				pc.System = &d4pb.Uri{Value: c.System}
			}
			if c.Code != "" {
				pc.Code = &d4pb.Code{Value: c.Code}
			}
			cc.Coding = append(cc.Coding, pc)
		}
		out.MaritalStatus = cc
	}

	return out, nil
}

func values(in []*d4pb.String) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = s.GetValue()
	}
	return out
}

func fromProto(in *ppb.Patient) (fhir.Patient, error) {
	p := fhir.Patient{ID: in.GetId().GetValue()}

	for _, n := range in.GetName() {
		p.Name = append(p.Name, fhir.HumanName{
			Family: n.GetFamily().GetValue(),
			Given:  values(n.GetGiven()),
			Suffix: values(n.GetSuffix()),
		})
	}

	if in.GetGender() != nil {
		switch in.GetGender().GetValue() {
		case c4pb.AdministrativeGenderCode_MALE:
			p.Gender = fhir.GenderMale
		case c4pb.AdministrativeGenderCode_FEMALE:
			p.Gender = fhir.GenderFemale
		case c4pb.AdministrativeGenderCode_OTHER:
			p.Gender = fhir.GenderOther
		case c4pb.AdministrativeGenderCode_UNKNOWN:
			p.Gender = fhir.GenderUnknown
		default:
			return fhir.Patient{}, fmt.Errorf("invalid gender %v", in.GetGender().GetValue())
		}
	}

	if bd := in.GetBirthDate(); bd != nil {
		d, err := dateFromProto(bd)
		if err != nil {
			return fhir.Patient{}, err
		}
		p.BirthDate = &d
	}

	for _, a := range in.GetAddress() {
		p.Address = append(p.Address, fhir.Address{
			Line:       values(a.GetLine()),
			City:       a.GetCity().GetValue(),
			State:      a.GetState().GetValue(),
			PostalCode: a.GetPostalCode().GetValue(),
			Country:    a.GetCountry().GetValue(),
		})
	}

	if ms := in.GetMaritalStatus(); ms != nil {
		cc := &fhir.CodeableConcept{Text: ms.GetText().GetValue()}
		for _, c := range ms.GetCoding() {
			cc.Coding = append(cc.Coding, fhir.Coding{
				System:  c.GetSystem().GetValue(),
				Code:    c.GetCode().GetValue(),
				Display: c.GetDisplay().GetValue(),
			})
		}
		p.MaritalStatus = cc
	}

	return p, nil
}

func dateFromProto(d *d4pb.Date) (fhir.Date, error) {
	loc, err := protoLocation(d.GetTimezone())
	if err != nil {
		return fhir.Date{}, err
	}
	out := fhir.DateOf(time.UnixMicro(d.GetValueUs()).In(loc))
	switch d.GetPrecision() {
	case d4pb.Date_YEAR:
		out.Precision = fhir.PrecisionYear
	case d4pb.Date_MONTH:
		out.Precision = fhir.PrecisionMonth
	case d4pb.Date_DAY:
		out.Precision = fhir.PrecisionDay
	default:
		return fhir.Date{}, fmt.Errorf("unsupported date precision %v", d.GetPrecision())
	}
	return out, nil
}

func protoLocation(tz string) (*time.Location, error) {
	switch tz {
	case "", "Z", "UTC":
		return time.UTC, nil
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc, nil
	}
	if t, err := time.Parse("-07:00", tz); err == nil {
		return t.Location(), nil
	}
	return nil, fmt.Errorf("unknown time zone %q", tz)
}
