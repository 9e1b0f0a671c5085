package mapper

// Column is the position of a field in a patients.csv row.
type Column int

const (
	ColID Column = iota
	ColBirthDate
	ColDeathDate
	ColSSN
	ColDrivers
	ColPassport
	ColPrefix
	ColFirst
	ColLast
	ColSuffix
	ColMaiden
	ColMarital
	ColRace
	ColEthnicity
	ColGender
	ColBirthplace
	ColAddress
	ColCity
	ColState
	ColCounty
	ColZip
	ColLat
	ColLon
	ColHealthcareExpenses
	ColHealthcareCoverage

	// NumColumns is the minimum field count of a well-formed row.
	NumColumns int = iota
)

var columnNames = [...]string{
	"Id", "BIRTHDATE", "DEATHDATE", "SSN", "DRIVERS", "PASSPORT", "PREFIX",
	"FIRST", "LAST", "SUFFIX", "MAIDEN", "MARITAL", "RACE", "ETHNICITY",
	"GENDER", "BIRTHPLACE", "ADDRESS", "CITY", "STATE", "COUNTY", "ZIP",
	"LAT", "LON", "HEALTHCARE_EXPENSES", "HEALTHCARE_COVERAGE",
}

// String returns the header name used by the source file.
func (c Column) String() string {
	if c < 0 || int(c) >= len(columnNames) {
		return "UNKNOWN"
	}
	return columnNames[c]
}

// Header returns the expected header row.
func Header() []string {
	h := make([]string, len(columnNames))
	copy(h, columnNames[:])
	return h
}
