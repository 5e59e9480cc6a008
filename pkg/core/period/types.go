// Package period discovers reporting periods from the regulator's directory
// listing and picks the most recent ones.
package period

import "fmt"

// Period is a (year, quarter) reporting interval.
type Period struct {
	Year    int
	Quarter int
}

// String renders the period as "2024T1".
func (p Period) String() string {
	return fmt.Sprintf("%dT%d", p.Year, p.Quarter)
}

// Before reports whether p sorts strictly before other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Quarter < other.Quarter
}

// RemoteArtifact is an archive found in a year directory of the listing.
type RemoteArtifact struct {
	Name string
	URL  string
}

// Selection pairs a period with the archive it was discovered from.
type Selection struct {
	Period Period
	Name   string
	URL    string
}
