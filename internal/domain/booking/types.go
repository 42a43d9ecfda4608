package booking

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Site is a testing location as listed by the backend.
type Site struct {
	ID   string
	Name string
}

// AvailabilityWindow is the informational summary returned alongside the site list.
// NextAvailable is nil when the backend reports no upcoming opening.
type AvailabilityWindow struct {
	SiteID        string
	SiteName      string
	NextAvailable *time.Time
}

// DateCandidate is a calendar day on which a site claims to have open slots.
type DateCandidate = civil.Date

type TimeSlot struct {
	ID    string
	Start time.Time
}

type Appointment struct {
	ID        string
	SiteName  string
	SlotStart time.Time
}

// Request holds the caller's constraints for one run.
// A zero Start or End means the window is unbounded on that side; End is exclusive.
type Request struct {
	Start     civil.Date
	End       civil.Date
	Locations []string
}

// NewRequest builds a Request from the first and last bookable days (both inclusive).
// The end bound is moved to the day after last so FilterDates can treat it as exclusive.
func NewRequest(first, last civil.Date, locations []string) Request {
	r := Request{Start: first, Locations: locations}
	if !IsZeroDate(last) {
		r.End = last.AddDays(1)
	}
	return r
}

// ParseLocations splits a comma separated location list. Blank input yields nil (all sites).
func ParseLocations(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func IsZeroDate(d civil.Date) bool { return d == civil.Date{} }

// AppointmentLink is the deep link for an appointment, or the landing page when id is empty.
func AppointmentLink(baseURL, id string) string {
	base := strings.TrimRight(baseURL, "/")
	if id == "" {
		return base + "/"
	}
	return base + "/appointment/" + id
}
