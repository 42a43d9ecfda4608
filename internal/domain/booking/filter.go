package booking

import "strings"

// FilterSites keeps the sites whose name contains at least one of the location terms.
// Matching is case-sensitive; an empty filter keeps every site. Order is preserved.
func FilterSites(sites []Site, locations []string) []Site {
	if len(locations) == 0 {
		return sites
	}
	out := make([]Site, 0, len(sites))
	for _, s := range sites {
		for _, loc := range locations {
			if strings.Contains(s.Name, loc) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// FilterDates keeps the dates d with start <= d < end. A zero bound is ignored.
func FilterDates(dates []DateCandidate, start, end DateCandidate) []DateCandidate {
	out := make([]DateCandidate, 0, len(dates))
	for _, d := range dates {
		if !IsZeroDate(start) && d.Before(start) {
			continue
		}
		if !IsZeroDate(end) && !d.Before(end) {
			continue
		}
		out = append(out, d)
	}
	return out
}

