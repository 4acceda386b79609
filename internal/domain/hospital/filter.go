package hospital

import (
	"sort"
	"strings"
)

// Filter selects appointments for list views. Zero-valued fields match
// everything.
type Filter struct {
	Search   string // case-insensitive substring of patient or doctor name
	Status   Status
	Date     string // exact date token, e.g. "tomorrow"
	DoctorID ID
}

func (f Filter) matches(a *Appointment) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Date != "" && a.Date != f.Date {
		return false
	}
	if f.DoctorID != "" && a.DoctorID.ID != f.DoctorID {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(a.PatientName), q) &&
			!strings.Contains(strings.ToLower(a.DoctorName), q) {
			return false
		}
	}
	return true
}

// FilterAppointments returns the appointments matching f, in input order.
func FilterAppointments(appointments []Appointment, f Filter) []Appointment {
	out := []Appointment{}
	for i := range appointments {
		if f.matches(&appointments[i]) {
			out = append(out, appointments[i])
		}
	}
	return out
}

// StatusCounts tallies appointments per status. The "all" key holds the total.
func StatusCounts(appointments []Appointment) map[string]int {
	counts := map[string]int{"all": len(appointments)}
	for _, st := range Statuses {
		counts[string(st)] = 0
	}
	for _, a := range appointments {
		counts[string(a.Status)]++
	}
	return counts
}

// Dates returns the distinct date tokens in sorted order.
func Dates(appointments []Appointment) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, a := range appointments {
		if a.Date == "" || seen[a.Date] {
			continue
		}
		seen[a.Date] = true
		out = append(out, a.Date)
	}
	sort.Strings(out)
	return out
}

// FindPatients returns patients whose identifier, name or phone contains
// query, case-insensitively. An empty query returns every patient.
func FindPatients(patients []Patient, query string) []Patient {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []Patient{}
	for i := range patients {
		p := &patients[i]
		if q == "" ||
			strings.Contains(strings.ToLower(string(p.ID)), q) ||
			strings.Contains(strings.ToLower(p.DisplayName()), q) ||
			strings.Contains(p.ContactPhone(), q) {
			out = append(out, *p)
		}
	}
	return out
}
