package hospital

// Fallback text shown when a reference cannot be resolved.
const (
	UnknownPatient = "Unknown Patient"
	UnknownDoctor  = "Unknown Doctor"
	NoPhone        = "No Phone"
)

// Index resolves appointment references against the doctors and patients
// collections it was built from.
type Index struct {
	doctors  map[ID]*Doctor
	patients map[ID]*Patient
}

// NewIndex builds lookup tables keyed by identifier. Records without an
// identifier are not indexed; on duplicate identifiers the later record wins.
func NewIndex(doctors []Doctor, patients []Patient) *Index {
	ix := &Index{
		doctors:  make(map[ID]*Doctor, len(doctors)),
		patients: make(map[ID]*Patient, len(patients)),
	}
	for i := range doctors {
		if id := doctors[i].ID; id != "" {
			ix.doctors[id] = &doctors[i]
		}
	}
	for i := range patients {
		if id := patients[i].ID; id != "" {
			ix.patients[id] = &patients[i]
		}
	}
	return ix
}

// Patient resolves ref through the index, falling back to the embedded
// document the reference arrived with.
func (ix *Index) Patient(ref Ref[Patient]) (*Patient, bool) {
	if p, ok := ix.patients[ref.ID]; ok {
		return p, true
	}
	if ref.Embedded != nil {
		return ref.Embedded, true
	}
	return nil, false
}

// Doctor resolves ref the same way Patient does.
func (ix *Index) Doctor(ref Ref[Doctor]) (*Doctor, bool) {
	if d, ok := ix.doctors[ref.ID]; ok {
		return d, true
	}
	if ref.Embedded != nil {
		return ref.Embedded, true
	}
	return nil, false
}

func patientLabel(p *Patient) (name, phone string) {
	name, phone = UnknownPatient, NoPhone
	if p == nil {
		return name, phone
	}
	if n := p.DisplayName(); n != "" {
		name = n
	}
	if ph := p.ContactPhone(); ph != "" {
		phone = ph
	}
	return name, phone
}

func doctorLabel(d *Doctor) string {
	if d == nil {
		return UnknownDoctor
	}
	if n := d.DisplayName(); n != "" {
		return n
	}
	return UnknownDoctor
}

// Denormalize returns a with PatientName, PatientPhone and DoctorName set
// from the referenced records. Unresolved references get the fallback text;
// resolved reports whether both references were found.
func (ix *Index) Denormalize(a Appointment) (out Appointment, resolved bool) {
	p, pok := ix.Patient(a.PatientID)
	d, dok := ix.Doctor(a.DoctorID)
	a.PatientName, a.PatientPhone = patientLabel(p)
	a.DoctorName = doctorLabel(d)
	return a, pok && dok
}

// Denormalize resolves every appointment against doctors and patients and
// returns the enriched list along with the number of appointments that had
// at least one dangling reference.
func Denormalize(appointments []Appointment, doctors []Doctor, patients []Patient) ([]Appointment, int) {
	ix := NewIndex(doctors, patients)
	out := make([]Appointment, 0, len(appointments))
	unresolved := 0
	for _, a := range appointments {
		enriched, ok := ix.Denormalize(a)
		if !ok {
			unresolved++
		}
		out = append(out, enriched)
	}
	return out, unresolved
}
