package hospital

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Status is the lifecycle state of an appointment. Any status may follow any
// other; the backend decides whether a transition is allowed.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusVisited   Status = "Visited"
	StatusCancelled Status = "Cancelled"
)

// Statuses lists the closed set of appointment statuses in display order.
var Statuses = []Status{StatusScheduled, StatusVisited, StatusCancelled}

// ParseStatus matches s case-insensitively against the known statuses.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid appointment status %q: must be one of Scheduled, Visited, Cancelled", s)
}

// UnmarshalJSON never fails on an unknown value: records coming from the
// backend without a recognizable status are treated as Scheduled.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = StatusScheduled
		return nil
	}
	st, err := ParseStatus(raw)
	if err != nil {
		st = StatusScheduled
	}
	*s = st
	return nil
}

// FlexString decodes from either a JSON string or a JSON number. Doctor
// experience arrives both ways depending on which form created the record.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", trimmed)
	}
	*f = FlexString(n.String())
	return nil
}

// FlexInt decodes from a JSON number or a numeric string. Anything else,
// including null, booleans and non-numeric text, decodes as 0 so one badly
// typed field cannot fail a whole collection.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	*f = 0
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	text := string(trimmed)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		text = strings.TrimSpace(s)
	}
	if n, err := strconv.Atoi(text); err == nil {
		*f = FlexInt(n)
		return nil
	}
	if x, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(x) && !math.IsInf(x, 0) {
		*f = FlexInt(int(x))
	}
	return nil
}

// Availability is one weekly scheduling window for a doctor.
type Availability struct {
	Day         string `json:"day"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	IsAvailable bool   `json:"isAvailable"`
}

type Doctor struct {
	ID           ID             `json:"_id,omitempty"`
	Name         string         `json:"name,omitempty"`
	FirstName    string         `json:"firstName,omitempty"`
	LastName     string         `json:"lastName,omitempty"`
	Specialty    string         `json:"specialty,omitempty"`
	Department   string         `json:"department,omitempty"`
	Specialist   string         `json:"specialist,omitempty"`
	Designation  string         `json:"designation,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Email        string         `json:"email,omitempty"`
	Address      string         `json:"address,omitempty"`
	City         string         `json:"city,omitempty"`
	Experience   FlexString     `json:"experience,omitempty"`
	Availability []Availability `json:"availability,omitempty"`
}

func (d *Doctor) UnmarshalJSON(data []byte) error {
	type alias Doctor
	aux := struct {
		*alias
		AltID ID `json:"id"`
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = aux.AltID
	}
	return nil
}

// DisplayName returns the doctor's name, or the first/last pair when only
// that shape was stored.
func (d *Doctor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

// Speciality returns whichever of specialty, department or specialist is set.
func (d *Doctor) Speciality() string {
	switch {
	case d.Specialty != "":
		return d.Specialty
	case d.Department != "":
		return d.Department
	default:
		return d.Specialist
	}
}

type Patient struct {
	ID                 ID      `json:"_id,omitempty"`
	Name               string  `json:"name,omitempty"`
	FirstName          string  `json:"firstName,omitempty"`
	LastName           string  `json:"lastName,omitempty"`
	Phone              string  `json:"phone,omitempty"`
	ContactNumber      string  `json:"contactNumber,omitempty"`
	Age                FlexInt `json:"age,omitempty"`
	Gender             string  `json:"gender,omitempty"`
	DateOfBirth        string  `json:"dateOfBirth,omitempty"`
	Email              string  `json:"email,omitempty"`
	Address            string  `json:"address,omitempty"`
	City               string  `json:"city,omitempty"`
	BloodGroup         string  `json:"bloodGroup,omitempty"`
	Allergies          string  `json:"allergies,omitempty"`
	CurrentMedication  string  `json:"currentMedication,omitempty"`
	PastMedicalHistory string  `json:"pastMedicalHistory,omitempty"`
	EmergencyContact   string  `json:"emergencyContact,omitempty"`
	EmergencyPhone     string  `json:"emergencyPhone,omitempty"`
	Relationship       string  `json:"relationship,omitempty"`
	Visits             FlexInt `json:"visits"`
}

func (p *Patient) UnmarshalJSON(data []byte) error {
	type alias Patient
	aux := struct {
		*alias
		AltID ID `json:"id"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = aux.AltID
	}
	return nil
}

// DisplayName returns name, else the trimmed "first last" pair.
func (p *Patient) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ContactPhone returns phone, else contactNumber.
func (p *Patient) ContactPhone() string {
	if p.Phone != "" {
		return p.Phone
	}
	return p.ContactNumber
}

// Validate checks the fields a new patient record must carry.
func (p *Patient) Validate() error {
	if p.DisplayName() == "" {
		return fmt.Errorf("patient name is required")
	}
	if p.Age < 0 {
		return fmt.Errorf("patient age must not be negative, got %d", p.Age)
	}
	if p.Visits < 0 {
		return fmt.Errorf("patient visits must not be negative, got %d", p.Visits)
	}
	return nil
}

// PatientPatch carries a partial patient update. Nil fields are left alone.
type PatientPatch struct {
	Name               *string `json:"name,omitempty"`
	FirstName          *string `json:"firstName,omitempty"`
	LastName           *string `json:"lastName,omitempty"`
	Phone              *string `json:"phone,omitempty"`
	ContactNumber      *string `json:"contactNumber,omitempty"`
	Age                *int    `json:"age,omitempty"`
	Gender             *string `json:"gender,omitempty"`
	Email              *string `json:"email,omitempty"`
	Address            *string `json:"address,omitempty"`
	City               *string `json:"city,omitempty"`
	BloodGroup         *string `json:"bloodGroup,omitempty"`
	Allergies          *string `json:"allergies,omitempty"`
	CurrentMedication  *string `json:"currentMedication,omitempty"`
	PastMedicalHistory *string `json:"pastMedicalHistory,omitempty"`
	EmergencyContact   *string `json:"emergencyContact,omitempty"`
	EmergencyPhone     *string `json:"emergencyPhone,omitempty"`
	Visits             *int    `json:"visits,omitempty"`
}

// IsEmpty reports whether the patch sets no field at all.
func (pp PatientPatch) IsEmpty() bool {
	data, _ := json.Marshal(pp)
	return string(data) == "{}"
}

// Apply returns p with every non-nil patch field copied over.
func (pp PatientPatch) Apply(p Patient) Patient {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.Name, pp.Name)
	set(&p.FirstName, pp.FirstName)
	set(&p.LastName, pp.LastName)
	set(&p.Phone, pp.Phone)
	set(&p.ContactNumber, pp.ContactNumber)
	set(&p.Gender, pp.Gender)
	set(&p.Email, pp.Email)
	set(&p.Address, pp.Address)
	set(&p.City, pp.City)
	set(&p.BloodGroup, pp.BloodGroup)
	set(&p.Allergies, pp.Allergies)
	set(&p.CurrentMedication, pp.CurrentMedication)
	set(&p.PastMedicalHistory, pp.PastMedicalHistory)
	set(&p.EmergencyContact, pp.EmergencyContact)
	set(&p.EmergencyPhone, pp.EmergencyPhone)
	if pp.Age != nil {
		p.Age = FlexInt(*pp.Age)
	}
	if pp.Visits != nil {
		p.Visits = FlexInt(*pp.Visits)
	}
	return p
}

// Appointment is an appointment as the view layer sees it: the references
// are canonical identifiers and PatientName, PatientPhone and DoctorName
// hold resolved display values.
type Appointment struct {
	ID           ID           `json:"_id"`
	PatientID    Ref[Patient] `json:"patientId"`
	DoctorID     Ref[Doctor]  `json:"doctorId"`
	PatientName  string       `json:"patientName"`
	PatientPhone string       `json:"patientPhone"`
	DoctorName   string       `json:"doctorName"`
	Date         string       `json:"date"`
	Time         string       `json:"time"`
	Status       Status       `json:"status"`
	Symptoms     string       `json:"symptoms,omitempty"`
	CreatedAt    string       `json:"createdAt,omitempty"`
}

func (a *Appointment) UnmarshalJSON(data []byte) error {
	type alias Appointment
	aux := struct {
		*alias
		AltID ID `json:"id"`
	}{alias: (*alias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = aux.AltID
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	return nil
}

// NewAppointment is the input for booking an appointment.
type NewAppointment struct {
	PatientID ID     `json:"patientId"`
	DoctorID  ID     `json:"doctorId"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Symptoms  string `json:"symptoms,omitempty"`
	Status    string `json:"status,omitempty"`
}

func (n *NewAppointment) Validate() error {
	if n.PatientID == "" {
		return fmt.Errorf("patientId is required")
	}
	if n.DoctorID == "" {
		return fmt.Errorf("doctorId is required")
	}
	if strings.TrimSpace(n.Date) == "" {
		return fmt.Errorf("date is required")
	}
	if strings.TrimSpace(n.Time) == "" {
		return fmt.Errorf("time is required")
	}
	if n.Status != "" {
		if _, err := ParseStatus(n.Status); err != nil {
			return err
		}
	}
	return nil
}
