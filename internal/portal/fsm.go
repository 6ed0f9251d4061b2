// Package portal models the client-side session flow of the patient portal
// as an explicit state machine, independent of any rendering layer.
//
//	Unauthenticated --PatientLoggedIn--> PatientSession
//	Unauthenticated --DoctorLoggedIn---> DoctorSession
//	DoctorSession --PatientFilesOpened--> ViewingPatientFiles
//	ViewingPatientFiles --BackToPatientList--> DoctorSession
//	any authenticated state --LoggedOut--> Unauthenticated
package portal

import (
	"errors"
	"fmt"
)

// State is one screen group of the portal.
type State int

const (
	Unauthenticated State = iota
	PatientSession
	DoctorSession
	ViewingPatientFiles
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case PatientSession:
		return "patient_session"
	case DoctorSession:
		return "doctor_session"
	case ViewingPatientFiles:
		return "viewing_patient_files"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidTransition is returned when an event does not apply to the
// current state. The machine is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// Event is a typed transition trigger.
type Event interface{ eventName() string }

// PatientLoggedIn follows a successful patient authentication.
type PatientLoggedIn struct{ Username string }

// DoctorLoggedIn follows a successful doctor authentication.
type DoctorLoggedIn struct{ Username string }

// PatientFilesOpened is a doctor selecting a patient from the list.
type PatientFilesOpened struct{ Patient string }

// BackToPatientList returns a doctor from a patient's files to the list.
type BackToPatientList struct{}

// LoggedOut ends any session.
type LoggedOut struct{}

func (PatientLoggedIn) eventName() string    { return "patient_logged_in" }
func (DoctorLoggedIn) eventName() string     { return "doctor_logged_in" }
func (PatientFilesOpened) eventName() string { return "patient_files_opened" }
func (BackToPatientList) eventName() string  { return "back_to_patient_list" }
func (LoggedOut) eventName() string          { return "logged_out" }

// Machine holds the current state and its context. The zero value starts
// Unauthenticated. It is not safe for concurrent use.
type Machine struct {
	state   State
	user    string
	viewing string
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// User returns the logged-in username, empty when unauthenticated.
func (m *Machine) User() string { return m.user }

// Viewing returns the patient whose files a doctor has open.
func (m *Machine) Viewing() string { return m.viewing }

// Fire applies ev.
func (m *Machine) Fire(ev Event) error {
	switch e := ev.(type) {
	case PatientLoggedIn:
		if m.state != Unauthenticated || e.Username == "" {
			return m.reject(ev)
		}
		m.state, m.user = PatientSession, e.Username
	case DoctorLoggedIn:
		if m.state != Unauthenticated || e.Username == "" {
			return m.reject(ev)
		}
		m.state, m.user = DoctorSession, e.Username
	case PatientFilesOpened:
		if m.state != DoctorSession || e.Patient == "" {
			return m.reject(ev)
		}
		m.state, m.viewing = ViewingPatientFiles, e.Patient
	case BackToPatientList:
		if m.state != ViewingPatientFiles {
			return m.reject(ev)
		}
		m.state, m.viewing = DoctorSession, ""
	case LoggedOut:
		if m.state == Unauthenticated {
			return m.reject(ev)
		}
		*m = Machine{}
	default:
		return m.reject(ev)
	}
	return nil
}

func (m *Machine) reject(ev Event) error {
	name := "unknown"
	if ev != nil {
		name = ev.eventName()
	}
	return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, name, m.state)
}
