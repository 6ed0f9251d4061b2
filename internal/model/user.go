package model

import "time"

// Role names stored on every account record and carried in the JWT
// "role" claim.
const (
	RolePatient = "PATIENT"
	RoleDoctor  = "DOCTOR"
)

// RolePrefixHold marks a record that reserves a file folder prefix for the
// account named in Owner. Such records are not accounts and never log in.
const RolePrefixHold = "PREFIX_HOLD"

// Account represents a row of the patients table (or item of the Patients
// DynamoDB table). Patients and doctors share the same table so that a
// single conditional insert guarantees username uniqueness across roles.
//
// Fields:
//
//	Username     – partition key, unique and case-sensitive.
//	PasswordHash – bcrypt hash of the password. Never serialised to clients.
//	Email        – optional contact email, empty string when absent.
//	Name         – optional display name, empty string when absent.
//	Role         – PATIENT or DOCTOR.
//	DoctorID     – staff identifier, only set for doctors.
//	Owner        – on prefix hold records, the username holding the prefix.
//	CreatedAt    – timestamp of registration (UTC).
type Account struct {
	Username     string    `dynamodbav:"username" json:"username"`
	PasswordHash string    `dynamodbav:"password_hash" json:"-"`
	Email        string    `dynamodbav:"email" json:"email"`
	Name         string    `dynamodbav:"name" json:"name"`
	Role         string    `dynamodbav:"role" json:"role"`
	DoctorID     string    `dynamodbav:"doctor_id,omitempty" json:"-"`
	Owner        string    `dynamodbav:"owner,omitempty" json:"-"`
	CreatedAt    time.Time `dynamodbav:"created_at" json:"created_at"`
}

// Profile is the password-free view of an account returned to callers.
type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Profile strips credentials from the account.
func (a Account) Profile() Profile {
	role := a.Role
	if role == "" {
		role = RolePatient
	}
	return Profile{Username: a.Username, Email: a.Email, Name: a.Name, Role: role}
}

// IsDoctor reports whether the account carries the doctor role.
func (a Account) IsDoctor() bool { return a.Role == RoleDoctor }

// IsPatient reports whether the account is a patient. Records written
// before roles existed carry an empty role and count as patients.
func (a Account) IsPatient() bool { return a.Role == RolePatient || a.Role == "" }

// Principal is the identity attached to an authenticated request. It is
// derived from a verified access token, never from client-supplied fields.
type Principal struct {
	Username string
	Role     string
}

// IsDoctor reports whether the principal holds the doctor role.
func (p Principal) IsDoctor() bool { return p.Role == RoleDoctor }
