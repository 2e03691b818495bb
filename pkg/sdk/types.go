package sdk

import "time"

// Patient is a patient record as served by the clinical API read side.
type Patient struct {
	ID          string    `json:"id"`
	GivenName   string    `json:"givenName"`
	FamilyName  string    `json:"familyName"`
	DateOfBirth string    `json:"dateOfBirth,omitempty"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// Prescription is a prescription as served by the read side. Status moves
// through the write path; reads may briefly trail a recent mutation.
type Prescription struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patientId"`
	TreatmentID   string    `json:"treatmentId"`
	TreatmentName string    `json:"treatmentName,omitempty"`
	Instructions  string    `json:"instructions,omitempty"`
	FillsAllowed  int       `json:"fillsAllowed,omitempty"`
	Status        string    `json:"status"`
	WrittenAt     time.Time `json:"writtenAt,omitempty"`
}

// CatalogItem is one entry in the organization's treatment catalog.
type CatalogItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Form     string `json:"form,omitempty"`
	Strength string `json:"strength,omitempty"`
}

// PrescriptionInput is the write-side shape for creating a prescription.
type PrescriptionInput struct {
	PatientID    string `json:"patientId"`
	TreatmentID  string `json:"treatmentId"`
	Instructions string `json:"instructions,omitempty"`
	FillsAllowed int    `json:"fillsAllowed,omitempty"`
}

// Operation names of the clinical API. Queries and mutations share the
// single POST endpoint; the backend routes on the operation field.
const (
	opGetPatient         = "patient.get"
	opSearchPatients     = "patients.search"
	opListPrescriptions  = "prescriptions.list"
	opGetCatalog         = "catalog.get"
	opCreatePrescription = "prescription.create"
	opUpdatePatient      = "patient.update"
)
