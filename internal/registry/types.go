package registry

import (
	"errors"
	"time"
)

// Facility verification statuses. A facility is created in StatusPending and
// only ever moves between the other three afterwards.
const (
	StatusPending   = "pending"
	StatusVerified  = "verified"
	StatusRejected  = "rejected"
	StatusSuspended = "suspended"
)

// Document review statuses.
const (
	DocStatusPending  = "pending"
	DocStatusApproved = "approved"
	DocStatusRejected = "rejected"
)

// ActionStatusChange is the only audit action kind the workflow records today.
const ActionStatusChange = "status_change"

// Facility is a registered care institution undergoing verification.
// Every field except VerificationStatus and UpdatedAt is set once at creation.
type Facility struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	RegistrationNumber string     `json:"registration_number,omitempty"`
	LGA                string     `json:"lga"`
	Address            string     `json:"address,omitempty"`
	Latitude           *float64   `json:"latitude,omitempty"`
	Longitude          *float64   `json:"longitude,omitempty"`
	Capacity           *int       `json:"capacity,omitempty"`
	CurrentChildren    int        `json:"current_children"`
	ContactPerson      string     `json:"contact_person,omitempty"`
	ContactEmail       string     `json:"contact_email,omitempty"`
	ContactPhone       string     `json:"contact_phone,omitempty"`
	YearEstablished    *int       `json:"year_established,omitempty"`
	Description        string     `json:"description,omitempty"`
	AdminUserID        string     `json:"admin_user_id"`
	VerificationStatus string     `json:"verification_status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Document is an uploaded verification document belonging to one facility.
// The binary lives in the file-storage subsystem; FileRef is its stable key.
type Document struct {
	ID              string     `json:"id"`
	FacilityID      string     `json:"facility_id"`
	DocumentType    string     `json:"document_type"`
	FileRef         string     `json:"file_ref"`
	FileName        string     `json:"file_name"`
	Status          string     `json:"status"`
	VerifiedBy      *string    `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	UploadedAt      time.Time  `json:"uploaded_at"`
}

// PendingDocument is a document awaiting review joined with the facility
// fields a validator needs to triage it.
type PendingDocument struct {
	Document
	FacilityName string `json:"facility_name"`
	LGA          string `json:"lga"`
}

// AuditLogEntry is the immutable record of one facility status transition.
// Entries are append-only; folding them in timestamp order from
// StatusPending reproduces the facility's current verification status.
type AuditLogEntry struct {
	ID             string    `json:"id"`
	FacilityID     string    `json:"facility_id"`
	ActorID        string    `json:"actor_id"`
	Action         string    `json:"action"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateFacilityInput carries the fields an orphanage admin submits.
type CreateFacilityInput struct {
	Name               string   `json:"name"`
	RegistrationNumber string   `json:"registration_number"`
	LGA                string   `json:"lga"`
	Address            string   `json:"address"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
	Capacity           *int     `json:"capacity"`
	CurrentChildren    int      `json:"current_children"`
	ContactPerson      string   `json:"contact_person"`
	ContactEmail       string   `json:"contact_email"`
	ContactPhone       string   `json:"contact_phone"`
	YearEstablished    *int     `json:"year_established"`
	Description        string   `json:"description"`
}

// FacilityFilter narrows ListFacilities. Zero values mean "any".
type FacilityFilter struct {
	LGA    string
	Status string
	Limit  int
}

// Overview is the totals block of the statistics snapshot.
type Overview struct {
	TotalFacilities int   `json:"total_facilities"`
	Verified        int   `json:"verified"`
	Pending         int   `json:"pending"`
	Rejected        int   `json:"rejected"`
	Suspended       int   `json:"suspended"`
	TotalCapacity   int64 `json:"total_capacity"`
	TotalChildren   int64 `json:"total_children"`
}

// LGACount is one row of the regional distribution.
type LGACount struct {
	LGA   string `json:"lga"`
	Count int    `json:"count"`
}

// Stats is the full read-only statistics snapshot, recomputed per request.
// The distribution covers verified facilities only, descending by count.
type Stats struct {
	Overview        Overview   `json:"overview"`
	LGADistribution []LGACount `json:"lga_distribution"`
}

var (
	ErrNotFound          = errors.New("registry: not found")
	ErrInvalidTransition = errors.New("registry: invalid transition")
	ErrInvalidInput      = errors.New("registry: invalid input")
	ErrStoreUnavailable  = errors.New("registry: store unavailable")
)

// IsVerificationTarget reports whether a status is an accepted target for a
// facility transition. The transition graph is deliberately permissive: any
// of the three targets is reachable from any current status, including
// itself, and StatusPending is never reachable as a target.
func IsVerificationTarget(status string) bool {
	switch status {
	case StatusVerified, StatusRejected, StatusSuspended:
		return true
	}
	return false
}

// IsReviewDecision reports whether a value is an accepted document decision.
func IsReviewDecision(decision string) bool {
	return decision == DocStatusApproved || decision == DocStatusRejected
}

// ReplayStatus folds a facility's audit entries in order, starting from
// StatusPending, and returns the status the history produces.
func ReplayStatus(entries []AuditLogEntry) string {
	status := StatusPending
	for _, e := range entries {
		if e.Action != ActionStatusChange {
			continue
		}
		status = e.NewStatus
	}
	return status
}
