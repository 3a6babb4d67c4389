package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"havenregistry.org/internal/auth"
	"havenregistry.org/internal/ids"
)

// Service defines the verification workflow operations. Implementations must
// enforce the capability table on every mutation and guarantee that a status
// write and its audit entry are observed together or not at all.
type Service interface {
	CreateFacility(ctx context.Context, input CreateFacilityInput, actor auth.Principal) (Facility, error)
	GetFacility(ctx context.Context, id string) (Facility, error)
	ListFacilities(ctx context.Context, filter FacilityFilter) ([]Facility, error)
	ChangeFacilityStatus(ctx context.Context, facilityID, target, notes string, actor auth.Principal) (Facility, error)
	FacilityAuditTrail(ctx context.Context, facilityID string) ([]AuditLogEntry, error)

	CreateDocument(ctx context.Context, facilityID, docType, fileRef, fileName string, actor auth.Principal) (Document, error)
	ReviewDocument(ctx context.Context, documentID, decision, reason string, actor auth.Principal) (Document, error)
	ListFacilityDocuments(ctx context.Context, facilityID string) ([]Document, error)
	ListPendingDocuments(ctx context.Context) ([]PendingDocument, error)

	StatsOverview(ctx context.Context) (Stats, error)
}

// InMemory implements Service with in-process concurrency safety. It backs
// tests and local development; production runs on the pg store.
type InMemory struct {
	mu         sync.RWMutex
	facilities map[string]*Facility
	documents  map[string]*Document
	audit      []AuditLogEntry
}

// NewInMemory creates an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{
		facilities: make(map[string]*Facility),
		documents:  make(map[string]*Document),
	}
}

var _ Service = (*InMemory)(nil)

func (s *InMemory) CreateFacility(ctx context.Context, input CreateFacilityInput, actor auth.Principal) (Facility, error) {
	if !actor.Can(auth.ActionFacilityCreate) {
		return Facility{}, auth.ErrUnauthorized
	}
	if err := validateCreateInput(input); err != nil {
		return Facility{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	f := &Facility{
		ID:                 ids.New(),
		Name:               strings.TrimSpace(input.Name),
		RegistrationNumber: strings.TrimSpace(input.RegistrationNumber),
		LGA:                strings.TrimSpace(input.LGA),
		Address:            strings.TrimSpace(input.Address),
		Latitude:           input.Latitude,
		Longitude:          input.Longitude,
		Capacity:           input.Capacity,
		CurrentChildren:    input.CurrentChildren,
		ContactPerson:      strings.TrimSpace(input.ContactPerson),
		ContactEmail:       strings.TrimSpace(input.ContactEmail),
		ContactPhone:       strings.TrimSpace(input.ContactPhone),
		YearEstablished:    input.YearEstablished,
		Description:        strings.TrimSpace(input.Description),
		AdminUserID:        actor.ID,
		VerificationStatus: StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.facilities[f.ID] = f
	return *f, nil
}

func (s *InMemory) GetFacility(ctx context.Context, id string) (Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facilities[id]
	if !ok {
		return Facility{}, ErrNotFound
	}
	return *f, nil
}

func (s *InMemory) ListFacilities(ctx context.Context, filter FacilityFilter) ([]Facility, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]Facility, 0, len(s.facilities))
	for _, f := range s.facilities {
		if filter.LGA != "" && f.LGA != filter.LGA {
			continue
		}
		if filter.Status != "" && f.VerificationStatus != filter.Status {
			continue
		}
		res = append(res, *f)
	}
	// newest first, matching the listing order of the public directory
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ChangeFacilityStatus validates the transition, writes the new status and
// appends the audit entry inside one critical section. A target equal to the
// current status is accepted and still logged.
func (s *InMemory) ChangeFacilityStatus(ctx context.Context, facilityID, target, notes string, actor auth.Principal) (Facility, error) {
	if !actor.Can(auth.ActionFacilityVerify) {
		return Facility{}, auth.ErrUnauthorized
	}
	if !IsVerificationTarget(target) {
		return Facility{}, fmt.Errorf("%w: %q is not an accepted target status", ErrInvalidTransition, target)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facilities[facilityID]
	if !ok {
		return Facility{}, ErrNotFound
	}

	previous := f.VerificationStatus
	now := time.Now().UTC()
	f.VerificationStatus = target
	f.UpdatedAt = now

	s.audit = append(s.audit, AuditLogEntry{
		ID:             ids.New(),
		FacilityID:     facilityID,
		ActorID:        actor.ID,
		Action:         ActionStatusChange,
		PreviousStatus: previous,
		NewStatus:      target,
		Notes:          notes,
		CreatedAt:      now,
	})
	return *f, nil
}

func (s *InMemory) FacilityAuditTrail(ctx context.Context, facilityID string) ([]AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.facilities[facilityID]; !ok {
		return nil, ErrNotFound
	}
	var res []AuditLogEntry
	for _, e := range s.audit {
		if e.FacilityID == facilityID {
			res = append(res, e)
		}
	}
	return res, nil
}

func (s *InMemory) CreateDocument(ctx context.Context, facilityID, docType, fileRef, fileName string, actor auth.Principal) (Document, error) {
	if !actor.Can(auth.ActionDocumentUpload) {
		return Document{}, auth.ErrUnauthorized
	}
	docType = strings.TrimSpace(docType)
	if facilityID == "" || docType == "" || fileRef == "" {
		return Document{}, fmt.Errorf("%w: facility_id, document_type and file reference are required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.facilities[facilityID]; !ok {
		return Document{}, ErrNotFound
	}

	d := &Document{
		ID:           ids.New(),
		FacilityID:   facilityID,
		DocumentType: docType,
		FileRef:      fileRef,
		FileName:     fileName,
		Status:       DocStatusPending,
		UploadedAt:   time.Now().UTC(),
	}
	s.documents[d.ID] = d
	return *d, nil
}

// ReviewDocument records a decision. Re-reviewing an already decided document
// is permitted: the new decision overwrites reviewer, timestamp and reason.
// The reason is stored verbatim regardless of the decision.
func (s *InMemory) ReviewDocument(ctx context.Context, documentID, decision, reason string, actor auth.Principal) (Document, error) {
	if !actor.Can(auth.ActionDocumentReview) {
		return Document{}, auth.ErrUnauthorized
	}
	if !IsReviewDecision(decision) {
		return Document{}, fmt.Errorf("%w: %q is not an accepted decision", ErrInvalidTransition, decision)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}

	now := time.Now().UTC()
	reviewer := actor.ID
	d.Status = decision
	d.VerifiedBy = &reviewer
	d.VerifiedAt = &now
	if strings.TrimSpace(reason) == "" {
		d.RejectionReason = nil
	} else {
		r := reason
		d.RejectionReason = &r
	}
	return *d, nil
}

func (s *InMemory) ListFacilityDocuments(ctx context.Context, facilityID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.facilities[facilityID]; !ok {
		return nil, ErrNotFound
	}
	var res []Document
	for _, d := range s.documents {
		if d.FacilityID == facilityID {
			res = append(res, *d)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UploadedAt.After(res[j].UploadedAt) })
	return res, nil
}

func (s *InMemory) ListPendingDocuments(ctx context.Context) ([]PendingDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []PendingDocument
	for _, d := range s.documents {
		if d.Status != DocStatusPending {
			continue
		}
		f := s.facilities[d.FacilityID]
		if f == nil {
			continue
		}
		res = append(res, PendingDocument{Document: *d, FacilityName: f.Name, LGA: f.LGA})
	}
	// oldest upload first so validators work the backlog in order
	sort.Slice(res, func(i, j int) bool { return res[i].UploadedAt.Before(res[j].UploadedAt) })
	return res, nil
}

func (s *InMemory) StatsOverview(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	perLGA := make(map[string]int)
	for _, f := range s.facilities {
		stats.Overview.TotalFacilities++
		switch f.VerificationStatus {
		case StatusVerified:
			stats.Overview.Verified++
			perLGA[f.LGA]++
		case StatusPending:
			stats.Overview.Pending++
		case StatusRejected:
			stats.Overview.Rejected++
		case StatusSuspended:
			stats.Overview.Suspended++
		}
		if f.Capacity != nil {
			stats.Overview.TotalCapacity += int64(*f.Capacity)
		}
		stats.Overview.TotalChildren += int64(f.CurrentChildren)
	}

	stats.LGADistribution = make([]LGACount, 0, len(perLGA))
	for lga, count := range perLGA {
		stats.LGADistribution = append(stats.LGADistribution, LGACount{LGA: lga, Count: count})
	}
	sort.Slice(stats.LGADistribution, func(i, j int) bool {
		if stats.LGADistribution[i].Count != stats.LGADistribution[j].Count {
			return stats.LGADistribution[i].Count > stats.LGADistribution[j].Count
		}
		return stats.LGADistribution[i].LGA < stats.LGADistribution[j].LGA
	})
	return stats, nil
}

func validateCreateInput(input CreateFacilityInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.LGA) == "" {
		return fmt.Errorf("%w: lga is required", ErrInvalidInput)
	}
	if input.Capacity != nil && *input.Capacity < 0 {
		return fmt.Errorf("%w: capacity must be >= 0", ErrInvalidInput)
	}
	if input.CurrentChildren < 0 {
		return fmt.Errorf("%w: current_children must be >= 0", ErrInvalidInput)
	}
	return nil
}
