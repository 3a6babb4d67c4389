package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"havenregistry.org/internal/auth"
)

var (
	admin     = auth.Principal{ID: "admin-1", Role: auth.RoleOrphanageAdmin}
	validator = auth.Principal{ID: "gov-1", Role: auth.RoleGovernmentValidator}
	ngo       = auth.Principal{ID: "ngo-1", Role: auth.RoleNGOPartner}
	sponsor   = auth.Principal{ID: "sponsor-1", Role: auth.RoleSponsor}
)

func newFacility(t *testing.T, s *InMemory) Facility {
	t.Helper()
	f, err := s.CreateFacility(context.Background(), CreateFacilityInput{
		Name: "Hope Haven",
		LGA:  "Ikeja",
	}, admin)
	if err != nil {
		t.Fatalf("CreateFacility: %v", err)
	}
	return f
}

func TestCreateFacilityStartsPending(t *testing.T) {
	s := NewInMemory()
	f := newFacility(t, s)

	if f.VerificationStatus != StatusPending {
		t.Fatalf("new facility status = %s, want pending", f.VerificationStatus)
	}
	if f.AdminUserID != admin.ID {
		t.Fatalf("owner = %s, want %s", f.AdminUserID, admin.ID)
	}
	trail, err := s.FacilityAuditTrail(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("FacilityAuditTrail: %v", err)
	}
	if len(trail) != 0 {
		t.Fatalf("creation must not write audit entries, got %d", len(trail))
	}
}

func TestCreateFacilityUnauthorized(t *testing.T) {
	s := NewInMemory()
	for _, p := range []auth.Principal{validator, ngo, sponsor} {
		if _, err := s.CreateFacility(context.Background(), CreateFacilityInput{Name: "X", LGA: "Epe"}, p); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("role %s: expected ErrUnauthorized, got %v", p.Role, err)
		}
	}
}

func TestChangeFacilityStatusLogsExactlyOnce(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	f := newFacility(t, s)

	updated, err := s.ChangeFacilityStatus(ctx, f.ID, StatusVerified, "ok", validator)
	if err != nil {
		t.Fatalf("ChangeFacilityStatus: %v", err)
	}
	if updated.VerificationStatus != StatusVerified {
		t.Fatalf("status = %s, want verified", updated.VerificationStatus)
	}

	trail, _ := s.FacilityAuditTrail(ctx, f.ID)
	if len(trail) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(trail))
	}
	e := trail[0]
	if e.PreviousStatus != StatusPending || e.NewStatus != StatusVerified {
		t.Fatalf("entry %s -> %s, want pending -> verified", e.PreviousStatus, e.NewStatus)
	}
	if e.ActorID != validator.ID || e.Action != ActionStatusChange || e.Notes != "ok" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestChangeFacilityStatusUnauthorizedLeavesStateAlone(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	f := newFacility(t, s)

	if _, err := s.ChangeFacilityStatus(ctx, f.ID, StatusVerified, "x", sponsor); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	got, _ := s.GetFacility(ctx, f.ID)
	if got.VerificationStatus != StatusPending {
		t.Fatalf("status mutated on denied request: %s", got.VerificationStatus)
	}
	trail, _ := s.FacilityAuditTrail(ctx, f.ID)
	if len(trail) != 0 {
		t.Fatalf("denied request produced %d audit entries", len(trail))
	}
}

func TestChangeFacilityStatusRejectsInvalidTarget(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	f := newFacility(t, s)

	for _, target := range []string{StatusPending, "archived", "", "VERIFIED"} {
		if _, err := s.ChangeFacilityStatus(ctx, f.ID, target, "", validator); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("target %q: expected ErrInvalidTransition, got %v", target, err)
		}
	}
	trail, _ := s.FacilityAuditTrail(ctx, f.ID)
	if len(trail) != 0 {
		t.Fatalf("rejected transitions produced %d audit entries", len(trail))
	}
}

func TestChangeFacilityStatusNotFound(t *testing.T) {
	s := NewInMemory()
	if _, err := s.ChangeFacilityStatus(context.Background(), "missing", StatusVerified, "", validator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNoOpTransitionStillLogged(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	f := newFacility(t, s)

	if _, err := s.ChangeFacilityStatus(ctx, f.ID, StatusSuspended, "first", validator); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ChangeFacilityStatus(ctx, f.ID, StatusSuspended, "again", ngo); err != nil {
		t.Fatal(err)
	}
	trail, _ := s.FacilityAuditTrail(ctx, f.ID)
	if len(trail) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(trail))
	}
	last := trail[1]
	if last.PreviousStatus != StatusSuspended || last.NewStatus != StatusSuspended {
		t.Fatalf("self-transition recorded %s -> %s", last.PreviousStatus, last.NewStatus)
	}
}

func TestAuditReplayReproducesStatus(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	f := newFacility(t, s)

	for _, target := range []string{StatusVerified, StatusSuspended, StatusRejected, StatusVerified} {
		if _, err := s.ChangeFacilityStatus(ctx, f.ID, target, "", validator); err != nil {
			t.Fatal(err)
		}
	}

	trail, _ := s.FacilityAuditTrail(ctx, f.ID)
	got, _ := s.GetFacility(ctx, f.ID)
	if replayed := ReplayStatus(trail); replayed != got.VerificationStatus {
		t.Fatalf("replay = %s, current = %s", replayed, got.VerificationStatus)
	}
}

func TestConcurrentStatusChangesChainCleanly(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	f := newFacility(t, s)

	targets := []string{StatusVerified, StatusRejected, StatusSuspended}
	var wg sync.WaitGroup
	N := 60
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.ChangeFacilityStatus(ctx, f.ID, targets[i%len(targets)], "", validator)
		}(i)
	}
	wg.Wait()

	trail, _ := s.FacilityAuditTrail(ctx, f.ID)
	if len(trail) != N {
		t.Fatalf("expected %d entries, got %d", N, len(trail))
	}
	// each entry must pick up exactly where the previous one left off
	prev := StatusPending
	for i, e := range trail {
		if e.PreviousStatus != prev {
			t.Fatalf("entry %d previous = %s, want %s (lost update)", i, e.PreviousStatus, prev)
		}
		prev = e.NewStatus
	}
	got, _ := s.GetFacility(ctx, f.ID)
	if got.VerificationStatus != prev {
		t.Fatalf("final status %s does not match trail tail %s", got.VerificationStatus, prev)
	}
}

func TestReviewDocumentApprove(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	f := newFacility(t, s)

	doc, err := s.CreateDocument(ctx, f.ID, "registration_certificate", "uploads/abc.pdf", "cert.pdf", admin)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Status != DocStatusPending {
		t.Fatalf("new document status = %s, want pending", doc.Status)
	}

	reviewed, err := s.ReviewDocument(ctx, doc.ID, DocStatusApproved, "", ngo)
	if err != nil {
		t.Fatalf("ReviewDocument: %v", err)
	}
	if reviewed.Status != DocStatusApproved {
		t.Fatalf("status = %s, want approved", reviewed.Status)
	}
	if reviewed.VerifiedBy == nil || *reviewed.VerifiedBy != ngo.ID {
		t.Fatalf("reviewer not recorded: %v", reviewed.VerifiedBy)
	}
	if reviewed.VerifiedAt == nil || time.Since(*reviewed.VerifiedAt) > time.Minute {
		t.Fatalf("review timestamp not recorded: %v", reviewed.VerifiedAt)
	}
	if reviewed.RejectionReason != nil {
		t.Fatalf("unexpected rejection reason: %v", *reviewed.RejectionReason)
	}
}

func TestReviewDocumentRejectKeepsReasonVerbatim(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	f := newFacility(t, s)
	doc, _ := s.CreateDocument(ctx, f.ID, "cac_registration", "uploads/x.png", "x.png", admin)

	reviewed, err := s.ReviewDocument(ctx, doc.ID, DocStatusRejected, "blurry scan", validator)
	if err != nil {
		t.Fatal(err)
	}
	if reviewed.Status != DocStatusRejected || reviewed.RejectionReason == nil || *reviewed.RejectionReason != "blurry scan" {
		t.Fatalf("rejection not recorded: %+v", reviewed)
	}

	// re-review is allowed and overwrites the earlier decision
	again, err := s.ReviewDocument(ctx, doc.ID, DocStatusApproved, "", ngo)
	if err != nil {
		t.Fatalf("re-review: %v", err)
	}
	if again.Status != DocStatusApproved || again.RejectionReason != nil {
		t.Fatalf("re-review did not overwrite: %+v", again)
	}
	if again.VerifiedBy == nil || *again.VerifiedBy != ngo.ID {
		t.Fatalf("reviewer not overwritten: %v", again.VerifiedBy)
	}
}

func TestReviewDocumentInvalidDecision(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	f := newFacility(t, s)
	doc, _ := s.CreateDocument(ctx, f.ID, "tax_clearance", "uploads/y.pdf", "y.pdf", admin)

	for _, decision := range []string{"pending", "verified", ""} {
		if _, err := s.ReviewDocument(ctx, doc.ID, decision, "", validator); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("decision %q: expected ErrInvalidTransition, got %v", decision, err)
		}
	}
	if _, err := s.ReviewDocument(ctx, doc.ID, DocStatusApproved, "", sponsor); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("sponsor review: expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateDocumentRequiresFacility(t *testing.T) {
	s := NewInMemory()
	if _, err := s.CreateDocument(context.Background(), "missing", "cert", "uploads/z.pdf", "z.pdf", admin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPendingDocumentsOldestFirst(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	f := newFacility(t, s)

	first, _ := s.CreateDocument(ctx, f.ID, "cert", "uploads/1.pdf", "1.pdf", admin)
	s.mu.Lock()
	s.documents[first.ID].UploadedAt = time.Now().UTC().Add(-time.Hour)
	s.mu.Unlock()
	second, _ := s.CreateDocument(ctx, f.ID, "cert", "uploads/2.pdf", "2.pdf", admin)
	third, _ := s.CreateDocument(ctx, f.ID, "cert", "uploads/3.pdf", "3.pdf", admin)
	if _, err := s.ReviewDocument(ctx, third.ID, DocStatusApproved, "", validator); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListPendingDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending documents, got %d", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("pending not ordered oldest first: %s, %s", pending[0].ID, pending[1].ID)
	}
	if pending[0].FacilityName != "Hope Haven" || pending[0].LGA != "Ikeja" {
		t.Fatalf("facility fields not joined: %+v", pending[0])
	}
}

func TestStatsOverviewBucketsSumToTotal(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	cap1, cap2 := 40, 25
	mk := func(lga string, capacity *int, children int) Facility {
		f, err := s.CreateFacility(ctx, CreateFacilityInput{Name: "F", LGA: lga, Capacity: capacity, CurrentChildren: children}, admin)
		if err != nil {
			t.Fatal(err)
		}
		return f
	}
	a := mk("Ikeja", &cap1, 30)
	b := mk("Ikeja", &cap2, 12)
	c := mk("Epe", nil, 5)
	mk("Badagry", nil, 0)

	for _, id := range []string{a.ID, b.ID, c.ID} {
		if _, err := s.ChangeFacilityStatus(ctx, id, StatusVerified, "", validator); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.ChangeFacilityStatus(ctx, c.ID, StatusSuspended, "", validator); err != nil {
		t.Fatal(err)
	}

	stats, err := s.StatsOverview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	o := stats.Overview
	if o.TotalFacilities != 4 {
		t.Fatalf("total = %d, want 4", o.TotalFacilities)
	}
	if sum := o.Verified + o.Pending + o.Rejected + o.Suspended; sum != o.TotalFacilities {
		t.Fatalf("buckets sum to %d, total is %d", sum, o.TotalFacilities)
	}
	if o.TotalCapacity != 65 || o.TotalChildren != 47 {
		t.Fatalf("capacity/children = %d/%d, want 65/47", o.TotalCapacity, o.TotalChildren)
	}
	if len(stats.LGADistribution) != 1 || stats.LGADistribution[0].LGA != "Ikeja" || stats.LGADistribution[0].Count != 2 {
		t.Fatalf("distribution should cover verified facilities only: %+v", stats.LGADistribution)
	}
}

func TestListFacilitiesFilters(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	f1, _ := s.CreateFacility(ctx, CreateFacilityInput{Name: "A", LGA: "Ikeja"}, admin)
	s.CreateFacility(ctx, CreateFacilityInput{Name: "B", LGA: "Epe"}, admin)
	if _, err := s.ChangeFacilityStatus(ctx, f1.ID, StatusVerified, "", validator); err != nil {
		t.Fatal(err)
	}

	byLGA, _ := s.ListFacilities(ctx, FacilityFilter{LGA: "Ikeja"})
	if len(byLGA) != 1 || byLGA[0].ID != f1.ID {
		t.Fatalf("lga filter: %+v", byLGA)
	}
	byStatus, _ := s.ListFacilities(ctx, FacilityFilter{Status: StatusPending})
	if len(byStatus) != 1 || byStatus[0].Name != "B" {
		t.Fatalf("status filter: %+v", byStatus)
	}
}
