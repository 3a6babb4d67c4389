package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"havenregistry.org/internal/auth"
	"havenregistry.org/internal/ids"
	"havenregistry.org/internal/registry"
)

// Store implements registry.Service on PostgreSQL. A facility status change
// and its audit entry are written in one transaction holding a row lock on
// the facility, so concurrent transitions against the same facility serialize
// while distinct facilities proceed independently.
type Store struct {
	db *sql.DB
}

var _ registry.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests and cmd wiring.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const facilityColumns = `id, name, registration_number, lga, address, latitude, longitude,
	capacity, current_children, contact_person, contact_email, contact_phone,
	year_established, description, admin_user_id, verification_status, created_at, updated_at`

func (s *Store) CreateFacility(ctx context.Context, input registry.CreateFacilityInput, actor auth.Principal) (registry.Facility, error) {
	if !actor.Can(auth.ActionFacilityCreate) {
		return registry.Facility{}, auth.ErrUnauthorized
	}
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.LGA) == "" {
		return registry.Facility{}, fmt.Errorf("%w: name and lga are required", registry.ErrInvalidInput)
	}
	if input.Capacity != nil && *input.Capacity < 0 {
		return registry.Facility{}, fmt.Errorf("%w: capacity must be >= 0", registry.ErrInvalidInput)
	}
	if input.CurrentChildren < 0 {
		return registry.Facility{}, fmt.Errorf("%w: current_children must be >= 0", registry.ErrInvalidInput)
	}

	id := ids.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into facilities(
			id, name, registration_number, lga, address, latitude, longitude,
			capacity, current_children, contact_person, contact_email, contact_phone,
			year_established, description, admin_user_id, verification_status, created_at, updated_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
	`,
		id,
		strings.TrimSpace(input.Name),
		strings.TrimSpace(input.RegistrationNumber),
		strings.TrimSpace(input.LGA),
		strings.TrimSpace(input.Address),
		input.Latitude,
		input.Longitude,
		input.Capacity,
		input.CurrentChildren,
		strings.TrimSpace(input.ContactPerson),
		strings.TrimSpace(input.ContactEmail),
		strings.TrimSpace(input.ContactPhone),
		input.YearEstablished,
		strings.TrimSpace(input.Description),
		actor.ID,
		registry.StatusPending,
		now,
	)
	if err != nil {
		return registry.Facility{}, storeErr(err)
	}
	return s.GetFacility(ctx, id)
}

func (s *Store) GetFacility(ctx context.Context, id string) (registry.Facility, error) {
	row := s.db.QueryRowContext(ctx, `select `+facilityColumns+` from facilities where id=$1`, id)
	f, err := scanFacility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Facility{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Facility{}, storeErr(err)
	}
	return f, nil
}

func (s *Store) ListFacilities(ctx context.Context, filter registry.FacilityFilter) ([]registry.Facility, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `select ` + facilityColumns + ` from facilities where 1=1`
	args := []any{}
	if filter.LGA != "" {
		args = append(args, filter.LGA)
		query += fmt.Sprintf(" and lga=$%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" and verification_status=$%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" order by created_at desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var res []registry.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (s *Store) ChangeFacilityStatus(ctx context.Context, facilityID, target, notes string, actor auth.Principal) (registry.Facility, error) {
	if !actor.Can(auth.ActionFacilityVerify) {
		return registry.Facility{}, auth.ErrUnauthorized
	}
	if !registry.IsVerificationTarget(target) {
		return registry.Facility{}, fmt.Errorf("%w: %q is not an accepted target status", registry.ErrInvalidTransition, target)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registry.Facility{}, storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the facility row so the previous status we record is the value
	// actually overwritten.
	var previous string
	err = tx.QueryRowContext(ctx, `select verification_status from facilities where id=$1 for update`, facilityID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Facility{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Facility{}, storeErr(err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `update facilities set verification_status=$1, updated_at=$2 where id=$3`,
		target, now, facilityID); err != nil {
		return registry.Facility{}, storeErr(err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into verification_logs(id, facility_id, actor_id, action, previous_status, new_status, notes, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ids.New(), facilityID, actor.ID, registry.ActionStatusChange, previous, target, notes, now); err != nil {
		return registry.Facility{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return registry.Facility{}, storeErr(err)
	}

	return s.GetFacility(ctx, facilityID)
}

func (s *Store) FacilityAuditTrail(ctx context.Context, facilityID string) ([]registry.AuditLogEntry, error) {
	if _, err := s.GetFacility(ctx, facilityID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, facility_id, actor_id, action, previous_status, new_status, coalesce(notes,''), created_at
		from verification_logs
		where facility_id=$1
		order by created_at asc, id asc
	`, facilityID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var res []registry.AuditLogEntry
	for rows.Next() {
		var e registry.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.FacilityID, &e.ActorID, &e.Action, &e.PreviousStatus, &e.NewStatus, &e.Notes, &e.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *Store) CreateDocument(ctx context.Context, facilityID, docType, fileRef, fileName string, actor auth.Principal) (registry.Document, error) {
	if !actor.Can(auth.ActionDocumentUpload) {
		return registry.Document{}, auth.ErrUnauthorized
	}
	docType = strings.TrimSpace(docType)
	if facilityID == "" || docType == "" || fileRef == "" {
		return registry.Document{}, fmt.Errorf("%w: facility_id, document_type and file reference are required", registry.ErrInvalidInput)
	}
	if _, err := s.GetFacility(ctx, facilityID); err != nil {
		return registry.Document{}, err
	}

	id := ids.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		insert into verification_documents(id, facility_id, document_type, file_ref, file_name, status, uploaded_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, id, facilityID, docType, fileRef, fileName, registry.DocStatusPending, now)
	if err != nil {
		return registry.Document{}, storeErr(err)
	}
	return registry.Document{
		ID:           id,
		FacilityID:   facilityID,
		DocumentType: docType,
		FileRef:      fileRef,
		FileName:     fileName,
		Status:       registry.DocStatusPending,
		UploadedAt:   now,
	}, nil
}

func (s *Store) ReviewDocument(ctx context.Context, documentID, decision, reason string, actor auth.Principal) (registry.Document, error) {
	if !actor.Can(auth.ActionDocumentReview) {
		return registry.Document{}, auth.ErrUnauthorized
	}
	if !registry.IsReviewDecision(decision) {
		return registry.Document{}, fmt.Errorf("%w: %q is not an accepted decision", registry.ErrInvalidTransition, decision)
	}

	var storedReason any
	if strings.TrimSpace(reason) != "" {
		storedReason = reason
	}
	row := s.db.QueryRowContext(ctx, `
		update verification_documents
		set status=$1, verified_by=$2, verified_at=$3, rejection_reason=$4
		where id=$5
		returning id, facility_id, document_type, file_ref, file_name, status, verified_by, verified_at, rejection_reason, uploaded_at
	`, decision, actor.ID, time.Now().UTC(), storedReason, documentID)

	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Document{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Document{}, storeErr(err)
	}
	return d, nil
}

func (s *Store) ListFacilityDocuments(ctx context.Context, facilityID string) ([]registry.Document, error) {
	if _, err := s.GetFacility(ctx, facilityID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, facility_id, document_type, file_ref, file_name, status, verified_by, verified_at, rejection_reason, uploaded_at
		from verification_documents
		where facility_id=$1
		order by uploaded_at desc
	`, facilityID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var res []registry.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *Store) ListPendingDocuments(ctx context.Context) ([]registry.PendingDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		select d.id, d.facility_id, d.document_type, d.file_ref, d.file_name, d.status,
			d.verified_by, d.verified_at, d.rejection_reason, d.uploaded_at,
			f.name, f.lga
		from verification_documents d
		join facilities f on f.id = d.facility_id
		where d.status=$1
		order by d.uploaded_at asc
	`, registry.DocStatusPending)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var res []registry.PendingDocument
	for rows.Next() {
		var p registry.PendingDocument
		var verifiedBy sql.NullString
		var verifiedAt sql.NullTime
		var reason sql.NullString
		if err := rows.Scan(&p.ID, &p.FacilityID, &p.DocumentType, &p.FileRef, &p.FileName, &p.Status,
			&verifiedBy, &verifiedAt, &reason, &p.UploadedAt, &p.FacilityName, &p.LGA); err != nil {
			return nil, storeErr(err)
		}
		applyNullables(&p.Document, verifiedBy, verifiedAt, reason)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *Store) StatsOverview(ctx context.Context) (registry.Stats, error) {
	var stats registry.Stats
	err := s.db.QueryRowContext(ctx, `
		select
			count(*),
			count(*) filter (where verification_status = 'verified'),
			count(*) filter (where verification_status = 'pending'),
			count(*) filter (where verification_status = 'rejected'),
			count(*) filter (where verification_status = 'suspended'),
			coalesce(sum(capacity), 0),
			coalesce(sum(current_children), 0)
		from facilities
	`).Scan(
		&stats.Overview.TotalFacilities,
		&stats.Overview.Verified,
		&stats.Overview.Pending,
		&stats.Overview.Rejected,
		&stats.Overview.Suspended,
		&stats.Overview.TotalCapacity,
		&stats.Overview.TotalChildren,
	)
	if err != nil {
		return registry.Stats{}, storeErr(err)
	}

	rows, err := s.db.QueryContext(ctx, `
		select lga, count(*)
		from facilities
		where verification_status = 'verified'
		group by lga
		order by count(*) desc, lga asc
	`)
	if err != nil {
		return registry.Stats{}, storeErr(err)
	}
	defer rows.Close()

	stats.LGADistribution = []registry.LGACount{}
	for rows.Next() {
		var c registry.LGACount
		if err := rows.Scan(&c.LGA, &c.Count); err != nil {
			return registry.Stats{}, storeErr(err)
		}
		stats.LGADistribution = append(stats.LGADistribution, c)
	}
	return stats, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFacility(row rowScanner) (registry.Facility, error) {
	var f registry.Facility
	var regNumber, address, contactPerson, contactEmail, contactPhone, description sql.NullString
	var lat, lon sql.NullFloat64
	var capacity, year sql.NullInt64
	err := row.Scan(
		&f.ID, &f.Name, &regNumber, &f.LGA, &address, &lat, &lon,
		&capacity, &f.CurrentChildren, &contactPerson, &contactEmail, &contactPhone,
		&year, &description, &f.AdminUserID, &f.VerificationStatus, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return registry.Facility{}, err
	}
	f.RegistrationNumber = regNumber.String
	f.Address = address.String
	f.ContactPerson = contactPerson.String
	f.ContactEmail = contactEmail.String
	f.ContactPhone = contactPhone.String
	f.Description = description.String
	if lat.Valid {
		v := lat.Float64
		f.Latitude = &v
	}
	if lon.Valid {
		v := lon.Float64
		f.Longitude = &v
	}
	if capacity.Valid {
		v := int(capacity.Int64)
		f.Capacity = &v
	}
	if year.Valid {
		v := int(year.Int64)
		f.YearEstablished = &v
	}
	return f, nil
}

func scanDocument(row rowScanner) (registry.Document, error) {
	var d registry.Document
	var verifiedBy sql.NullString
	var verifiedAt sql.NullTime
	var reason sql.NullString
	err := row.Scan(&d.ID, &d.FacilityID, &d.DocumentType, &d.FileRef, &d.FileName, &d.Status,
		&verifiedBy, &verifiedAt, &reason, &d.UploadedAt)
	if err != nil {
		return registry.Document{}, err
	}
	applyNullables(&d, verifiedBy, verifiedAt, reason)
	return d, nil
}

func applyNullables(d *registry.Document, verifiedBy sql.NullString, verifiedAt sql.NullTime, reason sql.NullString) {
	if verifiedBy.Valid {
		v := verifiedBy.String
		d.VerifiedBy = &v
	}
	if verifiedAt.Valid {
		v := verifiedAt.Time.UTC()
		d.VerifiedAt = &v
	}
	if reason.Valid {
		v := reason.String
		d.RejectionReason = &v
	}
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", registry.ErrStoreUnavailable, err)
}
