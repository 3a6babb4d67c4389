package httpapi

import (
	"net/http"
	"strings"

	"havenregistry.org/internal/audit"
	"havenregistry.org/internal/auth"
	"havenregistry.org/internal/files"
	"havenregistry.org/internal/obs"
	"havenregistry.org/internal/registry"
)

type reviewDocumentRequest struct {
	Status          string `json:"status"`
	RejectionReason string `json:"rejection_reason"`
}

// handleDocumentUpload accepts a multipart form: "document" file field plus
// facility_id and document_type. The file subsystem validates and stores the
// binary before any Document record is created.
func (a *API) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	// authorization runs before the binary is read or persisted, so a denied
	// principal never leaves an orphaned object in the file store
	if !actor.Can(auth.ActionDocumentUpload) {
		handleRegistryError(w, r, auth.ErrUnauthorized)
		return
	}

	// cap the whole form slightly above the file ceiling for field overhead
	r.Body = http.MaxBytesReader(w, r.Body, files.MaxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(files.MaxUploadSize); err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}

	facilityID := strings.TrimSpace(r.FormValue("facility_id"))
	docType := strings.TrimSpace(r.FormValue("document_type"))
	if facilityID == "" || docType == "" {
		writeError(w, r, http.StatusBadRequest, "facility_id and document_type are required")
		return
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "document file is required")
		return
	}
	defer file.Close()

	// the facility must exist before the binary is persisted
	if _, err := a.registry.GetFacility(r.Context(), facilityID); err != nil {
		handleRegistryError(w, r, err)
		return
	}

	ref, err := a.files.Save(r.Context(), header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}

	doc, err := a.registry.CreateDocument(r.Context(), facilityID, docType, ref, header.Filename, actor)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "document.upload", map[string]any{
		"document_id":   doc.ID,
		"facility_id":   facilityID,
		"document_type": docType,
	})

	w.Header().Set("Location", "/v1/documents/"+doc.ID)
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) handlePendingDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	// the review queue is for validator roles only
	if !actor.Can(auth.ActionDocumentReview) {
		handleRegistryError(w, r, auth.ErrUnauthorized)
		return
	}

	pending, err := a.registry.ListPendingDocuments(r.Context())
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	if pending == nil {
		pending = []registry.PendingDocument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_documents": pending})
}

func (a *API) handleDocumentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/documents/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "verify" || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	a.reviewDocument(w, r, parts[0])
}

func (a *API) reviewDocument(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req reviewDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := a.registry.ReviewDocument(r.Context(), id, req.Status, req.RejectionReason, actor)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}

	obs.CountDocumentReview(doc.Status)
	_ = audit.LogEvent(r.Context(), "document.review", map[string]any{
		"document_id": doc.ID,
		"decision":    doc.Status,
	})

	writeJSON(w, http.StatusOK, doc)
}
