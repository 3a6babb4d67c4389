package httpapi

import (
	"net/http"
	"strings"
	"time"

	"havenregistry.org/internal/audit"
	"havenregistry.org/internal/obs"
	"havenregistry.org/internal/registry"
)

type verifyFacilityRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type listFacilitiesResponse struct {
	Count      int                 `json:"count"`
	Facilities []registry.Facility `json:"facilities"`
}

type facilityDetailResponse struct {
	Facility  registry.Facility   `json:"facility"`
	Documents []registry.Document `json:"documents"`
}

func (a *API) handleFacilitiesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listFacilities(w, r)
	case http.MethodPost:
		a.createFacility(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleFacilityResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/facilities/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getFacility(w, r, id)
	case len(parts) == 2 && parts[1] == "verify":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		a.verifyFacility(w, r, id)
	case len(parts) == 2 && parts[1] == "documents":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listFacilityDocuments(w, r, id)
	case len(parts) == 2 && parts[1] == "audit":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.facilityAuditTrail(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listFacilities(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 50, 1, 200)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter := registry.FacilityFilter{
		LGA:    strings.TrimSpace(r.URL.Query().Get("lga")),
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:  limit,
	}

	items, err := a.registry.ListFacilities(r.Context(), filter)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	if items == nil {
		items = []registry.Facility{}
	}
	writeJSON(w, http.StatusOK, listFacilitiesResponse{Count: len(items), Facilities: items})
}

func (a *API) createFacility(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var input registry.CreateFacilityInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	facility, err := a.registry.CreateFacility(r.Context(), input, actor)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "facility.create", map[string]any{
		"facility_id": facility.ID,
		"name":        facility.Name,
		"lga":         facility.LGA,
	})

	w.Header().Set("Location", "/v1/facilities/"+facility.ID)
	writeJSON(w, http.StatusCreated, facility)
}

func (a *API) getFacility(w http.ResponseWriter, r *http.Request, id string) {
	facility, err := a.registry.GetFacility(r.Context(), id)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	docs, err := a.registry.ListFacilityDocuments(r.Context(), id)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	if docs == nil {
		docs = []registry.Document{}
	}
	writeJSON(w, http.StatusOK, facilityDetailResponse{Facility: facility, Documents: docs})
}

func (a *API) verifyFacility(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req verifyFacilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	facility, err := a.registry.ChangeFacilityStatus(r.Context(), id, req.Status, req.Notes, actor)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}

	obs.CountVerification(facility.VerificationStatus)
	_ = audit.LogEvent(r.Context(), "facility.verify", map[string]any{
		"facility_id": facility.ID,
		"status":      facility.VerificationStatus,
	})

	writeJSON(w, http.StatusOK, facility)
}

func (a *API) listFacilityDocuments(w http.ResponseWriter, r *http.Request, id string) {
	docs, err := a.registry.ListFacilityDocuments(r.Context(), id)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	if docs == nil {
		docs = []registry.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (a *API) facilityAuditTrail(w http.ResponseWriter, r *http.Request, id string) {
	trail, err := a.registry.FacilityAuditTrail(r.Context(), id)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	if trail == nil {
		trail = []registry.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": trail})
}

func (a *API) handleStatsOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	stats, err := a.registry.StatsOverview(r.Context())
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	if stats.LGADistribution == nil {
		stats.LGADistribution = []registry.LGACount{}
	}
	writeJSON(w, http.StatusOK, struct {
		registry.Stats
		AsOf time.Time `json:"as_of"`
	}{Stats: stats, AsOf: time.Now().UTC()})
}
