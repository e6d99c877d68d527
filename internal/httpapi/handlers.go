package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"aicomplyr.io/identity/internal/identity"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type switchRequest struct {
	ContextID  string `json:"contextId"`
	TargetType string `json:"targetType,omitempty"`
}

type createPartnerContextRequest struct {
	PartnerEnterpriseID string `json:"partnerEnterpriseId"`
	ClientEnterpriseID  string `json:"clientEnterpriseId"`
	Role                string `json:"role,omitempty"`
}

type createEnterpriseRequest struct {
	Name             string         `json:"name"`
	Slug             string         `json:"slug"`
	Type             string         `json:"type"`
	SubscriptionTier string         `json:"subscriptionTier,omitempty"`
	Settings         map[string]any `json:"settings,omitempty"`
}

type createSeatRequest struct {
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description,omitempty"`
	SeatType    string         `json:"seatType,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
}

type createRelationshipRequest struct {
	PartnerEnterpriseID string `json:"partnerEnterpriseId"`
	ClientEnterpriseID  string `json:"clientEnterpriseId"`
	RelationshipType    string `json:"relationshipType,omitempty"`
	RiskLevel           string `json:"riskLevel,omitempty"`
}

type updateRelationshipStatusRequest struct {
	Status string `json:"status"`
}

// ensurePermission consults the permission resolver and writes 403 on denial.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, claims *identity.Claims, resource, action string) bool {
	ok, err := a.perms.Check(r.Context(), claims, resource, action, "")
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "permission check failed")
		return false
	}
	if !ok {
		writeError(w, r, http.StatusForbidden, "insufficient permissions")
		return false
	}
	return true
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.resolver.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleContexts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	list, err := a.resolver.ListContexts(r.Context(), claims.UserID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleDefaultContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	c, err := a.resolver.DefaultContext(r.Context(), claims.UserID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	var req switchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ContextID) == "" {
		writeError(w, r, http.StatusBadRequest, "contextId is required")
		return
	}
	result, err := a.resolver.SwitchContext(r.Context(), claims.UserID, req.ContextID, req.TargetType)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handlePartnerContexts(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		partnerID := r.URL.Query().Get("partnerEnterpriseId")
		if partnerID == "" {
			partnerID = claims.PartnerEnterpriseID
		}
		if partnerID == "" {
			writeError(w, r, http.StatusBadRequest, "partnerEnterpriseId is required")
			return
		}
		contexts, err := a.resolver.PartnerClientContexts(r.Context(), claims.UserID, partnerID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"contexts": contexts})
	case http.MethodPost:
		var req createPartnerContextRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.PartnerEnterpriseID == "" || req.ClientEnterpriseID == "" {
			writeError(w, r, http.StatusBadRequest, "partnerEnterpriseId and clientEnterpriseId are required")
			return
		}
		pc, err := a.resolver.CreatePartnerClientContext(r.Context(), claims.UserID, req.PartnerEnterpriseID, req.ClientEnterpriseID, req.Role, nil)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, pc)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePartnerContextResource(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/contexts/partner/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.resolver.RemovePartnerClientContext(r.Context(), claims.UserID, id); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEnterprises(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	var req createEnterpriseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	e := &identity.Enterprise{
		Name:             req.Name,
		Slug:             req.Slug,
		Type:             req.Type,
		SubscriptionTier: req.SubscriptionTier,
		Settings:         req.Settings,
	}
	if err := a.resolver.CreateEnterprise(r.Context(), e, claims.UserID); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/enterprises/"+e.ID)
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) handleEnterpriseScoped(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/enterprises/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "seats" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	enterpriseID := parts[0]
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, claims, "agency_seats", "manage") {
		return
	}
	var req createSeatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	seat := &identity.AgencySeat{
		EnterpriseID: enterpriseID,
		Name:         req.Name,
		Slug:         req.Slug,
		Description:  req.Description,
		SeatType:     req.SeatType,
		Settings:     req.Settings,
	}
	if err := a.resolver.CreateAgencySeat(r.Context(), seat, claims.UserID); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, seat)
}

func (a *API) handleRelationships(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	if !a.ensurePermission(w, r, claims, "relationships", "manage") {
		return
	}
	var req createRelationshipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rel := &identity.PartnerRelationship{
		PartnerEnterpriseID: req.PartnerEnterpriseID,
		ClientEnterpriseID:  req.ClientEnterpriseID,
		RelationshipType:    req.RelationshipType,
		RiskLevel:           req.RiskLevel,
	}
	if err := a.resolver.CreateRelationship(r.Context(), rel); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (a *API) handleRelationshipResource(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/relationships/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "status" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, claims, "relationships", "manage") {
		return
	}
	var req updateRelationshipStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.resolver.UpdateRelationshipStatus(r.Context(), parts[0], identity.RelationshipStatus(req.Status)); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleScreens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	screens := a.matrix.ScreensForRole(claims.Role)
	if kind := r.URL.Query().Get("contextType"); kind != "" {
		byKind := make(map[string]bool)
		for _, s := range a.matrix.ScreensForContextType(identity.ContextKind(kind)) {
			byKind[s] = true
		}
		filtered := screens[:0]
		for _, s := range screens {
			if byKind[s] {
				filtered = append(filtered, s)
			}
		}
		screens = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"screens": screens})
}

func (a *API) handleScreenAccess(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/screens/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "access" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	decision, err := a.guard.Authorize(r.Context(), claims, parts[0])
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "screen access check failed")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	userID := claims.UserID
	if requested := r.URL.Query().Get("userId"); requested != "" && requested != claims.UserID {
		// Only platform admins may read another user's trail.
		if claims.Role != identity.RoleSuperAdmin {
			writeError(w, r, http.StatusForbidden, "access denied")
			return
		}
		userID = requested
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := a.resolver.AuditLog(r.Context(), userID, limit)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
