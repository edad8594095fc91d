// Audit HTTP handler.
//
// GET /audit pages through the append-only audit trail, newest first,
// optionally filtered to one identity.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-entitlements/internal/domain"
)

// ListAuditResponse wraps a page of audit entries and pagination information.
type ListAuditResponse struct {
	Entries    []domain.AuditLogEntry `json:"entries"`
	Pagination Pagination             `json:"pagination"`
}

// ListAudit godoc
// @ID          listAudit
// @Summary     List audit entries (paginated)
// @Tags        Audit
// @Produce     json
// @Security    SharedSecret
//
// @Param       identity_id  query  string  false  "Only entries for this identity"
// @Param       page         query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size    query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListAuditResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid shared secret"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /audit [get]
func (h *Handlers) ListAudit(c *gin.Context) {
	page, pageSize := clampPagination(c)
	identityID := strings.TrimSpace(c.Query("identity_id"))

	items, total, err := h.auditSvc.ListPage(c.Request.Context(), identityID, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.AuditLogEntry{}
	}
	ok(c, http.StatusOK, ListAuditResponse{
		Entries:    items,
		Pagination: newPagination(page, pageSize, total),
	})
}
