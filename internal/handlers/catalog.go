package handlers

import (
	"net/http"
	"strings"

	"formation-booking/internal/logger"
	"formation-booking/internal/models"

	"github.com/google/uuid"
)

// CatalogHandler отдаёт предложения, участников и расчёт цены
type CatalogHandler struct {
	catalog CatalogService
	pricing PricingService
	log     *logger.Logger
}

// NewCatalogHandler создает обработчик каталога
func NewCatalogHandler(catalog CatalogService, pricing PricingService, log *logger.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, pricing: pricing, log: log}
}

// ListOfferings возвращает предложения, опционально одного вида
func (h *CatalogHandler) ListOfferings(w http.ResponseWriter, r *http.Request) {
	var kind *models.OfferingKind
	switch k := models.OfferingKind(r.URL.Query().Get("kind")); k {
	case "":
	case models.OfferingKindFormation, models.OfferingKindSessionEvent:
		kind = &k
	default:
		writeErrorResponse(w, http.StatusBadRequest, "Invalid offering kind")
		return
	}

	limit, offset := parsePagination(r)
	offerings, err := h.catalog.ListOfferings(r.Context(), kind, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list offerings")
		return
	}

	writeJSONResponse(w, http.StatusOK, offerings)
}

// Participants возвращает записанных на предложение пользователей
func (h *CatalogHandler) Participants(w http.ResponseWriter, r *http.Request) {
	offeringID, err := uuidParam(r, "offeringID")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid offering ID")
		return
	}

	participants, err := h.catalog.Participants(r.Context(), offeringID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list participants")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"offering_id":  offeringID,
		"participants": participants,
	})
}

// Quote рассчитывает цену предложения с купоном без его расходования
func (h *CatalogHandler) Quote(w http.ResponseWriter, r *http.Request) {
	offeringID, err := uuid.Parse(r.URL.Query().Get("offering_id"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid offering ID")
		return
	}

	quote, err := h.pricing.QuoteOffering(r.Context(), offeringID, strings.TrimSpace(r.URL.Query().Get("coupon_code")))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to quote offering")
		return
	}

	writeJSONResponse(w, http.StatusOK, quote)
}
