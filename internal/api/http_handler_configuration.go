package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/shopspring/decimal"

	"product-configurator-service/internal/domain"
	"product-configurator-service/internal/pricing"
	"product-configurator-service/internal/store"
)

// --- Configuration Handlers ---

// ConfigurationCreateInput defines the expected input for creating a
// configuration. CustomerRef is supplied by the identity collaborator; this
// service never authenticates.
type ConfigurationCreateInput struct {
	CategoryID           int64            `json:"category_id" validate:"required,gt=0"`
	CustomerRef          string           `json:"customer_ref" validate:"required,max=255"`
	BasePrice            *decimal.Decimal `json:"base_price"`
	DerivedTechnicalData *json.RawMessage `json:"derived_technical_data,omitempty"`
}

func (h *HTTPHandler) CreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var input ConfigurationCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	basePrice := decimal.Zero
	if input.BasePrice != nil {
		if input.BasePrice.IsNegative() {
			respondWithError(w, http.StatusBadRequest, "base_price cannot be negative")
			return
		}
		basePrice = *input.BasePrice
	}

	cfg := &domain.Configuration{
		CategoryID:           input.CategoryID,
		CustomerRef:          input.CustomerRef,
		Status:               domain.StatusDraft,
		BasePrice:            basePrice,
		DerivedTechnicalData: input.DerivedTechnicalData,
	}

	created, err := h.configStore.CreateConfiguration(r.Context(), cfg)
	if err != nil {
		log.Printf("ERROR: CreateConfiguration store operation failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create configuration")
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	configurationID, ok := parseIDParam(r, "configurationId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid configuration ID format")
		return
	}

	cfg, err := h.configStore.GetConfigurationByID(r.Context(), configurationID)
	if err != nil {
		log.Printf("ERROR: GetConfiguration store operation for ID %d failed: %v", configurationID, err)
		if errors.Is(err, store.ErrConfigurationNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrConfigurationNotFound.Error())
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to retrieve configuration")
		}
		return
	}

	selections, err := h.configStore.GetSelections(r.Context(), configurationID)
	if err != nil {
		log.Printf("ERROR: GetSelections store operation for ID %d failed: %v", configurationID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve selections")
		return
	}

	response := struct {
		Configuration *domain.Configuration           `json:"configuration"`
		Selections    []domain.ConfigurationSelection `json:"selections"`
	}{
		Configuration: cfg,
		Selections:    selections,
	}
	respondWithJSON(w, http.StatusOK, response)
}

// SelectionsReplaceInput defines the expected input for replacing a
// configuration's entire selection set. There is no partial-update variant:
// the selection set is a value object, replaced as a whole.
type SelectionsReplaceInput struct {
	Selections []pricing.SelectionInput `json:"selections" validate:"required,dive"`
}

func (h *HTTPHandler) ReplaceSelections(w http.ResponseWriter, r *http.Request) {
	configurationID, ok := parseIDParam(r, "configurationId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid configuration ID format")
		return
	}

	var input SelectionsReplaceInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	totals, verrs, err := h.engine.ReplaceSelections(r.Context(), configurationID, input.Selections)
	if err != nil {
		log.Printf("ERROR: ReplaceSelections for configuration %d failed: %v", configurationID, err)
		switch {
		case errors.Is(err, store.ErrConfigurationNotFound):
			respondWithError(w, http.StatusNotFound, store.ErrConfigurationNotFound.Error())
		case errors.Is(err, store.ErrDuplicateSelection):
			respondWithError(w, http.StatusConflict, store.ErrDuplicateSelection.Error())
		default:
			respondWithError(w, http.StatusInternalServerError, "Failed to replace selections")
		}
		return
	}
	if len(verrs) > 0 {
		// Validation failures are expected data, not server faults: render
		// the field->message map back for the form to display.
		respondWithJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Selection validation failed",
			Details: verrs,
		})
		return
	}

	respondWithJSON(w, http.StatusOK, totals)
}

// StatusUpdateInput defines the expected input for advancing a
// configuration's status.
type StatusUpdateInput struct {
	Status string `json:"status" validate:"required"`
}

func (h *HTTPHandler) UpdateConfigurationStatus(w http.ResponseWriter, r *http.Request) {
	configurationID, ok := parseIDParam(r, "configurationId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid configuration ID format")
		return
	}

	var input StatusUpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	status := domain.ConfigurationStatus(input.Status)
	if !domain.ValidStatus(status) {
		respondWithError(w, http.StatusBadRequest, "Invalid status value")
		return
	}

	updated, err := h.configStore.UpdateStatus(r.Context(), configurationID, status)
	if err != nil {
		log.Printf("ERROR: UpdateStatus for configuration %d failed: %v", configurationID, err)
		switch {
		case errors.Is(err, store.ErrConfigurationNotFound):
			respondWithError(w, http.StatusNotFound, store.ErrConfigurationNotFound.Error())
		case errors.Is(err, store.ErrInvalidStatusTransition):
			respondWithError(w, http.StatusConflict, store.ErrInvalidStatusTransition.Error())
		default:
			respondWithError(w, http.StatusInternalServerError, "Failed to update status")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}

// --- Quote Handlers ---

func (h *HTTPHandler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	configurationID, ok := parseIDParam(r, "configurationId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid configuration ID format")
		return
	}

	snapshot, err := h.snapshotStore.CreateSnapshot(r.Context(), configurationID)
	if err != nil {
		log.Printf("ERROR: CreateSnapshot for configuration %d failed: %v", configurationID, err)
		if errors.Is(err, store.ErrConfigurationNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrConfigurationNotFound.Error())
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to create quote snapshot")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, snapshot)
}

func (h *HTTPHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := parseIDParam(r, "quoteId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid quote ID format")
		return
	}

	snapshot, err := h.snapshotStore.GetSnapshotByID(r.Context(), quoteID)
	if err != nil {
		log.Printf("ERROR: GetSnapshotByID for quote %d failed: %v", quoteID, err)
		if errors.Is(err, store.ErrSnapshotNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrSnapshotNotFound.Error())
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to retrieve quote")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, snapshot)
}

func (h *HTTPHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	configurationID, ok := parseIDParam(r, "configurationId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid configuration ID format")
		return
	}

	snapshots, err := h.snapshotStore.ListSnapshots(r.Context(), configurationID)
	if err != nil {
		log.Printf("ERROR: ListSnapshots for configuration %d failed: %v", configurationID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve quotes")
		return
	}

	respondWithJSON(w, http.StatusOK, snapshots)
}
