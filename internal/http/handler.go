package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"DecentCredit/internal/models"
	"DecentCredit/internal/services"
	"DecentCredit/internal/settlement"

	"github.com/go-chi/chi/v5"
)

const institutionHeader = "X-Institution-Id"

// Request body caps. Batch submissions carry up to the batch limit of records.
const (
	maxBodyBytes      = 1 << 20
	maxBatchBodyBytes = 8 << 20
)

type Handler struct {
	Records  *services.RecordService
	Receipts *settlement.Receipts
	Stats    *settlement.Stats
}

type submitRecordRequest struct {
	RecordType models.RecordType    `json:"record_type"`
	SubjectID  string               `json:"subject_id"`
	EventDate  string               `json:"event_date"`
	Content    models.RecordContent `json:"content"`
}

type submitBatchRequest struct {
	Records []submitRecordRequest `json:"records"`
}

type verifyBatchRequest struct {
	RecordIDs []string `json:"record_ids"`
}

type verifyResponse struct {
	RecordID  string `json:"record_id"`
	Confirmed bool   `json:"confirmed"`
}

type errorResponse struct {
	Error     string              `json:"error"`
	Code      int                 `json:"code,omitempty"`
	RecordID  string              `json:"record_id,omitempty"`
	Status    models.RecordStatus `json:"status,omitempty"`
	Retryable bool                `json:"retryable,omitempty"`
}

func NewHandler(records *services.RecordService, worker *settlement.Worker) *Handler {
	h := &Handler{Records: records}
	if worker != nil {
		h.Receipts = worker.Receipts
		h.Stats = worker.Stats
	}
	return h
}

func (h *Handler) SubmitRecord(w http.ResponseWriter, r *http.Request) {
	inst, ok := requireInstitution(w, r)
	if !ok {
		return
	}
	var req submitRecordRequest
	if !decodeBody(w, r, maxBodyBytes, &req) {
		return
	}

	res, err := h.Records.SubmitRecord(r.Context(), req.toService(inst))
	if err != nil {
		if res != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:    err.Error(),
				Code:     services.Code(err),
				RecordID: res.RecordID,
				Status:   res.Status,
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	inst, ok := requireInstitution(w, r)
	if !ok {
		return
	}
	var req submitBatchRequest
	if !decodeBody(w, r, maxBatchBodyBytes, &req) {
		return
	}

	reqs := make([]services.SubmitRequest, 0, len(req.Records))
	for _, rec := range req.Records {
		reqs = append(reqs, rec.toService(inst))
	}
	res, err := h.Records.SubmitBatch(r.Context(), reqs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	inst, ok := requireInstitution(w, r)
	if !ok {
		return
	}
	rec, err := h.Records.GetRecordByID(r.Context(), chi.URLParam(r, "recordId"), inst)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) GetSubjectRecords(w http.ResponseWriter, r *http.Request) {
	inst, ok := requireInstitution(w, r)
	if !ok {
		return
	}
	recs, err := h.Records.GetRecordsBySubject(r.Context(), inst, chi.URLParam(r, "subjectId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (h *Handler) QueryRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Records.QueryRecords(r.Context(), filterFromQuery(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (h *Handler) RecordStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Records.Statistics(r.Context(), filterFromQuery(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) VerifyRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recordId")
	ok, err := h.Records.VerifyAndCommit(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{RecordID: id, Confirmed: ok})
}

func (h *Handler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	var req verifyBatchRequest
	if !decodeBody(w, r, maxBodyBytes, &req) {
		return
	}
	results, err := h.Records.VerifyBatch(r.Context(), req.RecordIDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	if h.Receipts == nil {
		writeJSON(w, http.StatusOK, []settlement.Receipt{})
		return
	}
	writeJSON(w, http.StatusOK, h.Receipts.List(r.URL.Query().Get("institution_id")))
}

func (h *Handler) InstitutionStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "institutionId")
	inst, ok := h.Records.Registry.GetInstitution(r.Context(), id)
	if !ok {
		writeServiceError(w, services.ErrInstitutionNotFound)
		return
	}
	resp := struct {
		*models.Institution
		Daily models.DailyStats `json:"daily"`
	}{Institution: inst}
	if h.Stats != nil {
		resp.Daily = h.Stats.Get(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r submitRecordRequest) toService(inst string) services.SubmitRequest {
	return services.SubmitRequest{
		InstitutionID: inst,
		RecordType:    r.RecordType,
		SubjectID:     r.SubjectID,
		EventDate:     r.EventDate,
		Content:       r.Content,
	}
}

func filterFromQuery(r *http.Request) models.RecordFilter {
	q := r.URL.Query()
	return models.RecordFilter{
		InstitutionID: q.Get("institution_id"),
		SubjectID:     q.Get("subject_id"),
		RecordType:    models.RecordType(q.Get("record_type")),
		Status:        models.RecordStatus(q.Get("status")),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func requireInstitution(w http.ResponseWriter, r *http.Request) (string, bool) {
	inst := r.Header.Get(institutionHeader)
	if inst == "" {
		writeError(w, http.StatusUnauthorized, "missing institution id")
		return "", false
	}
	return inst, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrNoRecords),
		errors.Is(err, services.ErrBatchTooLarge):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrRecordNotFound),
		errors.Is(err, services.ErrInstitutionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrServiceDisabled):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrInvalidStatus):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidProof),
		errors.Is(err, services.ErrEncryptionFailed),
		errors.Is(err, services.ErrInvalidData):
		status = http.StatusUnprocessableEntity
	case services.Retryable(err):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: services.Code(err), Retryable: services.Retryable(err)})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(recs []*models.CreditRecord) []*models.CreditRecord {
	if recs == nil {
		return []*models.CreditRecord{}
	}
	return recs
}
