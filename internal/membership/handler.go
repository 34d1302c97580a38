// internal/membership/handler.go
package membership

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gymledger/internal/apperr"
	"gymledger/pkg/eventstore"
)

type Handler struct {
	service Service
	ledger  Ledger
	logger  *slog.Logger
}

func NewHandler(service Service, ledger Ledger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, ledger: ledger, logger: logger}
}

// Register mounts the member, ledger, report and reminder-candidate routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/members", func(r chi.Router) {
		r.Post("/", h.handleEnroll)
		r.Get("/", h.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetMember)
			r.Patch("/", h.handleUpdateContact)
			r.Post("/renew", h.handleRenew)
			r.Get("/status", h.handleStatus)
			r.Post("/payments", h.handleRecordPayment)
			r.Get("/payments", h.handleHistory)
			r.Get("/balance", h.handleBalance)
		})
	})
	r.Get("/dashboard", h.handleDashboard)
	r.Get("/reports/revenue", h.handleRevenue)
	r.Route("/reminders", func(r chi.Router) {
		r.Get("/overdue", h.handleOverdue)
		r.Get("/expiring", h.handleExpiring)
		r.Get("/enrolled", h.handleEnrolled)
	})
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	member, err := h.service.Enroll(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, member)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	seq, err := h.service.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	members := slices.Collect(seq)
	if members == nil {
		members = []*Member{}
	}
	WriteJSON(w, http.StatusOK, members)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, asOf, ok := h.memberParams(w, r)
	if !ok {
		return
	}
	member, err := h.service.GetMember(r.Context(), id, asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, member)
}

func (h *Handler) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	id, ok := h.memberID(w, r)
	if !ok {
		return
	}
	var info PersonalInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	member, err := h.service.UpdateContact(r.Context(), id, info)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, member)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	id, ok := h.memberID(w, r)
	if !ok {
		return
	}
	var req RenewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	member, err := h.service.Renew(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, member)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, asOf, ok := h.memberParams(w, r)
	if !ok {
		return
	}
	status, err := h.service.GetStatus(r.Context(), id, asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"member_id": id, "status": status})
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.memberID(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payment, err := h.ledger.RecordPayment(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, payment)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.memberID(w, r)
	if !ok {
		return
	}
	payments, err := h.ledger.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if payments == nil {
		payments = []Payment{}
	}
	WriteJSON(w, http.StatusOK, payments)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.memberID(w, r)
	if !ok {
		return
	}
	paid, err := h.ledger.TotalPaid(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	due, err := h.ledger.AmountDue(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"member_id":   id,
		"amount_paid": paid,
		"amount_due":  due,
	})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseTimeParam(r, "as_of")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.service.Dashboard(r.Context(), asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleRevenue(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseTimeParam(r, "as_of")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	months, err := parseIntParam(r, "months", 6)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.service.Revenue(r.Context(), months, asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseTimeParam(r, "as_of")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	members, err := h.service.FindOverdue(r.Context(), asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, nonNil(members))
}

func (h *Handler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseTimeParam(r, "as_of")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	days, err := parseIntParam(r, "days", 7)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	members, err := h.service.FindExpiringWithin(r.Context(), days, asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, nonNil(members))
}

// EnrolledPage is the response of GET /reminders/enrolled.
type EnrolledPage struct {
	Members    []*Member `json:"members"`
	NextCursor int64     `json:"next_cursor"`
}

func (h *Handler) handleEnrolled(w http.ResponseWriter, r *http.Request) {
	cursor, err := parseIntParam(r, "cursor", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := parseIntParam(r, "limit", 100)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	members, next, err := h.service.EnrolledSince(r.Context(), int64(cursor), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, EnrolledPage{Members: nonNil(members), NextCursor: next})
}

func (h *Handler) memberID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) memberParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, time.Time, bool) {
	id, ok := h.memberID(w, r)
	if !ok {
		return uuid.Nil, time.Time{}, false
	}
	asOf, err := parseTimeParam(r, "as_of")
	if err != nil {
		h.writeError(w, r, err)
		return uuid.Nil, time.Time{}, false
	}
	return id, asOf, true
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, apperr.ErrDuplicateEmail):
		return http.StatusConflict
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case apperr.IsConfig(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		http.Error(w, "internal error", status)
		return
	}
	WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := ParseTime(raw)
	if err != nil {
		return time.Time{}, apperr.Invalid(name, "must be RFC 3339 or YYYY-MM-DD")
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid(name, "must be an integer")
	}
	return n, nil
}

func nonNil(members []*Member) []*Member {
	if members == nil {
		return []*Member{}
	}
	return members
}
