package export

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gymledger/internal/membership"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	service membership.Service
	logger  *slog.Logger
	now     func() time.Time
}

func NewHandler(service membership.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger, now: time.Now}
}

// Register mounts GET /members/export.xlsx. It accepts the same filters as the
// member list.
func (h *Handler) Register(r chi.Router) {
	r.Get("/members/export.xlsx", h.handleMembers)
}

func (h *Handler) handleMembers(w http.ResponseWriter, r *http.Request) {
	f, err := membership.ParseFilter(r.URL.Query())
	if err != nil {
		membership.WriteJSON(w, membership.StatusCode(err), map[string]string{"error": err.Error()})
		return
	}
	if f.AsOf.IsZero() {
		f.AsOf = h.now().UTC()
	}
	members, err := h.service.List(r.Context(), f)
	if err != nil {
		status := membership.StatusCode(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "export failed", "error", err)
			http.Error(w, "internal error", status)
			return
		}
		membership.WriteJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	if err := MembersXLSX(&buf, members, f.AsOf); err != nil {
		h.logger.ErrorContext(r.Context(), "export failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="members_%s.xlsx"`, f.AsOf.Format("20060102")))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
