package handler

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	mid "github.com/hwalton/brickstock/internal/middleware"
)

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Reports.Dashboard(r.Context(), mid.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// profitLoss reports ?year, defaulting to the current calendar year.
func (h *Handler) profitLoss(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year", h.now().Year())
	if err != nil || year < 2000 || year > 2100 {
		writeError(w, http.StatusBadRequest, "year must be between 2000 and 2100")
		return
	}
	pl, err := h.Reports.ProfitLoss(r.Context(), mid.UserID(r.Context()), year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

// currentQuarter returns the UK tax year (starting 6 April, reported from
// 1 April under the calendar quarter election) and quarter containing t.
func currentQuarter(t time.Time) (int, int) {
	year := t.Year()
	if t.Month() < time.April {
		year--
	}
	months := (t.Year()-year)*12 + int(t.Month()) - int(time.April)
	return year, months/3 + 1
}

// mtd serves a Making Tax Digital quarter as JSON, as a workbook with
// ?format=xlsx, or archives it to storage and returns a link with
// ?archive=true.
func (h *Handler) mtd(w http.ResponseWriter, r *http.Request) {
	defYear, defQuarter := currentQuarter(h.now())
	year, err := queryInt(r, "year", defYear)
	if err != nil || year < 2000 || year > 2100 {
		writeError(w, http.StatusBadRequest, "year must be between 2000 and 2100")
		return
	}
	quarter, err := queryInt(r, "quarter", defQuarter)
	if err != nil || quarter < 1 || quarter > 4 {
		writeError(w, http.StatusBadRequest, "quarter must be 1-4")
		return
	}
	owner := mid.UserID(r.Context())
	q := r.URL.Query()

	switch {
	case q.Get("archive") == "true":
		url, err := h.Reports.ArchiveMTD(r.Context(), owner, mid.AccessToken(r), year, quarter)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.logger.Info("mtd archived", zap.String("owner_id", owner), zap.Int("tax_year", year), zap.Int("quarter", quarter))
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	case q.Get("format") == "xlsx":
		b, err := h.Reports.MTDWorkbook(r.Context(), owner, year, quarter)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeFile(w, fmt.Sprintf("mtd-%d-q%d.xlsx", year, quarter), b)
	default:
		m, err := h.Reports.MTD(r.Context(), owner, year, quarter)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}
