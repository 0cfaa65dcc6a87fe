package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	mid "github.com/hwalton/brickstock/internal/middleware"
	"github.com/hwalton/brickstock/internal/service"
)

const maxCSVBytes = 10 << 20

// syncAll runs every connected platform for the caller. Individual runs
// report their own status; the request only fails when nothing could start.
func (h *Handler) syncAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.Syncs.SyncAll(r.Context(), mid.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if results == nil {
		results = []service.SyncResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// syncOne runs one platform/kind. Amazon pricing goes through the arbitrage
// capture, which records its own sync log.
func (h *Handler) syncOne(w http.ResponseWriter, r *http.Request) {
	p, ok := platformParam(w, r)
	if !ok {
		return
	}
	kind := domain.SyncKind(chi.URLParam(r, "kind"))
	owner := mid.UserID(r.Context())

	var (
		res service.SyncResult
		err error
	)
	if p == domain.PlatformAmazon && kind == domain.SyncPricing {
		res, err = h.Arbitrage.SyncPricing(r.Context(), owner)
	} else {
		res, err = h.Syncs.Run(r.Context(), owner, p, kind)
	}
	h.writeSync(w, r, res, err)
}

// writeSync reports a run that started with its sync log, even when it
// failed. Errors raised before the log opened map to client errors.
func (h *Handler) writeSync(w http.ResponseWriter, r *http.Request, res service.SyncResult, err error) {
	if err != nil && (res.SyncLogID == "" || errors.Is(err, service.ErrNotConnected)) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, syncStatusCode(res), res)
}

// syncStatusCode is 200 for completed and partial runs, 502 for failed ones.
func syncStatusCode(res service.SyncResult) int {
	if res.Status == domain.SyncFailed {
		return http.StatusBadGateway
	}
	return http.StatusOK
}

func (h *Handler) syncLogs(w http.ResponseWriter, r *http.Request) {
	var p domain.Platform
	if v := r.URL.Query().Get("platform"); v != "" {
		var err error
		if p, err = domain.ParsePlatform(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil || limit < 1 || limit > 500 {
		writeError(w, http.StatusBadRequest, "limit must be 1-500")
		return
	}
	logs, err := h.Records.ListSyncLogs(r.Context(), mid.UserID(r.Context()), p, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []domain.SyncLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// vintedImport accepts a Vinted sales CSV as the raw body or as the "file"
// field of a multipart form.
func (h *Handler) vintedImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCSVBytes)
	body := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart upload needs a file field")
			return
		}
		defer f.Close()
		body = f
	}
	owner := mid.UserID(r.Context())
	counts, rowErrs, err := h.Vinted.Import(r.Context(), owner, body)
	if err != nil {
		if counts.Processed == 0 && rowErrs == nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.fail(w, r, err)
		return
	}
	if rowErrs == nil {
		rowErrs = []service.RowError{}
	}
	h.logger.Info("vinted csv imported", zap.String("owner_id", owner), zap.Int("created", counts.Created), zap.Int("rejected", len(rowErrs)))
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts, "errors": rowErrs})
}
