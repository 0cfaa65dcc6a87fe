package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	mid "github.com/hwalton/brickstock/internal/middleware"
	"github.com/hwalton/brickstock/internal/service"
	"github.com/hwalton/brickstock/internal/store"
)

func queryFloat(r *http.Request, name string, def float64) (float64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

// listArbitrage returns the latest calculations at or above ?min_margin, a
// fraction of the Amazon price.
func (h *Handler) listArbitrage(w http.ResponseWriter, r *http.Request) {
	minMargin, ok := queryFloat(r, "min_margin", h.MinMargin)
	if !ok {
		writeError(w, http.StatusBadRequest, "min_margin must be a number")
		return
	}
	res, err := h.Records.ListArbitrage(r.Context(), mid.UserID(r.Context()), minMargin)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res == nil {
		res = []domain.ArbitrageResult{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) syncArbitrage(w http.ResponseWriter, r *http.Request) {
	res, err := h.Arbitrage.SyncPricing(r.Context(), mid.UserID(r.Context()))
	h.writeSync(w, r, res, err)
}

// watch adds or updates a watchlist entry.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	var it domain.WatchItem
	if !h.decode(w, r, &it) {
		return
	}
	it.SetNumber = service.NormalizeSetNumber(it.SetNumber)
	if err := h.Records.UpsertWatchItem(r.Context(), mid.UserID(r.Context()), it); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) partout(w http.ResponseWriter, r *http.Request) {
	cond := r.URL.Query().Get("condition")
	if err := h.validate.Var(cond, "omitempty,oneof=new used"); err != nil {
		writeError(w, http.StatusBadRequest, "condition must be new or used")
		return
	}
	res, err := h.Partout.Value(r.Context(), mid.UserID(r.Context()), chi.URLParam(r, "setNumber"), cond)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) predictions(w http.ResponseWriter, r *http.Request) {
	minScore, ok := queryFloat(r, "min_score", 0)
	if !ok || minScore < 0 || minScore > 100 {
		writeError(w, http.StatusBadRequest, "min_score must be 0-100")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 1 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be 1-1000")
		return
	}
	preds, err := h.Records.ListPredictions(r.Context(), minScore, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if preds == nil {
		preds = []store.Prediction{}
	}
	writeJSON(w, http.StatusOK, preds)
}

// listingSchedule returns the day's plan; ?date defaults to today.
func (h *Handler) listingSchedule(w http.ResponseWriter, r *http.Request) {
	day := h.now()
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = t
	}
	s, err := h.Schedule.ForDate(r.Context(), mid.UserID(r.Context()), day)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if s.Items == nil {
		s.Items = []service.ScheduledListing{}
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) adminScore(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Investment.Score(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("investment scoring triggered", zap.String("by", mid.UserID(r.Context())), zap.Int("written", sum.Written))
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) adminTrainingData(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Training.Build(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// adminKeepaImport accepts an optional body; an empty one imports every
// watched ASIN not yet imported.
func (h *Handler) adminKeepaImport(w http.ResponseWriter, r *http.Request) {
	var opts service.KeepaImportOptions
	if r.ContentLength != 0 && !h.decode(w, r, &opts) {
		return
	}
	sum, err := h.Keepa.Import(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) adminRRPBackfill(w http.ResponseWriter, r *http.Request) {
	skip, _ := strconv.ParseBool(r.URL.Query().Get("skip_brickset"))
	sum, err := h.RRP.Run(r.Context(), skip)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
