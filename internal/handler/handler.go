package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/service"
	"github.com/hwalton/brickstock/internal/store"
	authpkg "github.com/hwalton/brickstock/pkg/auth"
	"github.com/hwalton/brickstock/pkg/supabasetoolbox"
)

// Sessions signs users in and out against Supabase auth.
type Sessions interface {
	SignIn(ctx context.Context, email, password string) (supabasetoolbox.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

type Connections interface {
	BeginEbay(ctx context.Context, ownerID string) (string, error)
	CompleteEbay(ctx context.Context, ownerID, state, code string) error
	SaveCredentials(ctx context.Context, ownerID string, p domain.Platform, c store.Credentials) error
	Connections(ctx context.Context, ownerID string) ([]store.Connection, error)
	Disconnect(ctx context.Context, ownerID string, p domain.Platform) error
}

type Syncs interface {
	Run(ctx context.Context, ownerID string, platform domain.Platform, kind domain.SyncKind) (service.SyncResult, error)
	SyncAll(ctx context.Context, ownerID string) ([]service.SyncResult, error)
}

// Records is the read/write surface of the store the API exposes directly.
type Records interface {
	ListOrders(ctx context.Context, ownerID string, f store.OrderFilter) ([]domain.Order, error)
	GetOrder(ctx context.Context, ownerID, id string) (domain.Order, error)
	ListTransactions(ctx context.Context, ownerID string, f store.TransactionFilter) ([]domain.Transaction, error)
	ListInventory(ctx context.Context, ownerID string, f store.InventoryFilter) ([]domain.InventoryItem, error)
	CreateInventoryItem(ctx context.Context, ownerID string, it domain.InventoryItem) (domain.InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, ownerID, id string, u store.InventoryUpdate) (domain.InventoryItem, error)
	ListSyncLogs(ctx context.Context, ownerID string, platform domain.Platform, limit int) ([]domain.SyncLog, error)
	ListArbitrage(ctx context.Context, ownerID string, minMargin float64) ([]domain.ArbitrageResult, error)
	UpsertWatchItem(ctx context.Context, ownerID string, w domain.WatchItem) error
	ListPredictions(ctx context.Context, minScore float64, limit int) ([]store.Prediction, error)
}

type Reports interface {
	Dashboard(ctx context.Context, ownerID string) (service.Dashboard, error)
	ProfitLoss(ctx context.Context, ownerID string, year int) (service.ProfitLoss, error)
	MTD(ctx context.Context, ownerID string, taxYear, quarter int) (service.MTDSummary, error)
	MTDWorkbook(ctx context.Context, ownerID string, taxYear, quarter int) ([]byte, error)
	ArchiveMTD(ctx context.Context, ownerID, accessToken string, taxYear, quarter int) (string, error)
	InventoryWorkbook(ctx context.Context, ownerID string) ([]byte, error)
}

type Importer interface {
	Import(ctx context.Context, ownerID string, r io.Reader) (service.Counts, []service.RowError, error)
}

type Arbitrage interface {
	SyncPricing(ctx context.Context, ownerID string) (service.SyncResult, error)
}

type Partout interface {
	Value(ctx context.Context, ownerID, setNumber, condition string) (service.PartoutResult, error)
}

type Schedule interface {
	ForDate(ctx context.Context, ownerID string, date time.Time) (service.ListingSchedule, error)
}

// Admin-triggered batch runs.
type (
	Scorer interface {
		Score(ctx context.Context) (service.ScoreSummary, error)
	}
	TrainingBuilder interface {
		Build(ctx context.Context) (service.TrainingSummary, error)
	}
	KeepaImporter interface {
		Import(ctx context.Context, opts service.KeepaImportOptions) (service.KeepaImportSummary, error)
	}
	RRPBackfiller interface {
		Run(ctx context.Context, skipBrickset bool) (service.RRPSummary, error)
	}
)

// Deps groups everything the routes need.
type Deps struct {
	Auth        authpkg.Authenticator
	Sessions    Sessions
	Connections Connections
	Syncs       Syncs
	Records     Records
	Reports     Reports
	Vinted      Importer
	Arbitrage   Arbitrage
	Partout     Partout
	Schedule    Schedule
	Investment  Scorer
	Training    TrainingBuilder
	Keepa       KeepaImporter
	RRP         RRPBackfiller
	Metrics     http.Handler
	Health      func(ctx context.Context) error
	// MinMargin is the default arbitrage opportunity threshold.
	MinMargin float64
	Logger    *zap.Logger
}

// Handler groups dependencies for route handlers.
type Handler struct {
	Deps
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func newHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{Deps: d, validate: validator.New(validator.WithRequiredStructEnabled()), logger: d.Logger.Named("api"), now: time.Now}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Health(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps service and store errors to a status. Client errors echo the
// message; anything else is logged and answered generically.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrSyncInProgress):
		status = http.StatusConflict
	case errors.Is(err, service.ErrNotConnected):
		status = http.StatusPreconditionFailed
	case errors.Is(err, service.ErrStateOwnerMismatch):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrUnsupported),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst and validates its struct tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// queryInt returns def when the parameter is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a date (YYYY-MM-DD) or RFC 3339 time", name)
	}
	return t, nil
}
