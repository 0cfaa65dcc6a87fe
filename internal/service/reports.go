package service

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

type ReportStore interface {
	MonthlySales(ctx context.Context, ownerID string, from, to time.Time) ([]store.MonthlyAmount, error)
	MonthlyOrderFees(ctx context.Context, ownerID string, from, to time.Time) ([]store.MonthlyAmount, error)
	MonthlyTransactionFees(ctx context.Context, ownerID string, from, to time.Time) ([]store.MonthlyAmount, error)
	MonthlyRefunds(ctx context.Context, ownerID string, from, to time.Time) ([]store.MonthlyAmount, error)
	MonthlyCOG(ctx context.Context, ownerID string, from, to time.Time) ([]store.MonthlyAmount, error)
	PurchaseTotal(ctx context.Context, ownerID string, from, to time.Time) (decimal.Decimal, error)
	TransactionPlatforms(ctx context.Context, ownerID string) (map[domain.Platform]bool, error)
	InventoryStats(ctx context.Context, ownerID string) (store.InventoryStats, error)
	OrderStatsSince(ctx context.Context, ownerID string, since time.Time) (store.OrderStats, error)
	LatestSyncPerPlatform(ctx context.Context, ownerID string) ([]domain.SyncLog, error)
	ListInventory(ctx context.Context, ownerID string, f store.InventoryFilter) ([]domain.InventoryItem, error)
}

// Archiver stores generated workbooks and hands out download links.
type Archiver interface {
	Upload(ctx context.Context, accessToken, bucket, path, contentType string, body []byte) error
	SignedURL(ctx context.Context, accessToken, bucket, path string, expiresIn int) (string, error)
}

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	reportsBucket   = "reports"
	archiveLinkTTL  = 3600
)

// PLLine is profit and loss for one platform, for a month or (Month 0) the year.
type PLLine struct {
	Platform domain.Platform `json:"platform,omitempty"`
	Month    int             `json:"month,omitempty"`
	Orders   int             `json:"orders"`
	Sales    decimal.Decimal `json:"sales"`
	Fees     decimal.Decimal `json:"fees"`
	Refunds  decimal.Decimal `json:"refunds"`
	COG      decimal.Decimal `json:"cog"`
	Profit   decimal.Decimal `json:"profit"`
	Margin   float64         `json:"margin"`
}

func (l *PLLine) add(o PLLine) {
	l.Orders += o.Orders
	l.Sales = l.Sales.Add(o.Sales)
	l.Fees = l.Fees.Add(o.Fees)
	l.Refunds = l.Refunds.Add(o.Refunds)
	l.COG = l.COG.Add(o.COG)
}

func (l *PLLine) finish() {
	l.Profit = l.Sales.Sub(l.Fees).Sub(l.Refunds).Sub(l.COG)
	l.Margin = 0
	if l.Sales.IsPositive() {
		l.Margin = l.Profit.Div(l.Sales).Round(4).InexactFloat64()
	}
}

type ProfitLoss struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Months     []PLLine  `json:"months"`
	ByPlatform []PLLine  `json:"by_platform"`
	Total      PLLine    `json:"total"`
}

// MTDSummary is a quarterly update on the cash basis: stock bought in the
// period is the cost of goods.
type MTDSummary struct {
	TaxYear       int                        `json:"tax_year"`
	Quarter       int                        `json:"quarter"`
	From          time.Time                  `json:"from"`
	To            time.Time                  `json:"to"`
	Turnover      decimal.Decimal            `json:"turnover"`
	Expenses      map[string]decimal.Decimal `json:"expenses"`
	TotalExpenses decimal.Decimal            `json:"total_expenses"`
	NetProfit     decimal.Decimal            `json:"net_profit"`
	Months        []PLLine                   `json:"months"`
}

// MTD expense categories.
const (
	ExpenseCostOfGoods  = "cost_of_goods"
	ExpensePlatformFees = "platform_fees"
	ExpenseRefunds      = "refunds"
)

type Dashboard struct {
	Inventory   store.InventoryStats `json:"inventory"`
	Orders30d   store.OrderStats     `json:"orders_30d"`
	LastSyncs   []domain.SyncLog     `json:"last_syncs"`
	GeneratedAt time.Time            `json:"generated_at"`
}

type ReportService struct {
	store   ReportStore
	archive Archiver
	logger  *zap.Logger
	now     func() time.Time
}

// NewReportService takes a nil archive when workbook archiving is not configured.
func NewReportService(s ReportStore, archive Archiver, logger *zap.Logger) *ReportService {
	return &ReportService{store: s, archive: archive, logger: logger.Named("reports"), now: time.Now}
}

// QuarterRange returns the calendar quarter periods of a UK tax year starting
// in April of taxYear: Q1 Apr-Jun through Q4 Jan-Mar.
func QuarterRange(taxYear, quarter int) (time.Time, time.Time, error) {
	if quarter < 1 || quarter > 4 {
		return time.Time{}, time.Time{}, fmt.Errorf("quarter must be 1-4, got %d", quarter)
	}
	from := time.Date(taxYear, time.April, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 3*(quarter-1), 0)
	return from, from.AddDate(0, 3, 0), nil
}

// ProfitLoss reports a calendar year.
func (s *ReportService) ProfitLoss(ctx context.Context, ownerID string, year int) (ProfitLoss, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return s.profitLoss(ctx, ownerID, from, from.AddDate(1, 0, 0))
}

func (s *ReportService) profitLoss(ctx context.Context, ownerID string, from, to time.Time) (ProfitLoss, error) {
	pl := ProfitLoss{From: from, To: to}
	sales, err := s.store.MonthlySales(ctx, ownerID, from, to)
	if err != nil {
		return pl, err
	}
	orderFees, err := s.store.MonthlyOrderFees(ctx, ownerID, from, to)
	if err != nil {
		return pl, err
	}
	txFees, err := s.store.MonthlyTransactionFees(ctx, ownerID, from, to)
	if err != nil {
		return pl, err
	}
	refunds, err := s.store.MonthlyRefunds(ctx, ownerID, from, to)
	if err != nil {
		return pl, err
	}
	cog, err := s.store.MonthlyCOG(ctx, ownerID, from, to)
	if err != nil {
		return pl, err
	}
	withTx, err := s.store.TransactionPlatforms(ctx, ownerID)
	if err != nil {
		return pl, err
	}

	type key struct {
		p domain.Platform
		m int
	}
	lines := map[key]*PLLine{}
	line := func(p domain.Platform, m int) *PLLine {
		k := key{p, m}
		if lines[k] == nil {
			lines[k] = &PLLine{Platform: p, Month: m}
		}
		return lines[k]
	}
	for _, a := range sales {
		l := line(a.Platform, a.Month)
		l.Sales = l.Sales.Add(a.Amount)
		l.Orders += a.Count
	}
	// platforms reporting transactions carry their fees there, not on orders
	for _, a := range orderFees {
		if !withTx[a.Platform] {
			l := line(a.Platform, a.Month)
			l.Fees = l.Fees.Add(a.Amount)
		}
	}
	for _, a := range txFees {
		l := line(a.Platform, a.Month)
		l.Fees = l.Fees.Add(a.Amount)
	}
	for _, a := range refunds {
		l := line(a.Platform, a.Month)
		l.Refunds = l.Refunds.Add(a.Amount)
	}
	for _, a := range cog {
		l := line(a.Platform, a.Month)
		l.COG = l.COG.Add(a.Amount)
	}

	byPlatform := map[domain.Platform]*PLLine{}
	for _, l := range lines {
		l.finish()
		pl.Months = append(pl.Months, *l)
		if byPlatform[l.Platform] == nil {
			byPlatform[l.Platform] = &PLLine{Platform: l.Platform}
		}
		byPlatform[l.Platform].add(*l)
		pl.Total.add(*l)
	}
	for _, l := range byPlatform {
		l.finish()
		pl.ByPlatform = append(pl.ByPlatform, *l)
	}
	pl.Total.finish()
	sort.Slice(pl.Months, func(i, j int) bool {
		if pl.Months[i].Month != pl.Months[j].Month {
			return pl.Months[i].Month < pl.Months[j].Month
		}
		return pl.Months[i].Platform < pl.Months[j].Platform
	})
	sort.Slice(pl.ByPlatform, func(i, j int) bool { return pl.ByPlatform[i].Platform < pl.ByPlatform[j].Platform })
	return pl, nil
}

// MTD summarizes a tax-year quarter.
func (s *ReportService) MTD(ctx context.Context, ownerID string, taxYear, quarter int) (MTDSummary, error) {
	from, to, err := QuarterRange(taxYear, quarter)
	if err != nil {
		return MTDSummary{}, err
	}
	pl, err := s.profitLoss(ctx, ownerID, from, to)
	if err != nil {
		return MTDSummary{}, err
	}
	purchases, err := s.store.PurchaseTotal(ctx, ownerID, from, to)
	if err != nil {
		return MTDSummary{}, err
	}
	m := MTDSummary{
		TaxYear:  taxYear,
		Quarter:  quarter,
		From:     from,
		To:       to,
		Turnover: pl.Total.Sales,
		Expenses: map[string]decimal.Decimal{
			ExpenseCostOfGoods:  purchases,
			ExpensePlatformFees: pl.Total.Fees,
			ExpenseRefunds:      pl.Total.Refunds,
		},
		Months: pl.Months,
	}
	for _, v := range m.Expenses {
		m.TotalExpenses = m.TotalExpenses.Add(v)
	}
	m.NetProfit = m.Turnover.Sub(m.TotalExpenses)
	return m, nil
}

// MTDWorkbook renders the quarter as an .xlsx file.
func (s *ReportService) MTDWorkbook(ctx context.Context, ownerID string, taxYear, quarter int) ([]byte, error) {
	m, err := s.MTD(ctx, ownerID, taxYear, quarter)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteMTDWorkbook(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ArchiveMTD uploads the quarter's workbook under the owner's folder and
// returns a time-limited download link.
func (s *ReportService) ArchiveMTD(ctx context.Context, ownerID, accessToken string, taxYear, quarter int) (string, error) {
	if s.archive == nil {
		return "", fmt.Errorf("report archive: %w", ErrUnsupported)
	}
	body, err := s.MTDWorkbook(ctx, ownerID, taxYear, quarter)
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("%s/mtd-%d-q%d.xlsx", ownerID, taxYear, quarter)
	if err := s.archive.Upload(ctx, accessToken, reportsBucket, path, xlsxContentType, body); err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	url, err := s.archive.SignedURL(ctx, accessToken, reportsBucket, path, archiveLinkTTL)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", path, err)
	}
	s.logger.Info("mtd workbook archived", zap.String("owner_id", ownerID), zap.String("path", path))
	return url, nil
}

// InventoryWorkbook exports all of the owner's stock.
func (s *ReportService) InventoryWorkbook(ctx context.Context, ownerID string) ([]byte, error) {
	items, err := s.store.ListInventory(ctx, ownerID, store.InventoryFilter{})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteInventoryWorkbook(&buf, items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Dashboard gathers the home page summary.
func (s *ReportService) Dashboard(ctx context.Context, ownerID string) (Dashboard, error) {
	now := s.now().UTC()
	d := Dashboard{GeneratedAt: now}
	var err error
	if d.Inventory, err = s.store.InventoryStats(ctx, ownerID); err != nil {
		return d, err
	}
	if d.Orders30d, err = s.store.OrderStatsSince(ctx, ownerID, now.AddDate(0, 0, -30)); err != nil {
		return d, err
	}
	if d.LastSyncs, err = s.store.LatestSyncPerPlatform(ctx, ownerID); err != nil {
		return d, err
	}
	return d, nil
}
