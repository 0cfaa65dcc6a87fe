package service

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/hwalton/brickstock/internal/domain"
)

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func writeHeader(f *excelize.File, sheet string, style int, headers ...any) error {
	if err := writeRow(f, sheet, 1, headers...); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func money(d decimal.Decimal) float64 { return d.Round(2).InexactFloat64() }

// WriteMTDWorkbook writes a Summary sheet and a Monthly breakdown sheet.
func WriteMTDWorkbook(w io.Writer, m MTDSummary) error {
	f := excelize.NewFile()
	defer f.Close()
	style, err := headerStyle(f)
	if err != nil {
		return err
	}

	const summary = "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return err
	}
	if err := writeHeader(f, summary, style, "Item", "Amount (GBP)"); err != nil {
		return err
	}
	rows := [][]any{
		{"Tax year", fmt.Sprintf("%d-%02d", m.TaxYear, (m.TaxYear+1)%100)},
		{"Quarter", fmt.Sprintf("Q%d (%s to %s)", m.Quarter, m.From.Format(time.DateOnly), m.To.AddDate(0, 0, -1).Format(time.DateOnly))},
		{"Turnover", money(m.Turnover)},
	}
	cats := make([]string, 0, len(m.Expenses))
	for c := range m.Expenses {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		rows = append(rows, []any{"Expense: " + c, money(m.Expenses[c])})
	}
	rows = append(rows, []any{"Total expenses", money(m.TotalExpenses)}, []any{"Net profit", money(m.NetProfit)})
	for i, r := range rows {
		if err := writeRow(f, summary, i+2, r...); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(summary, "A", "A", 32)
	_ = f.SetColWidth(summary, "B", "B", 28)

	const monthly = "Monthly"
	if _, err := f.NewSheet(monthly); err != nil {
		return err
	}
	if err := writeHeader(f, monthly, style, "Month", "Platform", "Orders", "Sales", "Fees", "Refunds", "COG", "Profit", "Margin"); err != nil {
		return err
	}
	for i, l := range m.Months {
		if err := writeRow(f, monthly, i+2, time.Month(l.Month).String(), string(l.Platform), l.Orders,
			money(l.Sales), money(l.Fees), money(l.Refunds), money(l.COG), money(l.Profit), l.Margin); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// WriteInventoryWorkbook writes one row per inventory item.
func WriteInventoryWorkbook(w io.Writer, items []domain.InventoryItem) error {
	f := excelize.NewFile()
	defer f.Close()
	style, err := headerStyle(f)
	if err != nil {
		return err
	}
	const sheet = "Inventory"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	if err := writeHeader(f, sheet, style, "SKU", "Set", "Name", "Condition", "Status", "Cost",
		"Listing price", "Listing platform", "Sold price", "Sold platform", "Purchased", "Sold"); err != nil {
		return err
	}
	for i, it := range items {
		if err := writeRow(f, sheet, i+2, it.SKU, it.SetNumber, it.Name, it.Condition, string(it.Status), money(it.Cost),
			nullMoney(it.ListingPrice), it.ListingPlatform, nullMoney(it.SoldPrice), it.SoldPlatform,
			dateCell(it.PurchasedAt), dateCell(it.SoldAt)); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheet, "C", "C", 40)
	return f.Write(w)
}

func nullMoney(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return money(d.Decimal)
}

func dateCell(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.DateOnly)
}
