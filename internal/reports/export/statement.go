package export

import (
	"fmt"
	"io"
	"time"

	"carbon-scribe/settlement-backend/internal/marketplace"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

// Format is a statement output format
type Format string

const (
	FormatExcel Format = "xlsx"
	FormatCSV   Format = "csv"
	FormatPDF   Format = "pdf"
)

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
}

// ParseFormat accepts xlsx, csv or pdf; empty means xlsx
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatExcel:
		return FormatExcel, nil
	case FormatCSV, FormatPDF:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// Columns of a sales statement, in output order
var Columns = []string{
	"listing_id", "serial_number", "seller", "buyer", "status",
	"price_hbar", "platform_fee_hbar", "proceeds_hbar", "claimed",
	"listed_at", "sold_at",
}

var columnLabels = []string{
	"Listing", "Serial", "Seller", "Buyer", "Status",
	"Price (HBAR)", "Fee (HBAR)", "Proceeds (HBAR)", "Claimed",
	"Listed", "Sold",
}

// Statement is a marketplace sales statement, optionally for one seller
type Statement struct {
	Title       string
	Seller      string
	GeneratedAt time.Time
	Rows        []map[string]interface{}

	TotalSales    int
	GrossVolume   int64
	PlatformFees  int64
	UnclaimedHeld int64
}

// ListingStatus renders the lifecycle state of a listing
func ListingStatus(l marketplace.Listing) string {
	switch {
	case l.Active:
		return "active"
	case l.Sold:
		return "sold"
	case l.Withdrawn:
		return "withdrawn"
	}
	return "inactive"
}

// BuildStatement summarises listings. Totals only count sold listings.
func BuildStatement(title, seller string, listings []marketplace.Listing, now time.Time) *Statement {
	s := &Statement{Title: title, Seller: seller, GeneratedAt: now}
	for _, l := range listings {
		if seller != "" && string(l.Seller) != seller {
			continue
		}
		s.Rows = append(s.Rows, map[string]interface{}{
			"listing_id":        l.ID,
			"serial_number":     l.SerialNumber,
			"seller":            string(l.Seller),
			"buyer":             string(l.Buyer),
			"status":            ListingStatus(l),
			"price_hbar":        ledger.FormatHbar(l.Price),
			"platform_fee_hbar": ledger.FormatHbar(l.PlatformFee),
			"proceeds_hbar":     ledger.FormatHbar(l.Proceeds),
			"claimed":           l.Claimed,
			"listed_at":         l.ListedAt,
			"sold_at":           l.SoldAt,
		})
		if l.Sold {
			s.TotalSales++
			s.GrossVolume += l.Price
			s.PlatformFees += l.PlatformFee
			s.UnclaimedHeld += l.Proceeds
		}
	}
	return s
}

// Summary returns the statement totals as display values
func (s *Statement) Summary() map[string]interface{} {
	return map[string]interface{}{
		"Sales":                 s.TotalSales,
		"Gross volume (HBAR)":   ledger.FormatHbar(s.GrossVolume),
		"Platform fees (HBAR)":  ledger.FormatHbar(s.PlatformFees),
		"Unclaimed held (HBAR)": ledger.FormatHbar(s.UnclaimedHeld),
	}
}

// Write renders the statement in format f
func (s *Statement) Write(w io.Writer, f Format) error {
	switch f {
	case FormatCSV:
		e := NewCSVExporter(w, DefaultCSVOptions())
		if err := e.WriteHeader(Columns); err != nil {
			return err
		}
		if err := e.WriteMapRows(s.Rows, Columns); err != nil {
			return err
		}
		return e.Flush()

	case FormatPDF:
		opts := DefaultPDFOptions()
		opts.Title = s.Title
		opts.Orientation = "landscape"
		if s.Seller != "" {
			opts.Subtitle = "Seller " + s.Seller
		}
		g := NewPDFGenerator(opts)
		if err := g.GenerateReportWithSummary(Columns, columnLabels, s.Rows, s.Summary(), s.GeneratedAt); err != nil {
			return err
		}
		return g.WriteTo(w)

	default:
		opts := DefaultExcelOptions()
		opts.SheetName = "Sales"
		e := NewExcelExporter(opts)
		defer e.Close()
		if err := e.WriteHeader(Columns); err != nil {
			return err
		}
		if err := e.WriteRows(s.Rows, Columns); err != nil {
			return err
		}
		if err := e.WriteSummary("Summary", s.Summary()); err != nil {
			return err
		}
		return e.WriteTo(w)
	}
}
