package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExcelExporter exports data to Excel format
type ExcelExporter struct {
	file    *excelize.File
	options ExcelOptions
}

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	SheetName    string            `json:"sheet_name"`
	FreezeHeader bool              `json:"freeze_header"`
	AutoFilter   bool              `json:"auto_filter"`
	AutoWidth    bool              `json:"auto_width"`
	HeaderStyle  *ExcelStyleConfig `json:"header_style,omitempty"`
	DataStyle    *ExcelStyleConfig `json:"data_style,omitempty"`
	TimestampFmt string            `json:"timestamp_format"`
}

// ExcelStyleConfig defines style for cells
type ExcelStyleConfig struct {
	FontBold  bool   `json:"font_bold"`
	FontSize  int    `json:"font_size"`
	FontColor string `json:"font_color"`
	FillColor string `json:"fill_color"`
	Alignment string `json:"alignment"` // left, center, right
	Border    bool   `json:"border"`
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:    "Report",
		FreezeHeader: true,
		AutoFilter:   true,
		AutoWidth:    true,
		TimestampFmt: "yyyy-mm-dd hh:mm:ss",
		HeaderStyle: &ExcelStyleConfig{
			FontBold:  true,
			FontSize:  11,
			FillColor: "2E7D32",
			FontColor: "FFFFFF",
			Alignment: "center",
			Border:    true,
		},
		DataStyle: &ExcelStyleConfig{
			FontSize:  11,
			Alignment: "left",
			Border:    true,
		},
	}
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	file := excelize.NewFile()
	file.SetSheetName("Sheet1", options.SheetName)
	return &ExcelExporter{file: file, options: options}
}

// WriteHeader writes the header row with styling
func (e *ExcelExporter) WriteHeader(columns []string) error {
	sheet := e.options.SheetName

	styleID := 0
	if e.options.HeaderStyle != nil {
		id, err := e.createStyle(e.options.HeaderStyle)
		if err != nil {
			return fmt.Errorf("failed to create header style: %w", err)
		}
		styleID = id
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := e.file.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		if styleID > 0 {
			e.file.SetCellStyle(sheet, cell, cell, styleID)
		}
	}

	if e.options.FreezeHeader {
		e.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	return nil
}

// WriteRows writes data rows below the header
func (e *ExcelExporter) WriteRows(rows []map[string]interface{}, columns []string) error {
	sheet := e.options.SheetName

	styleID := 0
	if e.options.DataStyle != nil {
		id, err := e.createStyle(e.options.DataStyle)
		if err != nil {
			return fmt.Errorf("failed to create data style: %w", err)
		}
		styleID = id
	}
	timeStyle, err := e.file.NewStyle(&excelize.Style{CustomNumFmt: &e.options.TimestampFmt})
	if err != nil {
		return fmt.Errorf("failed to create timestamp style: %w", err)
	}

	widths := make(map[int]float64)
	for i, col := range columns {
		widths[i] = float64(len(col)) * 1.2
	}

	for r, row := range rows {
		for c, col := range columns {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			val := row[col]
			isTime, err := e.setCellValue(sheet, cell, val)
			if err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}
			switch {
			case isTime:
				e.file.SetCellStyle(sheet, cell, cell, timeStyle)
			case styleID > 0:
				e.file.SetCellStyle(sheet, cell, cell, styleID)
			}
			if w := float64(len(fmt.Sprintf("%v", val))) * 1.2; w > widths[c] {
				widths[c] = w
			}
		}
	}

	if e.options.AutoFilter && len(rows) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(columns), len(rows)+1)
		e.file.AutoFilter(sheet, "A1:"+last, nil)
	}

	if e.options.AutoWidth {
		for c, w := range widths {
			name, _ := excelize.ColumnNumberToName(c + 1)
			// Min width 10, max width 50
			if w < 10 {
				w = 10
			}
			if w > 50 {
				w = 50
			}
			e.file.SetColWidth(sheet, name, name, w)
		}
	}
	return nil
}

// WriteSummary adds a two-column key/value sheet
func (e *ExcelExporter) WriteSummary(name string, items map[string]interface{}) error {
	if _, err := e.file.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		e.file.SetCellValue(name, fmt.Sprintf("A%d", i+1), k)
		e.file.SetCellValue(name, fmt.Sprintf("B%d", i+1), items[k])
	}
	e.file.SetColWidth(name, "A", "A", 28)
	return nil
}

// WriteTo writes the Excel file to a writer
func (e *ExcelExporter) WriteTo(w io.Writer) error {
	return e.file.Write(w)
}

// Close closes the Excel file
func (e *ExcelExporter) Close() error {
	return e.file.Close()
}

func (e *ExcelExporter) createStyle(config *ExcelStyleConfig) (int, error) {
	style := &excelize.Style{
		Font: &excelize.Font{Bold: config.FontBold, Size: float64(config.FontSize), Color: config.FontColor},
	}
	if config.FillColor != "" {
		style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{config.FillColor}}
	}
	if config.Alignment != "" {
		style.Alignment = &excelize.Alignment{Horizontal: config.Alignment}
	}
	if config.Border {
		style.Border = []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		}
	}
	return e.file.NewStyle(style)
}

// setCellValue writes val and reports whether it was a timestamp
func (e *ExcelExporter) setCellValue(sheet, cell string, val interface{}) (bool, error) {
	switch v := val.(type) {
	case nil:
		return false, e.file.SetCellValue(sheet, cell, "")
	case time.Time:
		if v.IsZero() {
			return false, e.file.SetCellValue(sheet, cell, "")
		}
		return true, e.file.SetCellValue(sheet, cell, v)
	case *time.Time:
		if v == nil || v.IsZero() {
			return false, e.file.SetCellValue(sheet, cell, "")
		}
		return true, e.file.SetCellValue(sheet, cell, *v)
	default:
		return false, e.file.SetCellValue(sheet, cell, v)
	}
}
