package scan

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// exportZone is the fixed GMT+7 zone the dashboard exports in.
var exportZone = time.FixedZone("GMT+7", 7*60*60)

// WriteCSV writes records as CSV, newest first, in the dashboard's column
// order.
func WriteCSV(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"id", "fullName", "jobTitle", "employeeId", "lat", "lng", "accuracy", "createdAt"}); err != nil {
		return err
	}

	for _, r := range recs {
		row := []string{
			r.ID,
			r.FullName,
			r.JobTitle,
			r.EmployeeID,
			formatFloat(r.Lat),
			formatFloat(r.Lng),
			formatFloat(r.Accuracy),
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

var xlsxHeader = []string{
	"ID", "Full Name", "Job Title", "Employee ID", "Type",
	"Latitude", "Longitude", "Accuracy", "Date (GMT+7)", "Time (GMT+7)",
}

var xlsxColWidths = []float64{20, 25, 20, 15, 12, 12, 12, 10, 15, 12}

// WriteXLSX writes records as an Excel workbook with a single "Scans" sheet.
// Dates and times are split into GMT+7 columns for the operations team.
func WriteXLSX(w io.Writer, recs []Record) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Scans"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	for i, h := range xlsxHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}

		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, xlsxColWidths[i]); err != nil {
			return err
		}
	}

	for i, r := range recs {
		at := r.CreatedAt.In(exportZone)
		values := []any{
			r.ID,
			r.FullName,
			r.JobTitle,
			r.EmployeeID,
			r.Type,
			r.Lat,
			r.Lng,
			r.Accuracy,
			at.Format("02/01/2006"),
			at.Format("15:04:05"),
		}
		for j, v := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}

	return f.Write(w)
}

// ExportFilenameXLSX returns the attachment filename for an XLSX export,
// dated in the export zone.
func ExportFilenameXLSX(now time.Time) string {
	return fmt.Sprintf("Attendance_%s.xlsx", now.In(exportZone).Format("02-01-2006"))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
