package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	weekdaySheet = "By weekday"
	hourSheet    = "By hour"
	usersSheet   = "Top users"
)

// WriteXLSX renders u as a workbook with one sheet per table.
func WriteXLSX(w io.Writer, u *Usage) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{weekdaySheet, hourSheet, usersSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	percentStyle, err := f.NewStyle(&excelize.Style{NumFmt: 10})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	summary := [][]interface{}{
		{"Period", fmt.Sprintf("%s - %s", u.From, u.To)},
		{"Slots", u.Slots},
		{"Capacity", u.Capacity},
		{"Bookings", u.Bookings},
		{"Unique users", u.UniqueUsers},
		{"Occupancy", u.OccupancyRate},
	}
	for i, row := range summary {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	_ = f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), headerStyle)
	_ = f.SetCellStyle(summarySheet, "B6", "B6", percentStyle)
	_ = f.SetColWidth(summarySheet, "A", "B", 25)

	rows := [][]interface{}{{"Weekday", "Bookings"}}
	for _, d := range u.ByWeekday {
		rows = append(rows, []interface{}{d.Weekday, d.Bookings})
	}
	if err := writeTable(f, weekdaySheet, rows, headerStyle); err != nil {
		return err
	}

	rows = [][]interface{}{{"Hour", "Bookings"}}
	for _, h := range u.ByHour {
		rows = append(rows, []interface{}{fmt.Sprintf("%02d:00", h.Hour), h.Bookings})
	}
	if err := writeTable(f, hourSheet, rows, headerStyle); err != nil {
		return err
	}

	rows = [][]interface{}{{"User", "Bookings"}}
	for _, c := range u.TopUsers {
		rows = append(rows, []interface{}{c.UserID, c.Bookings})
	}
	if err := writeTable(f, usersSheet, rows, headerStyle); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeTable(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i, row := range rows {
		if err := setRow(f, sheet, i+1, row); err != nil {
			return err
		}
	}
	_ = f.SetCellStyle(sheet, "A1", "B1", headerStyle)
	_ = f.SetColWidth(sheet, "A", "B", 20)
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
