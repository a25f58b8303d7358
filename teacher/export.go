// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package teacher

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/danielhkuo/faceattend/models"
	"github.com/danielhkuo/faceattend/qrscan"
)

const attendanceSheet = "Attendance"

// WriteXLSX writes the attendance of a session as a spreadsheet.
func WriteXLSX(w io.Writer, s models.Session, records []models.AttendanceRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", attendanceSheet)

	status := "open"
	if s.Finalized {
		status = models.StatusFinalized
	}
	header := [][]interface{}{
		{"Class", s.ClassID},
		{"Session", s.SessionID},
		{"Teacher", s.TeacherID},
		{"Status", status},
		{"Present", len(records)},
		{},
		{"User ID", "Status", "Marked At"},
	}
	for i, row := range header {
		if err := setRow(f, i+1, row); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	if err := f.SetCellStyle(attendanceSheet, "A1", "A5", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetCellStyle(attendanceSheet, "A7", "C7", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	first := len(header) + 1
	for i, r := range records {
		row := []interface{}{r.UserID, r.Status, r.Timestamp.Local().Format(time.DateTime)}
		if err := setRow(f, first+i, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(attendanceSheet, "A", "C", 22); err != nil {
		return fmt.Errorf("set width: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []interface{}) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(attendanceSheet, cell, v); err != nil {
			return fmt.Errorf("set %s: %w", cell, err)
		}
	}
	return nil
}

// Export saves the current attendance to path.
func (c *Controller) Export(path string) error {
	snap := c.Snapshot()
	if snap.Session.SessionID == "" {
		return ErrNoSession
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteXLSX(out, snap.Session, snap.Attendance); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// QRCode renders the current payload for a terminal.
func (c *Controller) QRCode() (string, error) {
	p, err := c.Payload()
	if err != nil {
		return "", err
	}
	return qrscan.RenderTerminal(p)
}

// QRCodePNG renders the current payload as a size x size PNG.
func (c *Controller) QRCodePNG(size int) ([]byte, error) {
	p, err := c.Payload()
	if err != nil {
		return nil, err
	}
	return qrscan.RenderPNG(p, size)
}
