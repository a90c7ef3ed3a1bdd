package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"wisefido-fall/internal/models"

	"github.com/xuri/excelize/v2"
)

// FallEventsExportHeader 跌倒事件导出表头
var FallEventsExportHeader = []string{
	"Event ID",
	"User ID",
	"Session ID",
	"Detected At",
	"Severity",
	"Confidence",
	"Fall Type",
	"Body Angle",
	"Status",
	"Notification Sent",
	"False Positive",
	"Feedback Comment",
}

// GenerateFallEventsExport 生成跌倒事件历史 Excel 文件
func GenerateFallEventsExport(events []*models.FallEvent) ([]byte, error) {
	f := excelize.NewFile()

	sheetName := "Fall Events"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FDE9E7"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range FallEventsExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(sheetName, "A", "C", 38); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(sheetName, "D", "D", 22); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, e := range events {
		comment := ""
		if e.FeedbackComment != nil {
			comment = *e.FeedbackComment
		}
		row := []any{
			e.EventID,
			e.UserID,
			e.SessionID,
			e.DetectedAt.UTC().Format(time.RFC3339),
			string(e.Severity),
			e.ConfidenceScore,
			string(e.FallType),
			e.BodyAngle,
			string(e.Status),
			yesNo(e.NotificationSent),
			yesNo(e.FalsePositive),
			comment,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
