package report

import (
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docflow/internal/core/domain"
)

const (
	SheetHistory = "History"
	SheetQueue   = "Backoff Queue"
	SheetSkipped = "Skipped"
)

// Data is everything one processing report holds.
type Data struct {
	GeneratedAt time.Time
	Status      domain.WorkerStatus
	History     []domain.ProcessingRecord
	Queue       []domain.BackoffEntry
	Skipped     []domain.SkippedEntry
}

type sheet struct {
	name    string
	headers []string
	widths  []float64
	rows    [][]any
}

// WriteXLSX renders the report as a workbook with one sheet per listing.
func WriteXLSX(w io.Writer, data Data) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDE5F0"}},
	})
	if err != nil {
		return errors.Wrap(err, "create header style")
	}

	sheets := []sheet{historySheet(data.History), queueSheet(data.Queue), skippedSheet(data.Skipped)}
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return errors.Wrapf(err, "rename sheet %s", s.name)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return errors.Wrapf(err, "add sheet %s", s.name)
		}
		if err := writeSheet(f, s, headerStyle); err != nil {
			return err
		}
	}

	description := "paused=" + strconv.FormatBool(data.Status.IsPaused) + " queue_size=" + strconv.Itoa(data.Status.QueueSize)
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:       "docflow processing report",
		Created:     data.GeneratedAt.UTC().Format(time.RFC3339),
		Creator:     "docflow",
		Description: description,
	}); err != nil {
		return errors.Wrap(err, "set document properties")
	}

	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "write workbook")
	}
	return nil
}

func writeSheet(f *excelize.File, s sheet, headerStyle int) error {
	for col, header := range s.headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return errors.Wrap(err, "header cell name")
		}
		if err := f.SetCellValue(s.name, cell, header); err != nil {
			return errors.Wrapf(err, "write %s header", s.name)
		}
		colName, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return errors.Wrap(err, "column name")
		}
		if col < len(s.widths) {
			if err := f.SetColWidth(s.name, colName, colName, s.widths[col]); err != nil {
				return errors.Wrapf(err, "set %s column width", s.name)
			}
		}
	}
	if err := f.SetRowStyle(s.name, 1, 1, headerStyle); err != nil {
		return errors.Wrapf(err, "style %s header", s.name)
	}

	for r, row := range s.rows {
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return errors.Wrap(err, "cell name")
			}
			if err := f.SetCellValue(s.name, cell, value); err != nil {
				return errors.Wrapf(err, "write %s row %d", s.name, r+1)
			}
		}
	}
	return nil
}

func historySheet(records []domain.ProcessingRecord) sheet {
	s := sheet{
		name:    SheetHistory,
		headers: []string{"Document", "Workflow", "Status", "Progress", "Attempts", "Message", "Updated"},
		widths:  []float64{12, 20, 12, 10, 10, 60, 22},
	}
	for _, rec := range records {
		s.rows = append(s.rows, []any{
			rec.DocumentID, rec.WorkflowSlug, string(rec.Status), rec.Progress, rec.Attempts, rec.Message, formatTime(rec.UpdatedAt),
		})
	}
	return s
}

func queueSheet(entries []domain.BackoffEntry) sheet {
	s := sheet{
		name:    SheetQueue,
		headers: []string{"Document", "Attempts", "Next retry", "Last error"},
		widths:  []float64{12, 10, 22, 80},
	}
	for _, e := range entries {
		s.rows = append(s.rows, []any{e.DocumentID, e.Attempts, formatTime(e.NextRetryAt), e.LastError})
	}
	return s
}

func skippedSheet(entries []domain.SkippedEntry) sheet {
	s := sheet{
		name:    SheetSkipped,
		headers: []string{"Document", "File", "Reason", "Skipped at"},
		widths:  []float64{12, 40, 30, 22},
	}
	for _, e := range entries {
		s.rows = append(s.rows, []any{e.DocumentID, e.FileName, e.Reason, formatTime(e.SkippedAt)})
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
