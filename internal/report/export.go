package report

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sitewarden/crawler/internal/storage"
)

// JobExporter writes a completed job's crawl_pages and diff_evidence rows
// to a single .xlsx workbook for offline review, an output in addition to
// the live stdout stream.
type JobExporter struct {
	DB *storage.Database
}

// ExportJob writes job's metadata (a "Job" sheet), its pages (a "Pages"
// sheet) and its site's diff evidence (a "Diff Evidence" sheet) to path.
func (e *JobExporter) ExportJob(ctx context.Context, jobID, path string) error {
	job, err := e.DB.JobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	pages, err := e.DB.CrawlPagesForJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load crawl pages for job %s: %w", jobID, err)
	}

	evidence, err := e.DB.DiffEvidenceForSite(ctx, job.SiteID)
	if err != nil {
		return fmt.Errorf("load diff evidence for site %d: %w", job.SiteID, err)
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"B71C1C"}},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})

	if err := writeJobSheet(f, "Job", job, headerStyle); err != nil {
		return err
	}
	if err := writePagesSheet(f, "Pages", pages, headerStyle); err != nil {
		return err
	}
	if err := writeEvidenceSheet(f, "Diff Evidence", evidence, headerStyle); err != nil {
		return err
	}

	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(0)

	return f.SaveAs(path)
}

func writeJobSheet(f *excelize.File, sheet string, job *storage.CrawlJob, headerStyle int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	rows := [][2]string{
		{"Job ID", job.JobID},
		{"Site ID", fmt.Sprintf("%d", job.SiteID)},
		{"Customer ID", fmt.Sprintf("%d", job.CustomerID)},
		{"Start URL", job.StartURL},
		{"Status", job.Status},
		{"Pages Crawled", fmt.Sprintf("%d", job.PagesCrawled)},
		{"Started At", job.StartedAt.Format(time.RFC3339)},
		{"Error", job.ErrorMsg},
	}
	for i, row := range rows {
		f.SetCellValue(sheet, fmt.Sprintf("A%d", i+1), row[0])
		f.SetCellValue(sheet, fmt.Sprintf("B%d", i+1), row[1])
		f.SetCellStyle(sheet, fmt.Sprintf("A%d", i+1), fmt.Sprintf("A%d", i+1), headerStyle)
	}
	f.SetColWidth(sheet, "A", "A", 16)
	f.SetColWidth(sheet, "B", "B", 60)
	return nil
}

var pageColumns = []string{"URL", "Parent URL", "Status", "Content Type", "Content Length", "Response (ms)", "Fetched At"}

func writePagesSheet(f *excelize.File, sheet string, pages []storage.CrawlPageRow, headerStyle int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	writeHeader(f, sheet, pageColumns, headerStyle)

	for i, p := range pages {
		row := i + 2
		values := []any{p.URL, p.ParentURL, p.StatusCode, p.ContentType, p.ContentLength, p.ResponseTimeMs, p.FetchedAt.Format(time.RFC3339)}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(sheet, cell, v)
		}
	}
	return autoFilterAndFreeze(f, sheet, len(pageColumns), len(pages))
}

var evidenceColumns = []string{"URL", "Baseline Hash", "Observed Hash", "Severity", "Status", "Detected At", "Diff Summary"}

func writeEvidenceSheet(f *excelize.File, sheet string, evidence []storage.DiffEvidenceRow, headerStyle int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	writeHeader(f, sheet, evidenceColumns, headerStyle)

	for i, e := range evidence {
		row := i + 2
		values := []any{e.URL, e.BaselineHash, e.ObservedHash, e.Severity, e.Status, e.DetectedAt.Format(time.RFC3339), e.DiffSummary}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(sheet, cell, v)
		}
	}
	return autoFilterAndFreeze(f, sheet, len(evidenceColumns), len(evidence))
}

func writeHeader(f *excelize.File, sheet string, columns []string, style int) {
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, col)
		f.SetCellStyle(sheet, cell, cell, style)
	}
}

func autoFilterAndFreeze(f *excelize.File, sheet string, numCols, numRows int) error {
	lastCol, err := excelize.ColumnNumberToName(numCols)
	if err != nil {
		return err
	}
	filterRange := fmt.Sprintf("A1:%s%d", lastCol, numRows+1)
	if err := f.AutoFilter(sheet, filterRange, nil); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze: true, Split: false, XSplit: 0, YSplit: 1,
		TopLeftCell: "A2", ActivePane: "bottomLeft",
	})
}
