// Package export writes result records to XLSX workbooks.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/leadflowx/scoring-job/internal/api/storage"
	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

// SheetName is the worksheet holding the scores
const SheetName = "Scores"

const pageSize = 500

// ScoreLister pages through result records. *storage.Storage implements it.
type ScoreLister interface {
	ListScores(ctx context.Context, filter storage.ScoreFilter) ([]domain.Result, error)
}

// Service produces XLSX exports of lead scores
type Service struct {
	lister ScoreLister
	logger *slog.Logger
}

func NewService(lister ScoreLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{lister: lister, logger: logger}
}

// ruleColumns fixes the breakdown column order
var ruleColumns = []string{"audit_score", "employee_count", "email_exists", "website_ssl", "company_size"}

// ScoresXLSX returns a workbook with every result record of jobDate, or of
// all dates when jobDate is empty
func (s *Service) ScoresXLSX(ctx context.Context, jobDate string) ([]byte, int, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, 0, fmt.Errorf("failed to name sheet: %w", err)
	}

	headers := []string{"Result ID", "Lead ID", "Email", "Score"}
	headers = append(headers, ruleColumns...)
	headers = append(headers, "Run ID", "Scored At")
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}

	row := 2
	filter := storage.ScoreFilter{JobDate: jobDate, PageSize: pageSize}
	for {
		results, err := s.lister.ListScores(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to query scores: %w", err)
		}

		hasMore := len(results) > pageSize
		if hasMore {
			results = results[:pageSize]
		}

		for _, r := range results {
			if err := writeRow(f, row, r); err != nil {
				return nil, 0, err
			}
			row++
		}

		if !hasMore {
			break
		}
		last := results[len(results)-1]
		filter.Cursor = &storage.ScoreCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	_ = f.SetColWidth(SheetName, "A", "B", 12)
	_ = f.SetColWidth(SheetName, "C", "C", 36)
	_ = f.SetColWidth(SheetName, "D", "I", 14)
	_ = f.SetColWidth(SheetName, "J", "J", 38)
	_ = f.SetColWidth(SheetName, "K", "K", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to write workbook: %w", err)
	}

	rows := row - 2
	s.logger.Info("Scores exported",
		slog.String("job_date", jobDate),
		slog.Int("rows", rows),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return buf.Bytes(), rows, nil
}

func writeRow(f *excelize.File, row int, r domain.Result) error {
	breakdown := map[string]int{}
	if len(r.Breakdown) > 0 {
		if err := json.Unmarshal(r.Breakdown, &breakdown); err != nil {
			return fmt.Errorf("failed to decode breakdown of result %d: %w", r.ID, err)
		}
	}

	values := []any{r.ID, r.LeadID, r.Email, r.Score}
	for _, rule := range ruleColumns {
		values = append(values, breakdown[rule])
	}
	values = append(values, r.RunID, r.CreatedAt.UTC().Format(time.RFC3339))

	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}
