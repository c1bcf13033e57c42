package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Attempts"

// ExportAttempts renders every attempt of an activity into an xlsx workbook.
// The caller owns the returned file and must Close it.
func (s *ActivityService) ExportAttempts(ctx context.Context, id uuid.UUID, claims *Claims) (*excelize.File, error) {
	activity, err := s.owned(ctx, id, claims)
	if err != nil {
		return nil, err
	}

	items, _, err := s.attempts.ListByActivity(ctx, id, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		f.Close()
		return nil, err
	}

	headers := []any{"Session ID", "Taker ID", "State", "Started At", "Deadline", "Submitted At", "Score"}
	if err := f.SetSheetRow(exportSheet, "A1", &headers); err != nil {
		f.Close()
		return nil, err
	}

	for i, item := range items {
		submitted := ""
		if item.SubmittedAt != nil {
			submitted = item.SubmittedAt.UTC().Format(time.RFC3339)
		}
		var score any = ""
		if item.Score != nil {
			score = *item.Score
		}
		row := []any{
			item.SessionID.String(),
			item.TakerID,
			string(item.State),
			item.StartedAt.UTC().Format(time.RFC3339),
			item.Deadline.UTC().Format(time.RFC3339),
			submitted,
			score,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := f.SetDocProps(&excelize.DocProperties{Title: activity.Title, Creator: "attempt-service"}); err != nil {
		f.Close()
		return nil, err
	}

	s.log.Info().Str("activity_id", id.String()).Int("rows", len(items)).Msg("Attempts exported")
	return f, nil
}
