// Package report exports learner progress as a spreadsheet.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

const sheetProgress = "Progress"

var header = []any{
	"Learner", "Chapters completed", "Chapters total", "Lessons completed",
	"Exercises attempted", "Exercises correct", "Accuracy", "Current section",
	"Open remedials", "Assessments passed", "Due reviews", "Current streak",
	"Longest streak", "Updated at",
}

// Collect computes a summary for each learner. A learner that fails is
// returned in the error and left out of the result.
func Collect(ctx context.Context, store learning.Store, learnerIDs []string, now time.Time, policy learning.Policy) ([]learning.ProgressSummary, error) {
	out := make([]learning.ProgressSummary, 0, len(learnerIDs))
	for _, id := range learnerIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var s learning.ProgressSummary
		err := store.WithLearner(ctx, id, func(tx learning.Tx) error {
			var err error
			s, err = learning.Summarize(ctx, tx, now, policy)
			return err
		})
		if err != nil {
			return out, fmt.Errorf("summarize %s: %w", id, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// WriteXLSX writes one row per summary to a workbook with a single
// Progress sheet.
func WriteXLSX(w io.Writer, summaries []learning.ProgressSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetProgress); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheetProgress, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, s := range summaries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			s.LearnerID, s.ChaptersCompleted, s.ChaptersTotal, s.LessonsCompleted,
			s.ExercisesAttempted, s.ExercisesCorrect, s.Accuracy, s.CurrentSection,
			s.OpenRemedials, s.AssessmentsPassed, s.DueReviews, s.CurrentStreak,
			s.LongestStreak, s.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(sheetProgress, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(sheetProgress, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
