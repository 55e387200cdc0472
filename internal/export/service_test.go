package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/leadflowx/scoring-job/internal/api/storage"
	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

type pagedLister struct {
	results []domain.Result
	calls   int
	err     error
}

func (p *pagedLister) ListScores(ctx context.Context, filter storage.ScoreFilter) ([]domain.Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}

	start := 0
	if filter.Cursor != nil {
		for i, r := range p.results {
			if r.ID == filter.Cursor.ID {
				start = i + 1
			}
		}
	}
	end := min(start+filter.PageSize+1, len(p.results))
	return p.results[start:end], nil
}

func results(n int) []domain.Result {
	base := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	out := make([]domain.Result, n)
	for i := range out {
		out[i] = domain.Result{
			ID:        int64(n - i),
			LeadID:    int64(1000 + i),
			Email:     "lead@example.com",
			Score:     18,
			Breakdown: []byte(`{"employee_count":5,"email_exists":2,"website_ssl":3,"company_size":8}`),
			RunID:     "run-1",
			CreatedAt: base.Add(-time.Duration(i) * time.Second),
		}
	}
	return out
}

func TestService_ScoresXLSX(t *testing.T) {
	lister := &pagedLister{results: results(3)}

	data, rows, err := NewService(lister, nil).ScoresXLSX(context.Background(), "2026-03-01")

	require.NoError(t, err)
	assert.Equal(t, 3, rows)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	sheetRows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, sheetRows, 4)
	assert.Equal(t, []string{
		"Result ID", "Lead ID", "Email", "Score",
		"audit_score", "employee_count", "email_exists", "website_ssl", "company_size",
		"Run ID", "Scored At",
	}, sheetRows[0])
	assert.Equal(t, []string{
		"3", "1000", "lead@example.com", "18", "0", "5", "2", "3", "8", "run-1", "2026-03-01T02:00:00Z",
	}, sheetRows[1])
}

func TestService_ScoresXLSXPaginates(t *testing.T) {
	lister := &pagedLister{results: results(pageSize*2 + 1)}

	_, rows, err := NewService(lister, nil).ScoresXLSX(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, pageSize*2+1, rows)
	assert.Equal(t, 3, lister.calls)
}

func TestService_ScoresXLSXEmpty(t *testing.T) {
	_, rows, err := NewService(&pagedLister{}, nil).ScoresXLSX(context.Background(), "2026-03-01")

	require.NoError(t, err)
	assert.Zero(t, rows)
}

func TestService_ScoresXLSXErrors(t *testing.T) {
	_, _, err := NewService(&pagedLister{err: errors.New("boom")}, nil).ScoresXLSX(context.Background(), "")
	assert.ErrorContains(t, err, "failed to query scores")

	bad := results(1)
	bad[0].Breakdown = []byte(`not json`)
	_, _, err = NewService(&pagedLister{results: bad}, nil).ScoresXLSX(context.Background(), "")
	assert.ErrorContains(t, err, "failed to decode breakdown")
}
