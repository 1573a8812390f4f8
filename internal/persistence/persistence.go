package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

const maxQueryInName = 50

// ErrReportNotFound is returned when no report is stored under a name.
var ErrReportNotFound = errors.New("report not found")

// Persister stores a finished report under a name.
type Persister interface {
	Save(ctx context.Context, name, text string) error
}

// Reader loads a stored report by name.
type Reader interface {
	Get(ctx context.Context, name string) (*Report, error)
}

// Report is a stored report.
type Report struct {
	Name      string    `db:"name" json:"name"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReportName builds research_{query}_{YYYYmmdd_HHMMSS} with the query reduced
// to filename-safe characters.
func ReportName(query string, at time.Time) string {
	return fmt.Sprintf("research_%s_%s", util.SanitizeFilename(query, maxQueryInName), at.Format("20060102_150405"))
}
