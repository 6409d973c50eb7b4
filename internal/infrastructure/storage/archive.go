package storage

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
)

// ExportArchive files every generated report under exports/YYYY/MM/DD so
// auditors can retrieve what was downloaded
type ExportArchive struct {
	storage port.FileStorage
	now     func() time.Time
}

// NewExportArchive creates an archive on top of storage
func NewExportArchive(storage port.FileStorage) *ExportArchive {
	return &ExportArchive{storage: storage, now: time.Now}
}

// Store saves data and returns its relative path
func (a *ExportArchive) Store(ctx context.Context, filename string, data []byte) (string, error) {
	at := a.now().UTC()
	rel := path.Join("exports", at.Format("2006"), at.Format("01"), at.Format("02"),
		at.Format("150405")+"-"+filename)
	if err := a.storage.Save(ctx, rel, data); err != nil {
		return "", fmt.Errorf("archive %s: %w", filename, err)
	}
	return rel, nil
}
