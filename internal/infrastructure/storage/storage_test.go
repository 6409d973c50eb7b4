package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage(t *testing.T) {
	ctx := context.Background()
	s := NewLocalFileStorage(t.TempDir(), zap.NewNop())

	require.NoError(t, s.Save(ctx, "a/b/report.xlsx", []byte("v1")))
	require.NoError(t, s.Save(ctx, "a/b/report.xlsx", []byte("v2")))
	assert.True(t, s.Exists(ctx, "a/b/report.xlsx"))

	data, err := s.Read(ctx, "a/b/report.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	require.NoError(t, s.Delete(ctx, "a/b/report.xlsx"))
	assert.False(t, s.Exists(ctx, "a/b/report.xlsx"))
	assert.NoError(t, s.Delete(ctx, "a/b/report.xlsx"), "deleting twice is fine")
}

func TestLocalFileStorage_RejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	s := NewLocalFileStorage(t.TempDir(), zap.NewNop())

	err := s.Save(ctx, "../outside.xlsx", []byte("x"))
	assert.True(t, errors.Is(err, ErrPathEscapes))
	_, err = s.Read(ctx, "../../etc/passwd")
	assert.True(t, errors.Is(err, ErrPathEscapes))
	assert.False(t, s.Exists(ctx, "../outside.xlsx"))
}

func TestExportArchive_Store(t *testing.T) {
	ctx := context.Background()
	s := NewLocalFileStorage(t.TempDir(), zap.NewNop())
	archive := NewExportArchive(s)
	archive.now = func() time.Time { return time.Date(2024, 3, 15, 9, 30, 5, 0, time.UTC) }

	rel, err := archive.Store(ctx, "request-req-1.xlsx", []byte("workbook"))
	require.NoError(t, err)
	assert.Equal(t, "exports/2024/03/15/093005-request-req-1.xlsx", rel)

	data, err := s.Read(ctx, rel)
	require.NoError(t, err)
	assert.Equal(t, "workbook", string(data))
}
