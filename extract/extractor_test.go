package extract

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/pst-to-mime/archive"
	"github.com/dhcgn/pst-to-mime/archive/archivetest"
	"github.com/dhcgn/pst-to-mime/logging"
	"github.com/dhcgn/pst-to-mime/stats"
)

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(logging.NewPrefixHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func emlFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.eml"))
	require.NoError(t, err)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names
}

func TestMessageFileName(t *testing.T) {
	assert.Equal(t, "2097188.eml", MessageFileName(2097188))
	assert.Equal(t, "0.eml", MessageFileName(0))
}

func TestExtract_OnlyNotes(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	collector := stats.NewCollector()
	folder := archivetest.NewFolder(7, "Inbox",
		archivetest.Note(1, "first"),
		archivetest.WithClass(2, "IPM.Appointment"),
		archivetest.Note(3, "third"),
	)

	count, err := NewExtractor(testLogger(&logs), collector).Extract(context.Background(), folder, dir)
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"1.eml", "3.eml"}, emlFiles(t, dir))

	data, err := os.ReadFile(filepath.Join(dir, "3.eml"))
	require.NoError(t, err)
	assert.Equal(t, "Subject: item 3\r\n\r\nthird\r\n", string(data))

	summary := collector.Snapshot()
	assert.Equal(t, 2, summary.Written)
	assert.Equal(t, 1, summary.Omitted)
	assert.EqualValues(t, len("Subject: item 1\r\n\r\nfirst\r\n")+len(data), summary.BytesWritten)

	assert.Contains(t, logs.String(), "INFO: Omitting non-message item folderID=7 itemID=2 class=IPM.Appointment")
	assert.Contains(t, logs.String(), "INFO: Writing EML file path="+filepath.Join(dir, "1.eml"))
	assert.Contains(t, logs.String(), "INFO: Total messages extracted from folder folderID=7 messages=2")
}

func TestExtract_ClassIsExactMatch(t *testing.T) {
	dir := t.TempDir()
	folder := archivetest.NewFolder(1, "Inbox",
		archivetest.WithClass(1, "IPM.Note.SMIME"),
		archivetest.WithClass(2, "ipm.note"),
		archivetest.WithClass(3, ""),
	)

	count, err := NewExtractor(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), nil).Extract(context.Background(), folder, dir)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, emlFiles(t, dir))
}

func TestExtract_EmptyFolder(t *testing.T) {
	dir := t.TempDir()

	count, err := NewExtractor(nil, nil).Extract(context.Background(), archivetest.NewFolder(1, "Empty"), dir)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestExtract_SkipsCorruptItems(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	collector := stats.NewCollector()
	folder := archivetest.NewFolder(9, "Inbox",
		archivetest.Note(1, "ok"),
		archivetest.Corrupt(2),
		archivetest.OutOfRange(3),
		archivetest.Note(4, "ok"),
	)

	count, err := NewExtractor(testLogger(&logs), collector).Extract(context.Background(), folder, dir)
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"1.eml", "4.eml"}, emlFiles(t, dir))
	assert.Equal(t, 2, collector.Snapshot().Corrupt)
	assert.ErrorIs(t, collector.Snapshot().LastError, archive.ErrCorrupt)
	assert.Contains(t, logs.String(), "WARNING: Skipping corrupt item folderID=9 itemID=2")
	assert.Contains(t, logs.String(), "WARNING: Skipping corrupt item folderID=9 itemID=3")
}

func TestExtract_SkipsUndecodableRecords(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	collector := stats.NewCollector()
	folder := archivetest.NewFolder(9, "Inbox",
		archivetest.Undecodable(1),
		archivetest.Note(2, "ok"),
		archivetest.Undecodable(3),
		archivetest.Note(4, "ok"),
	)

	count, err := NewExtractor(testLogger(&logs), collector).Extract(context.Background(), folder, dir)
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"2.eml", "4.eml"}, emlFiles(t, dir))
	assert.Equal(t, 2, collector.Snapshot().Corrupt)
	assert.Zero(t, collector.Snapshot().Omitted)
	assert.Contains(t, logs.String(), "WARNING: Skipping corrupt item folderID=9 itemID=3")
}

func TestExtract_WritePanicLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	folder := archivetest.NewFolder(5, "Inbox",
		archivetest.Note(1, "ok"),
		archivetest.WritePanic(2),
		archivetest.Note(3, "never written"),
	)

	count, err := NewExtractor(nil, nil).Extract(context.Background(), folder, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index out of range")
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"1.eml"}, emlFiles(t, dir))
}

func TestExtract_WriteFailureEndsFolder(t *testing.T) {
	dir := t.TempDir()
	folder := archivetest.NewFolder(5, "Inbox",
		archivetest.Note(1, "ok"),
		archivetest.WriteFailure(2),
		archivetest.Note(3, "never written"),
	)

	count, err := NewExtractor(nil, nil).Extract(context.Background(), folder, dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, archivetest.ErrWrite)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"1.eml"}, emlFiles(t, dir))
}

func TestExtract_NonStructuralErrorEndsFolder(t *testing.T) {
	dir := t.TempDir()
	failure := errors.New("decrypt failed")
	folder := archivetest.NewFolder(5, "Inbox",
		archivetest.Note(1, "ok"),
		&archivetest.Item{ItemID: 2, Class: archive.MessageClassNote, Err: failure},
		archivetest.Note(3, "ok"),
	)

	count, err := NewExtractor(nil, nil).Extract(context.Background(), folder, dir)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 1, count)
}

func TestExtract_NonRuntimePanicEndsFolder(t *testing.T) {
	dir := t.TempDir()
	folder := archivetest.NewFolder(5, "Inbox",
		archivetest.Note(1, "ok"),
		&archivetest.Item{ItemID: 2, Class: archive.MessageClassNote, Panic: "unexpected state"},
	)

	count, err := NewExtractor(nil, nil).Extract(context.Background(), folder, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected state")
	assert.NotErrorIs(t, err, archive.ErrCorrupt)
	// Named results keep the count accumulated before the panic.
	assert.Equal(t, 1, count)
}

func TestExtract_ItemsAndIteratorErrors(t *testing.T) {
	listErr := errors.New("table unreadable")
	folder := archivetest.NewFolder(1, "Inbox")
	folder.ItemsErr = listErr

	count, err := NewExtractor(nil, nil).Extract(context.Background(), folder, t.TempDir())
	assert.ErrorIs(t, err, listErr)
	assert.Zero(t, count)

	iterErr := errors.New("truncated index")
	folder = archivetest.NewFolder(2, "Sent", archivetest.Note(1, "ok"))
	folder.IterErr = iterErr

	count, err = NewExtractor(nil, nil).Extract(context.Background(), folder, t.TempDir())
	assert.ErrorIs(t, err, iterErr)
	assert.Equal(t, 1, count)
}

func TestExtract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	count, err := NewExtractor(nil, nil).Extract(ctx, archivetest.NewFolder(1, "Inbox", archivetest.Note(1, "ok")), t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, count)
}
