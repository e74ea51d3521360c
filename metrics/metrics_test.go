package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/pst-to-mime/stats"
)

func TestMetrics_Emit(t *testing.T) {
	m := New()
	for _, evt := range []stats.Event{
		{Type: stats.EventTypeFoldersListed, Count: 4},
		{Type: stats.EventTypeFolderAccepted},
		{Type: stats.EventTypeFolderAccepted},
		{Type: stats.EventTypeFolderSkipped},
		{Type: stats.EventTypeFolderFailed},
		{Type: stats.EventTypeWritten, Bytes: 120},
		{Type: stats.EventTypeWritten, Bytes: 80},
		{Type: stats.EventTypeCorrupt},
		{Type: stats.EventTypeUploaded},
	} {
		m.Emit(evt)
	}

	assert.Equal(t, 4.0, testutil.ToFloat64(m.FoldersListed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Folders.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Folders.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Items.WithLabelValues("written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Items.WithLabelValues("corrupt")))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.BytesWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues("uploaded")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.Emit(stats.Event{Type: stats.EventTypeWritten, Bytes: 10})

	path := filepath.Join(t.TempDir(), "pst_to_mime.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `pst_to_mime_items_total{outcome="written"} 1`)
	assert.Contains(t, string(data), "pst_to_mime_eml_bytes_written_total 10")
}
