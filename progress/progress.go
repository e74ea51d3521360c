package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/pst-to-mime/stats"
)

// Bar tracks extraction progress over the folders of an archive. It is a
// stats.Sink; the bar starts once the folder count is known.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	done    int
	written int
	mu      sync.Mutex
	enabled bool
	started time.Time
}

// New creates a progress bar. A disabled bar ignores every event, so callers
// can always wire it in.
func New(enabled bool) *Bar {
	return &Bar{enabled: enabled, started: time.Now()}
}

// Emit advances the bar from extraction events.
func (b *Bar) Emit(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeFoldersListed:
		b.total = evt.Count
		if b.total == 0 {
			return
		}
		pterm.Info.Printf("Folders in archive: %d\n", b.total)
		pb, err := pterm.DefaultProgressbar.
			WithTotal(b.total).
			WithTitle("Scanning folders").
			Start()
		if err == nil {
			b.pb = pb
		}
	case stats.EventTypeFolderSkipped:
		b.advance(fmt.Sprintf("Skipped folder %d", evt.FolderID))
	case stats.EventTypeFolderAccepted:
		b.advance("Adding " + truncate(evt.Detail, 40))
	case stats.EventTypeFolderDone, stats.EventTypeFolderFailed:
		b.done++
		if b.pb != nil {
			b.pb.UpdateTitle(fmt.Sprintf("Extracted %d folders, %d messages", b.done, b.written))
		}
		if evt.Type == stats.EventTypeFolderFailed && evt.Err != nil {
			pterm.Error.Printf("Folder %d: %v\n", evt.FolderID, evt.Err)
		}
	case stats.EventTypeWritten:
		b.written++
	}
}

// advance moves the bar by one folder during the scan pass.
func (b *Bar) advance(title string) {
	if b.pb == nil {
		return
	}
	b.pb.UpdateTitle(title)
	b.pb.Increment()
}

// Stop finalizes the bar and prints the run summary.
func (b *Bar) Stop(summary stats.Summary, logger *slog.Logger) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb != nil {
		if b.pb.Current < b.total {
			b.pb.Current = b.total
		}
		_, _ = b.pb.Stop()
	}

	if logger == nil {
		return
	}
	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", time.Since(b.started).Round(time.Millisecond))
	pterm.Info.Printf("Folders accepted: %d\n", summary.FoldersAccepted)
	pterm.Info.Printf("Folders skipped: %d\n", summary.FoldersSkipped)
	pterm.Info.Printf("Folders failed: %d\n", summary.FoldersFailed)
	pterm.Info.Printf("Messages written: %d\n", summary.Written)
	pterm.Info.Printf("Non-message items omitted: %d\n", summary.Omitted)
	pterm.Info.Printf("Corrupt items skipped: %d\n", summary.Corrupt)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
