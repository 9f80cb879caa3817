package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/danzod/internal/events"
	"github.com/tanq16/danzod/internal/types"
)

// RecordSource is what the display renders from.
type RecordSource interface {
	Records() types.Records
}

// Display redraws the file list whenever the event bus reports changes.
type Display struct {
	source   RecordSource
	bus      *events.Bus
	sub      *events.Subscription
	out      io.Writer
	mu       sync.Mutex
	numLines int
	height   func() int
	tick     time.Duration
	started  map[int]time.Time
	ended    map[int]time.Time
	doneCh   chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewDisplay(source RecordSource, bus *events.Bus, out io.Writer) *Display {
	return &Display{
		source:  source,
		bus:     bus,
		out:     out,
		height:  getTerminalHeight,
		tick:    300 * time.Millisecond,
		started: make(map[int]time.Time),
		ended:   make(map[int]time.Time),
		doneCh:  make(chan struct{}),
		now:     time.Now,
	}
}

func (d *Display) Start() {
	d.sub = d.bus.Subscribe()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		d.redraw()
		for {
			select {
			case <-ticker.C:
				if len(d.sub.Drain()) > 0 {
					d.redraw()
				}
			case <-d.doneCh:
				d.redraw()
				records := d.source.Records()
				d.mu.Lock()
				for _, line := range d.Summary(records) {
					fmt.Fprintln(d.out, line)
				}
				d.mu.Unlock()
				return
			}
		}
	}()
}

func (d *Display) Stop() {
	close(d.doneCh)
	d.wg.Wait()
	if d.sub != nil {
		d.bus.Unsubscribe(d.sub.ID)
	}
}

func (d *Display) redraw() {
	records := d.source.Records()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.numLines > 0 {
		fmt.Fprintf(d.out, "\033[%dA\033[J", d.numLines)
	}
	lines := d.Render(records)
	for _, line := range lines {
		fmt.Fprintln(d.out, line)
	}
	d.numLines = len(lines)
}

// Render lays out active files first, then pending ones, then completed
// ones, trimmed to the terminal height.
func (d *Display) Render(records types.Records) []string {
	now := d.now()
	var active, pending, completed []types.Record
	for _, rec := range sortedRecords(records) {
		d.track(rec, now)
		switch {
		case rec.Status.Active():
			active = append(active, rec)
		case isTerminal(rec.Status):
			completed = append(completed, rec)
		default:
			pending = append(pending, rec)
		}
	}

	availableLines := d.height() - 3
	needed := 2*len(active) + len(pending) + len(completed)
	if needed > availableLines {
		maxCompleted := max(0, availableLines-(needed-len(completed)))
		if len(completed) > maxCompleted {
			completed = completed[len(completed)-maxCompleted:]
		}
	}

	var lines []string
	indent := strings.Repeat(" ", 2)
	for _, rec := range active {
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, indicatorFor(rec.Status),
			debugStyle.Render(d.elapsed(rec.ID, now).String()), styleFor(rec.Status).Render(displayName(rec))))
		lines = append(lines, fmt.Sprintf("%s%s%s", strings.Repeat(" ", 2+4), ProgressBar(rec.Progress, 30),
			streamStyle.Render(fmt.Sprintf("%s %s %s", rec.StatusMsg, StyleSymbols["bullet"], rec.FormatSize))))
	}
	for _, rec := range pending {
		msg := "Waiting..."
		if rec.Status.Deferred() && rec.Error != "" {
			msg = fmt.Sprintf("%s (%s)", rec.StatusMsg, rec.Error)
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, indicatorFor(rec.Status),
			pendingStyle.Render(displayName(rec)), streamStyle.Render(msg)))
	}
	if len(completed) > 10 {
		lines = append(lines, infoStyle.Render(fmt.Sprintf("%s%d links completed with varying hidden status ...", indent, len(completed)-8)))
		completed = completed[len(completed)-8:]
	}
	for _, rec := range completed {
		msg := displayName(rec)
		if rec.Error != "" {
			msg = fmt.Sprintf("%s: %s", msg, rec.Error)
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, indicatorFor(rec.Status),
			debugStyle.Render(d.elapsed(rec.ID, now).String()), styleFor(rec.Status).Render(msg)))
	}
	return lines
}

// Summary counts finished and failed files and lists the failures.
func (d *Display) Summary(records types.Records) []string {
	var finished int
	var failures []types.Record
	for _, rec := range sortedRecords(records) {
		switch rec.Status {
		case types.StatusFinished:
			finished++
		case types.StatusFailed, types.StatusOffline:
			failures = append(failures, rec)
		}
	}
	indent := strings.Repeat(" ", 2)
	lines := []string{"", indent + success2Style.Render(fmt.Sprintf("Completed %d of %d", finished, len(records)))}
	if len(failures) == 0 {
		return append(lines, "")
	}
	lines = append(lines, indent+errorStyle.Render(fmt.Sprintf("Failed %d of %d", len(failures), len(records))), "")
	lines = append(lines, indent+errorStyle.Bold(true).Render("Errors:"))
	for i, rec := range failures {
		lines = append(lines, fmt.Sprintf("%s%s %s", strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)), errorStyle.Render(fmt.Sprintf("File: %s", rec.URL))))
		lines = append(lines, fmt.Sprintf("%s%s", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %s", rec.Error))))
	}
	return append(lines, "")
}

func (d *Display) track(rec types.Record, now time.Time) {
	if _, ok := d.started[rec.ID]; !ok && (rec.Status.Active() || isTerminal(rec.Status)) {
		d.started[rec.ID] = now
	}
	if _, ok := d.ended[rec.ID]; !ok && isTerminal(rec.Status) {
		d.ended[rec.ID] = now
	}
	if !isTerminal(rec.Status) {
		delete(d.ended, rec.ID)
	}
}

func (d *Display) elapsed(id int, now time.Time) time.Duration {
	start, ok := d.started[id]
	if !ok {
		return 0
	}
	if end, ok := d.ended[id]; ok {
		now = end
	}
	return now.Sub(start).Round(time.Second)
}

func isTerminal(s types.Status) bool {
	switch s {
	case types.StatusFinished, types.StatusFailed, types.StatusAborted, types.StatusOffline:
		return true
	}
	return false
}

func displayName(rec types.Record) string {
	if rec.Name != "" {
		return rec.Name
	}
	return rec.URL
}

func sortedRecords(records types.Records) []types.Record {
	list := make([]types.Record, 0, len(records))
	for _, rec := range records {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Package != list[j].Package {
			return list[i].Package < list[j].Package
		}
		if list[i].Order != list[j].Order {
			return list[i].Order < list[j].Order
		}
		return list[i].ID < list[j].ID
	})
	return list
}
