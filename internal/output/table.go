package output

import (
	"fmt"
	"strings"

	"github.com/tanq16/danzod/internal/types"
)

// StatusTable renders records as a fixed column table for the status command.
func StatusTable(records types.Records) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-5s %-12s %-9s %-6s %-10s %s", "ID", "STATUS", "PLUGIN", "DONE", "SIZE", "NAME")))
	b.WriteString("\n")
	for _, rec := range sortedRecords(records) {
		status := styleFor(rec.Status).Render(fmt.Sprintf("%-12s", rec.StatusMsg))
		size := rec.FormatSize
		if size == "" {
			size = "-"
		}
		line := fmt.Sprintf("%-5d %s %-9s %-6s %-10s %s", rec.ID, status, rec.Plugin,
			fmt.Sprintf("%d%%", rec.Progress), size, displayName(rec))
		b.WriteString(line)
		b.WriteString("\n")
		if rec.Error != "" {
			b.WriteString(streamStyle.Render(fmt.Sprintf("      %s %s", StyleSymbols["arrow"], rec.Error)))
			b.WriteString("\n")
		}
	}
	return b.String()
}
