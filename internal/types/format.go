package types

import "fmt"

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count. The value keeps being divided by 1024 while
// it is above 1000, so 1010 bytes render as "0.99 KB".
func FormatSize(size int64) string {
	value := float64(size)
	steps := 0
	for value > 1000 && steps < len(sizeUnits)-1 {
		value /= 1024.0
		steps++
	}
	return fmt.Sprintf("%.2f %s", value, sizeUnits[steps])
}

// FormatDuration renders seconds as HH:MM:SS. Hours are not wrapped at 24.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		return "00:00:00"
	}
	total := int64(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// FormatSpeed renders a bytes per second value using FormatSize units.
func FormatSpeed(bytesPerSecond int64) string {
	return FormatSize(bytesPerSecond) + "/s"
}
