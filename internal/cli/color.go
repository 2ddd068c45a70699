package cli

import "github.com/fatih/color"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
)

// Colorize tints health states and alert severities for text output.
// Colors are dropped when stdout is not a terminal or NO_COLOR is set.
func Colorize(s string) string {
	switch s {
	case "healthy", "info", "active":
		return green(s)
	case "degraded", "warning", "cooling":
		return yellow(s)
	case "critical", "inactive", "off":
		return red(s)
	default:
		return s
	}
}
