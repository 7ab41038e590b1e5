package cmd

import (
	"strings"

	"github.com/fatih/color"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorBold    = color.New(color.Bold).SprintFunc()
	colorBadRed  = color.New(color.FgHiWhite, color.BgRed, color.Bold).SprintFunc()
)

func formatGradeWithColor(grade string) string {
	switch strings.ToUpper(grade) {
	case "A":
		return colorSuccess(grade)
	case "B", "C":
		return colorWarn(grade)
	case "D", "F":
		return colorError(grade)
	default:
		return grade
	}
}

func formatSeverityWithColor(sev finding.Severity) string {
	label := strings.ToUpper(string(sev))
	switch sev {
	case finding.SeverityCritical:
		return colorBadRed(label)
	case finding.SeverityHigh:
		return colorError(label)
	case finding.SeverityMedium:
		return colorWarn(label)
	case finding.SeverityLow:
		return colorInfo(label)
	default:
		return label
	}
}

func formatStatusWithColor(ok bool, text string) string {
	if ok {
		return colorSuccess(text)
	}
	return colorError(text)
}
