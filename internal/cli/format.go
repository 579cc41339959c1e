package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fpang/holoscene/internal/pipeline"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// PrintResult writes a human-readable summary of a finished run.
func PrintResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run:      %s\n", res.RunID)
	fmt.Fprintf(w, "State:    %s\n", res.State)
	fmt.Fprintf(w, "Elapsed:  %s\n", FormatDurationShort(res.Elapsed))
	if res.ImageURL != "" {
		fmt.Fprintf(w, "Image:    %s\n", res.ImageURL)
	}
	if res.VideoURL != "" {
		fmt.Fprintf(w, "Video:    %s\n", res.VideoURL)
	}
	if a := res.Artifact; a != nil {
		note := ""
		switch {
		case a.IsDuplicate:
			note = " (existing artifact)"
		case a.Degraded:
			note = " (provider URL, upload failed)"
		}
		fmt.Fprintf(w, "Artifact: %s%s\n", a.ID, note)
		fmt.Fprintf(w, "URL:      %s\n", a.DurableURL)
	}
}

// PrintRun writes the transition history of a stored run.
func PrintRun(w io.Writer, status *pipeline.RunStatus) {
	run := status.Run
	fmt.Fprintf(w, "Run %s (%s) owner=%s state=%s\n", run.ID, run.Operation, run.OwnerID, status.State)
	for _, tr := range run.History {
		at := time.UnixMilli(tr.At).UTC().Format(time.RFC3339)
		if tr.Detail != "" {
			fmt.Fprintf(w, "  %s  %-15s %s\n", at, tr.State, tr.Detail)
		} else {
			fmt.Fprintf(w, "  %s  %s\n", at, tr.State)
		}
	}
	if run.ErrorKind != "" {
		fmt.Fprintf(w, "Error: %s: %s\n", run.ErrorKind, run.ErrorMessage)
	}
	if run.ResultURL != "" {
		fmt.Fprintf(w, "URL:   %s\n", run.ResultURL)
	}
}
