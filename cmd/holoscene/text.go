package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fpang/holoscene/internal/pipeline"
	"github.com/fpang/holoscene/internal/render"
)

// parseTexts turns --text values into render items. A value without an
// @START-END suffix spans the whole output.
func parseTexts(values []string, durationSeconds float64) ([]render.TextItem, error) {
	if durationSeconds <= 0 {
		durationSeconds = pipeline.DefaultClipDuration.Seconds()
	}
	items := make([]render.TextItem, 0, len(values))
	for _, v := range values {
		item := render.TextItem{Text: v, Start: 0, End: durationSeconds}
		if i := strings.LastIndex(v, "@"); i >= 0 {
			if start, end, ok := parseWindow(v[i+1:]); ok {
				item = render.TextItem{Text: v[:i], Start: start, End: end}
			}
		}
		if strings.TrimSpace(item.Text) == "" {
			return nil, fmt.Errorf("empty text in %q", v)
		}
		if item.End <= item.Start {
			return nil, fmt.Errorf("text %q ends before it starts", item.Text)
		}
		items = append(items, item)
	}
	return items, nil
}

func parseWindow(s string) (start, end float64, ok bool) {
	from, to, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseFloat(from, 64)
	if err != nil {
		return 0, 0, false
	}
	end, err = strconv.ParseFloat(to, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}

func styleFromFlags() render.Style {
	return render.Style{
		Font:      fontFlag,
		FontSize:  fontSizeFlag,
		Color:     colorFlag,
		GlowColor: glowFlag,
		Effect:    effectFlag,
	}
}
