package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/nugget/datalookup/internal/database"
	"github.com/nugget/datalookup/internal/extract"
)

// ChartData is a chart the answer asked the client to draw.
type ChartData struct {
	Type   string    `json:"type"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

func (c *ChartData) valid() bool {
	return (c.Type == "bar" || c.Type == "pie") &&
		len(c.Labels) > 0 &&
		len(c.Values) == len(c.Labels)
}

// TableData is a table the answer asked the client to render.
type TableData struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

type rawTable struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

func (t rawTable) table() (*TableData, bool) {
	if len(t.Headers) == 0 || t.Rows == nil {
		return nil, false
	}
	out := &TableData{Headers: t.Headers, Rows: make([][]string, len(t.Rows))}
	for i, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return nil, false
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = database.FormatValue(v)
		}
		out.Rows[i] = cells
	}
	return out, true
}

var emptyFence = regexp.MustCompile("```(?:json)?\\s*```")

// maxVisualBlocks bounds the scan for JSON blocks in one answer.
const maxVisualBlocks = 8

// extractVisuals pulls at most one chart and one table block out of the
// answer. Blocks that fail validation stay in the text untouched.
func extractVisuals(answer string) (*ChartData, *TableData, string) {
	var chart *ChartData
	var table *TableData

	text := answer
	pos := 0
	for i := 0; i < maxVisualBlocks && pos < len(text); i++ {
		rest := text[pos:]
		found, err := extract.Structured(rest, extract.KindJSON)
		if err != nil {
			break
		}
		idx := strings.Index(rest, found)
		if idx < 0 {
			break
		}

		consumed := false
		if chart == nil {
			var c ChartData
			if json.Unmarshal([]byte(found), &c) == nil && c.valid() {
				chart, consumed = &c, true
			}
		}
		if !consumed && table == nil {
			var raw rawTable
			if json.Unmarshal([]byte(found), &raw) == nil {
				if t, ok := raw.table(); ok {
					table, consumed = t, true
				}
			}
		}

		if consumed {
			text = text[:pos+idx] + text[pos+idx+len(found):]
			pos += idx
		} else {
			pos += idx + len(found)
		}
	}

	if chart == nil && table == nil {
		return nil, nil, answer
	}
	text = strings.TrimSpace(emptyFence.ReplaceAllString(text, ""))
	if text == "" {
		text = visualCaption(chart, table)
	}
	return chart, table, text
}

// visualCaption stands in for an answer that was nothing but visual
// blocks, so the text answer is never empty.
func visualCaption(chart *ChartData, table *TableData) string {
	switch {
	case chart != nil && table != nil:
		return "Here is the chart and table you asked for."
	case chart != nil:
		return "Here is the " + chart.Type + " chart you asked for."
	default:
		return "Here is the table you asked for."
	}
}
