// internal/report/report.go
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"mdt-discovery/internal/model"
)

// Summarize renders one human-readable line per port, in enumeration
// order. Format: "<port>: match=<MATCH|no> manuf=<m> product=<p> reply=<r>".
func Summarize(result *model.ScanResult) []string {
	lines := make([]string, 0, result.Len())
	for _, name := range result.Ports() {
		v := result.Get(name)
		status := "no"
		if v.Match {
			status = "MATCH"
		}
		lines = append(lines, fmt.Sprintf("%s: match=%s manuf=%s product=%s reply=%s",
			v.Port, status, v.Manufacturer, v.Product, v.ReplyText()))
	}
	return lines
}

// WriteSummary writes the summary lines to w.
func WriteSummary(w io.Writer, result *model.ScanResult) error {
	for _, line := range Summarize(result) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}

// Encode serializes the result set as a JSON object keyed by port name.
// Pretty mode only changes whitespace; field content is identical.
func Encode(result *model.ScanResult, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(result, "", "  ")
	}
	return json.Marshal(result)
}
