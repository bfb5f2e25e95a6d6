// Package cli provides output helpers for the shashin command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hyperjump/shashin/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// WriteSearchResults writes text search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			writeCompact(w, r)
		}
		return nil
	default:
		fmt.Fprintf(w, "\nFound %d images for %q in %dms (showing %d)\n\n",
			response.TotalFound, response.Query, response.QueryTime, len(response.Results))
		for _, r := range response.Results {
			writeOneResult(w, r)
		}
		return nil
	}
}

// WriteSimilarResults writes similar-image results to w in the given format.
func WriteSimilarResults(w io.Writer, response *models.SimilarResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			writeCompact(w, r)
		}
		return nil
	default:
		fmt.Fprintf(w, "\nFound %d images similar to %s in %dms\n\n",
			len(response.Results), response.ImageID, response.QueryTime)
		for _, r := range response.Results {
			writeOneResult(w, r)
		}
		return nil
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeCompact(w io.Writer, r *models.SearchResult) {
	classes := make([]string, 0, len(r.TopObjects))
	for _, o := range r.TopObjects {
		classes = append(classes, o.Class)
	}
	fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\t%s\n", r.Rank, r.Score, r.ImageID, r.Scene, strings.Join(classes, ","))
}

func writeOneResult(w io.Writer, r *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Objects: %.4f, Scene: %.4f)\n",
		r.Rank, r.Score, r.ObjectScore, r.SceneScore)
	fmt.Fprintf(w, "ID: %s\n", r.ImageID)
	if r.Scene != "" {
		fmt.Fprintf(w, "Scene: %s\n", r.Scene)
	}
	if r.ThumbnailURL != "" {
		fmt.Fprintf(w, "Thumbnail: %s\n", r.ThumbnailURL)
	}
	for _, o := range r.TopObjects {
		fmt.Fprintf(w, "  %-16s det %.2f  sim %.4f  box [%.0f %.0f %.0f %.0f]\n",
			Truncate(o.Class, 16), o.Score, o.Similarity, o.BBox.X, o.BBox.Y, o.BBox.Width, o.BBox.Height)
	}
	fmt.Fprintln(w)
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteStatus prints a status document as aligned key/value lines. Nested objects are
// flattened with dotted keys and printed in key order.
func WriteStatus(w io.Writer, status map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	flat := make(map[string]string)
	flatten("", status, flat)
	keys := make([]string, 0, len(flat))
	width := 0
	for k := range flat {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-*s  %s\n", width+1, k+":", flat[k])
	}
	return nil
}

func flatten(prefix string, v interface{}, out map[string]string) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, out)
		}
	case []interface{}:
		out[prefix] = fmt.Sprintf("%d entries", len(val))
	case float64:
		if val == float64(int64(val)) {
			out[prefix] = fmt.Sprintf("%d", int64(val))
		} else {
			out[prefix] = fmt.Sprintf("%g", val)
		}
	case nil:
		out[prefix] = "-"
	default:
		out[prefix] = fmt.Sprintf("%v", val)
	}
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
