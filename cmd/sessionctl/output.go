package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

var (
	outputFormat string // "table", "json", "raw"
	outputField  string // for --field=key
)

// printResult outputs data in the chosen format.
func printResult(data map[string]any) {
	writeResult(os.Stdout, data)
}

func writeResult(out io.Writer, data map[string]any) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.Encode(data) //nolint:errcheck
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Fprintln(out, v)
			}
			return
		}
		for _, k := range sortedKeys(data) {
			fmt.Fprintf(out, "%s=%v\n", k, data[k])
		}
	default: // table
		if items, ok := data["data"].([]any); ok && len(data) == 1 {
			writeList(out, items)
			return
		}
		writeTable(out, data)
	}
}

func writeTable(out io.Writer, data map[string]any) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		switch val := data[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%s\n", kk, formatValue(val[kk]))
			}
		default:
			fmt.Fprintf(w, "%s\t%s\n", k, formatValue(val))
		}
	}
	w.Flush()
}

// writeList prints one block per item, separated by blank lines.
func writeList(out io.Writer, items []any) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No entries.")
		return
	}
	for i, item := range items {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if m, ok := item.(map[string]any); ok {
			writeTable(out, m)
			continue
		}
		fmt.Fprintln(out, formatValue(item))
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = formatValue(p)
		}
		return strings.Join(parts, ", ")
	case float64:
		// JSON numbers decode as float64; print whole amounts without exponent.
		if val >= 0 && val < 1<<63 && val == float64(uint64(val)) {
			return fmt.Sprintf("%d", uint64(val))
		}
		return fmt.Sprintf("%v", val)
	case nil:
		return "-"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}
