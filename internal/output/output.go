// Package output renders CLI results as a table, JSON or YAML, and reads
// JSON or YAML input documents.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format is an output format name.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a format flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// Table is the tabular rendering of a value.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Printer writes values in one format.
type Printer struct {
	format Format
	w      io.Writer
}

// NewPrinter creates a printer writing to w.
func NewPrinter(format Format, w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{format: format, w: w}
}

// Format returns the printer's format.
func (p *Printer) Format() Format {
	return p.format
}

// Print renders v. In table format the table func is used instead; a nil
// table func falls back to YAML.
func (p *Printer) Print(v interface{}, table func() Table) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		return p.yaml(v)
	default:
		if table == nil {
			return p.yaml(v)
		}
		return p.table(table())
	}
}

func (p *Printer) yaml(v interface{}) error {
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (p *Printer) table(t Table) error {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	if len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Decode reads a JSON or YAML document from r into v.
func Decode(r io.Reader, v interface{}) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("document is empty")
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	return nil
}

// DecodeFile reads a document from path, or from stdin when path is "-".
func DecodeFile(path string, v interface{}) error {
	if path == "-" {
		return Decode(os.Stdin, v)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Decode(f, v)
}

// Dash renders empty strings as "-".
func Dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
