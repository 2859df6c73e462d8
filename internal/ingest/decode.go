package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

// Strategy decodes raw file content into candidate tables. The exports
// arrive either as a real spreadsheet or as an HTML table saved under a
// spreadsheet extension, so decoding is an ordered list of strategies
// rather than a guess from the file name.
type Strategy interface {
	Name() string
	Decode(data []byte) ([]*Table, error)
}

// DefaultStrategies returns the decode order: spreadsheet first, then
// HTML table as fallback.
func DefaultStrategies() []Strategy {
	return []Strategy{SpreadsheetStrategy{}, HTMLTableStrategy{}}
}

// StrategyOutcome is the typed result of one decode attempt.
type StrategyOutcome struct {
	Strategy string
	Err      error
}

// DecodeError aggregates the per-strategy outcomes when no strategy
// produced a usable table.
type DecodeError struct {
	Path     string
	Attempts []StrategyOutcome
}

func (e *DecodeError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Strategy, a.Err)
	}
	return fmt.Sprintf("no decode strategy succeeded for %s (%s)", e.Path, strings.Join(parts, "; "))
}

// DecodeFile reads the file and tries each strategy in order. The first
// strategy that yields tables wins, and among its tables the one with
// the most data rows is taken as the primary data table.
func DecodeFile(path string, strategies ...Strategy) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(path, data, strategies...)
}

// Decode applies the strategies to already-read content. See DecodeFile.
func Decode(path string, data []byte, strategies ...Strategy) (*Table, error) {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}

	var attempts []StrategyOutcome
	for _, s := range strategies {
		tables, err := s.Decode(data)
		if err != nil {
			attempts = append(attempts, StrategyOutcome{Strategy: s.Name(), Err: err})
			continue
		}
		return largestTable(tables), nil
	}
	return nil, &DecodeError{Path: path, Attempts: attempts}
}

func largestTable(tables []*Table) *Table {
	best := tables[0]
	for _, t := range tables[1:] {
		if len(t.Rows) > len(best.Rows) {
			best = t
		}
	}
	return best
}

// SpreadsheetStrategy decodes xlsx workbooks via excelize.
type SpreadsheetStrategy struct{}

func (SpreadsheetStrategy) Name() string { return "spreadsheet" }

func (SpreadsheetStrategy) Decode(data []byte) ([]*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var tables []*Table
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if t := tableFromRows(rows); t != nil {
			tables = append(tables, t)
		}
	}
	if len(tables) == 0 {
		return nil, errors.New("workbook has no sheet with a header row and data")
	}
	return tables, nil
}

// HTMLTableStrategy decodes <table> markup, the shape of exports that
// masquerade as .xls files.
type HTMLTableStrategy struct{}

func (HTMLTableStrategy) Name() string { return "html-table" }

func (HTMLTableStrategy) Decode(data []byte) ([]*Table, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var tables []*Table
	for _, node := range findElements(doc, "table") {
		var rows [][]string
		for _, tr := range findElements(node, "tr") {
			var cells []string
			for _, cell := range findCells(tr) {
				cells = append(cells, strings.TrimSpace(nodeText(cell)))
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		}
		if t := tableFromRows(rows); t != nil {
			tables = append(tables, t)
		}
	}
	if len(tables) == 0 {
		return nil, errors.New("no html table with a header row and data")
	}
	return tables, nil
}

// tableFromRows builds a Table from raw rows: first row is the header,
// the rest are data. Ragged rows are tolerated; cells beyond the header
// width are ignored and short rows leave trailing fields empty.
func tableFromRows(rows [][]string) *Table {
	if len(rows) < 2 {
		return nil
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	t := &Table{Headers: headers, Rows: make([]map[string]string, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		m := make(map[string]string, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(row) {
				m[h] = row[i]
			} else {
				m[h] = ""
			}
		}
		t.Rows = append(t.Rows, m)
	}
	return t
}

func findElements(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findCells(tr *html.Node) []*html.Node {
	var out []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			out = append(out, c)
		}
	}
	return out
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
