package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/kasuganosora/geoaccess/pkg/dataaccess"
)

func writeTable(w io.Writer, header []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)

	// Don't uppercase the header values.
	t.Style().Format.Header = text.FormatDefault

	t.AppendHeader(toRow(header))
	for _, r := range rows {
		t.AppendRow(toRow(r))
	}
	t.Render()
}

func toRow(values []string) table.Row {
	row := make(table.Row, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

// writeResult 以表格形式输出结果并附带行数
func writeResult(w io.Writer, res *dataaccess.Result) {
	rows := make([][]string, len(res.Rows))
	for i := range res.Rows {
		rows[i] = res.Values(i)
	}
	writeTable(w, res.Columns(), rows)
	fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
}
