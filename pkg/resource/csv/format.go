package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/file"
	"github.com/kasuganosora/geoaccess/pkg/resource/memory"
)

// csvFormat 单数据集文本格式，数据集名取文件名
type csvFormat struct{}

func delimiterOf(info domain.ConnectionInfo) (rune, error) {
	d, ok := info.Lookup(domain.InfoDelimiter)
	if !ok {
		return ',', nil
	}
	switch d {
	case `\t`, "tab", "TAB":
		return '\t', nil
	}
	r := []rune(d)
	if len(r) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", d)
	}
	return r[0], nil
}

// encodingOf resolves ENCODING by its WHATWG name; UTF-8 needs no transform.
func encodingOf(info domain.ConnectionInfo) (encoding.Encoding, error) {
	name, ok := info.Lookup(domain.InfoEncoding)
	if !ok {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", name, err)
	}
	if canonical, _ := htmlindex.Name(enc); canonical == "utf-8" {
		return nil, nil
	}
	return enc, nil
}

func (csvFormat) Read(ctx context.Context, path string, info domain.ConnectionInfo, hints map[string]*domain.DataSetType) ([]memory.TableSnapshot, error) {
	delimiter, err := delimiterOf(info)
	if err != nil {
		return nil, err
	}
	enc, err := encodingOf(info)
	if err != nil {
		return nil, err
	}
	opts, err := file.SchemaOptionsFrom(info)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if enc != nil {
		r = transform.NewReader(f, enc.NewDecoder())
	}
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}

	hasHeader, err := info.Bool(domain.InfoHasHeader, true)
	if err != nil {
		return nil, err
	}
	name := file.DataSetName(path)
	var headers []string
	if hasHeader {
		if len(records) == 0 {
			return []memory.TableSnapshot{{Type: domain.NewDataSetType(name)}}, nil
		}
		headers = records[0]
		records = records[1:]
	} else if len(records) > 0 {
		headers = make([]string, len(records[0]))
	}

	dt, err := file.NewDefaultSchemaInferor(opts).InferSchema(name, headers, records)
	if err != nil {
		return nil, err
	}
	dt = file.ApplyHint(dt, hints[name])

	rows := make([]domain.Row, 0, len(records))
	for i, rec := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := make(domain.Row, len(dt.Properties))
		for j, p := range dt.Properties {
			if j >= len(rec) {
				row[p.Name] = nil
				continue
			}
			v, err := file.ParseCell(p, strings.TrimSpace(rec[j]))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+2, err)
			}
			row[p.Name] = v
		}
		rows = append(rows, row)
	}
	return []memory.TableSnapshot{{Type: dt, Rows: rows}}, nil
}

func (csvFormat) Write(ctx context.Context, path string, info domain.ConnectionInfo, tables []memory.TableSnapshot) error {
	if len(tables) > 1 {
		return errors.New("a CSV file holds a single dataset")
	}
	delimiter, err := delimiterOf(info)
	if err != nil {
		return err
	}
	enc, err := encodingOf(info)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var tw *transform.Writer
	if enc != nil {
		tw = transform.NewWriter(f, enc.NewEncoder())
		w = tw
	}
	writer := csv.NewWriter(w)
	writer.Comma = delimiter

	if len(tables) == 1 {
		t := tables[0]
		// Read 已校验 HAS_HEADER
		if hasHeader, _ := info.Bool(domain.InfoHasHeader, true); hasHeader {
			if err := writer.Write(t.Type.PropertyNames()); err != nil {
				return err
			}
		}
		for _, r := range t.Rows {
			cells, err := file.RowCells(t.Type, r)
			if err != nil {
				return err
			}
			if err := writer.Write(cells); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	if tw != nil {
		if err := tw.Close(); err != nil {
			return err
		}
	}
	return f.Sync()
}
