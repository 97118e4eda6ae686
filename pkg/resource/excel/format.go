package excel

import (
	"context"
	"fmt"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/xuri/excelize/v2"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/file"
	"github.com/kasuganosora/geoaccess/pkg/resource/memory"
)

// InfoSheet limits the source to one worksheet.
const InfoSheet = "SHEET"

// excelFormat 每个工作表一个数据集，第一行是列头
type excelFormat struct{}

func (excelFormat) Read(ctx context.Context, path string, info domain.ConnectionInfo, hints map[string]*domain.DataSetType) ([]memory.TableSnapshot, error) {
	opts, err := file.SchemaOptionsFrom(info)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if only, ok := info.Lookup(InfoSheet); ok {
		if idx, err := f.GetSheetIndex(only); err != nil || idx < 0 {
			return nil, fmt.Errorf("sheet not found: %s", only)
		}
		sheets = []string{only}
	}

	var out []memory.TableSnapshot
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read excel rows: %w", err)
		}
		// 空工作表不构成数据集
		if len(rows) == 0 {
			continue
		}
		t, err := readSheet(sheet, rows, opts, hints[sheet])
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheet, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func readSheet(name string, rows [][]string, opts file.SchemaOptions, hint *domain.DataSetType) (memory.TableSnapshot, error) {
	headers, data := rows[0], rows[1:]
	dt, err := file.NewDefaultSchemaInferor(opts).InferSchema(name, headers, data)
	if err != nil {
		return memory.TableSnapshot{}, err
	}
	dt = file.ApplyHint(dt, hint)

	out := make([]domain.Row, 0, len(data))
	for i, rec := range data {
		row := make(domain.Row, len(dt.Properties))
		for j, p := range dt.Properties {
			if j >= len(rec) {
				row[p.Name] = nil
				continue
			}
			v, err := file.ParseCell(p, rec[j])
			if err != nil {
				return memory.TableSnapshot{}, fmt.Errorf("row %d: %w", i+2, err)
			}
			row[p.Name] = v
		}
		out = append(out, row)
	}
	return memory.TableSnapshot{Type: dt, Rows: out}, nil
}

func (excelFormat) Write(ctx context.Context, path string, info domain.ConnectionInfo, tables []memory.TableSnapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	first := f.GetSheetName(0)
	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName(first, t.Type.Name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(t.Type.Name); err != nil {
			return err
		}
		if err := writeSheet(f, t); err != nil {
			return fmt.Errorf("sheet %s: %w", t.Type.Name, err)
		}
	}
	return f.SaveAs(path)
}

func writeSheet(f *excelize.File, t memory.TableSnapshot) error {
	header := make([]interface{}, len(t.Type.Properties))
	for i, p := range t.Type.Properties {
		header[i] = p.Name
	}
	if err := f.SetSheetRow(t.Type.Name, "A1", &header); err != nil {
		return err
	}
	for i, r := range t.Rows {
		values := make([]interface{}, len(t.Type.Properties))
		for j, p := range t.Type.Properties {
			v, err := cellValue(r[p.Name])
			if err != nil {
				return fmt.Errorf("property %s: %w", p.Name, err)
			}
			values[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(t.Type.Name, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

// cellValue keeps numbers and booleans native; geometries and times are
// written as text so they read back unchanged.
func cellValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case geom.T:
		return geometry.FormatWKT(x)
	case time.Time:
		return x.Format(time.RFC3339), nil
	case []byte:
		return string(x), nil
	}
	return v, nil
}
