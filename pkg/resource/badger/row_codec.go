package badger

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/twpayne/go-geom"
)

// RowCodec handles serialization and deserialization of row data. Rows
// are JSON objects; geometries are hex EWKB, times RFC3339 and bytes
// base64 so the stored document stays readable.
type RowCodec struct{}

// NewRowCodec creates a new RowCodec
func NewRowCodec() *RowCodec {
	return &RowCodec{}
}

// Encode serializes a normalized row of dt to bytes
func (c *RowCodec) Encode(dt *domain.DataSetType, row domain.Row) ([]byte, error) {
	doc := make(map[string]interface{}, len(row))
	for _, p := range dt.Properties {
		v := row[p.Name]
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case geom.T:
			data, err := geometry.EncodeEWKB(val)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s: %w", p.Name, err)
			}
			doc[p.Name] = hex.EncodeToString(data)
		case time.Time:
			doc[p.Name] = val.Format(time.RFC3339Nano)
		default:
			doc[p.Name] = v
		}
	}
	return json.Marshal(doc)
}

// Decode deserializes bytes to a row of dt
func (c *RowCodec) Decode(dt *domain.DataSetType, data []byte) (domain.Row, error) {
	var doc map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	row := make(domain.Row, len(dt.Properties))
	for _, p := range dt.Properties {
		v, ok := doc[p.Name]
		if !ok || v == nil {
			row[p.Name] = nil
			continue
		}
		if n, isNum := v.(json.Number); isNum {
			v = n.String()
		}
		if p.Type == domain.TypeBytes {
			s, _ := v.(string)
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", p.Name, err)
			}
			row[p.Name] = b
			continue
		}
		out, err := domain.ConvertForProperty(p, v)
		if err != nil {
			return nil, err
		}
		row[p.Name] = out
	}
	return row, nil
}

// TypeCodec handles serialization of dataset types
type TypeCodec struct{}

// NewTypeCodec creates a new TypeCodec
func NewTypeCodec() *TypeCodec {
	return &TypeCodec{}
}

// Encode serializes a DataSetType to bytes
func (c *TypeCodec) Encode(dt *domain.DataSetType) ([]byte, error) {
	return json.Marshal(dt)
}

// Decode deserializes bytes to a DataSetType
func (c *TypeCodec) Decode(data []byte) (*domain.DataSetType, error) {
	var dt domain.DataSetType
	if err := json.Unmarshal(data, &dt); err != nil {
		return nil, fmt.Errorf("failed to decode dataset type: %w", err)
	}
	dt.FullyLoaded = true
	return &dt, nil
}
