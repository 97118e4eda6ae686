package badger

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// KeyEncoder encodes keys for Badger storage
type KeyEncoder struct{}

// NewKeyEncoder creates a new KeyEncoder
func NewKeyEncoder() *KeyEncoder {
	return &KeyEncoder{}
}

// EncodeTypeKey encodes dataset type key
// Format: type:{dataset}
func (e *KeyEncoder) EncodeTypeKey(name string) []byte {
	return []byte(PrefixType + name)
}

// DecodeTypeKey decodes dataset name from key
func (e *KeyEncoder) DecodeTypeKey(key []byte) (name string, ok bool) {
	s := string(key)
	if !strings.HasPrefix(s, PrefixType) {
		return "", false
	}
	return s[len(PrefixType):], true
}

// EncodeRowKey encodes row data key
// Format: row:{dataset}:{row id}
func (e *KeyEncoder) EncodeRowKey(name string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", PrefixRow, name, FormatIntKey(id)))
}

// DecodeRowKey decodes the row id from a key of dataset name
func (e *KeyEncoder) DecodeRowKey(name string, key []byte) (int64, bool) {
	prefix := string(e.EncodeRowPrefix(name))
	s := string(key)
	if !strings.HasPrefix(s, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(s[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// EncodeRowPrefix encodes row key prefix for dataset scan
// Format: row:{dataset}:
func (e *KeyEncoder) EncodeRowPrefix(name string) []byte {
	return []byte(fmt.Sprintf("%s%s:", PrefixRow, name))
}

// EncodeIndexKey encodes a unique key entry
// Format: idx:{dataset}:{col1,col2}:{value}
func (e *KeyEncoder) EncodeIndexKey(name string, columns []string, value string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", PrefixIndex, name, strings.Join(columns, ","), value))
}

// EncodeIndexPrefix encodes the prefix of every key entry of a dataset
// Format: idx:{dataset}:
func (e *KeyEncoder) EncodeIndexPrefix(name string) []byte {
	return []byte(fmt.Sprintf("%s%s:", PrefixIndex, name))
}

// EncodeSeqKey encodes an auto-increment counter key
// Format: seq:{dataset}:{column}
func (e *KeyEncoder) EncodeSeqKey(name, column string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", PrefixSeq, name, column))
}

// EncodeRowIDKey encodes the row id counter of a dataset
// Format: seq:{dataset}
func (e *KeyEncoder) EncodeRowIDKey(name string) []byte {
	return []byte(PrefixSeq + name)
}

// EncodeSeqPrefix encodes the prefix of the auto-increment counters
// Format: seq:{dataset}:
func (e *KeyEncoder) EncodeSeqPrefix(name string) []byte {
	return []byte(fmt.Sprintf("%s%s:", PrefixSeq, name))
}

// EncodeInt64 encodes int64 value
func EncodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// DecodeInt64 decodes int64 value
func DecodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// FormatIntKey formats an integer as a zero-padded key for correct ordering
func FormatIntKey(v int64) string {
	return fmt.Sprintf("%020d", v)
}

// keyValue renders the key values of r; empty when any part is NULL.
func keyValue(r domain.Row, key []string) string {
	parts := make([]string, len(key))
	for i, k := range key {
		v := r[k]
		if v == nil {
			return ""
		}
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return strings.Join(parts, "|")
}

// validName rejects dataset names that would overlap another dataset's
// key range.
func validName(name string) error {
	if name == "" || strings.Contains(name, ":") {
		return fmt.Errorf("invalid dataset name %q", name)
	}
	return nil
}
