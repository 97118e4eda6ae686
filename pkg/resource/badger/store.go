package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// scanCheckInterval is how often long scans look at the context.
const scanCheckInterval = 1024

type storedRow struct {
	id  int64
	row domain.Row
}

// store implements the dataset layout on top of Badger transactions. It
// holds no state of its own; every method works inside the txn it gets.
type store struct {
	keys  *KeyEncoder
	rows  *RowCodec
	types *TypeCodec
}

func newStore() *store {
	return &store{keys: NewKeyEncoder(), rows: NewRowCodec(), types: NewTypeCodec()}
}

// ==================== Types ====================

// loadTypes returns every dataset type in key order.
func (s *store) loadTypes(txn *badger.Txn) ([]*domain.DataSetType, error) {
	prefix := []byte(PrefixType)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []*domain.DataSetType
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		data, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		dt, err := s.types.Decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, dt)
	}
	return out, nil
}

func (s *store) getType(txn *badger.Txn, name string) (*domain.DataSetType, error) {
	item, err := txn.Get(s.keys.EncodeTypeKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.NewErrDataSetNotFound(name)
	}
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return s.types.Decode(data)
}

func (s *store) putType(txn *badger.Txn, dt *domain.DataSetType) error {
	data, err := s.types.Encode(dt)
	if err != nil {
		return err
	}
	return txn.Set(s.keys.EncodeTypeKey(dt.Name), data)
}

func (s *store) createType(txn *badger.Txn, dt *domain.DataSetType) error {
	if err := validName(dt.Name); err != nil {
		return err
	}
	if _, err := s.getType(txn, dt.Name); err == nil {
		return domain.NewErrDataSetTypeExists(dt.Name)
	} else if !domain.IsDataSetNotFound(err) {
		return err
	}
	return s.putType(txn, dt)
}

// drop removes the type with its rows, key entries and counters.
func (s *store) drop(txn *badger.Txn, name string) error {
	if _, err := s.getType(txn, name); err != nil {
		return err
	}
	for _, prefix := range [][]byte{s.keys.EncodeRowPrefix(name), s.keys.EncodeIndexPrefix(name), s.keys.EncodeSeqPrefix(name)} {
		if err := s.deletePrefix(txn, prefix); err != nil {
			return err
		}
	}
	if err := txn.Delete(s.keys.EncodeRowIDKey(name)); err != nil {
		return err
	}
	return txn.Delete(s.keys.EncodeTypeKey(name))
}

func (s *store) rename(txn *badger.Txn, oldName, newName string) error {
	if err := validName(newName); err != nil {
		return err
	}
	dt, err := s.getType(txn, oldName)
	if err != nil {
		return err
	}
	if _, err := s.getType(txn, newName); err == nil {
		return domain.NewErrDataSetTypeExists(newName)
	}
	moves := [][2][]byte{
		{s.keys.EncodeRowPrefix(oldName), s.keys.EncodeRowPrefix(newName)},
		{s.keys.EncodeIndexPrefix(oldName), s.keys.EncodeIndexPrefix(newName)},
		{s.keys.EncodeSeqPrefix(oldName), s.keys.EncodeSeqPrefix(newName)},
	}
	for _, m := range moves {
		if err := s.movePrefix(txn, m[0], m[1]); err != nil {
			return err
		}
	}
	if id, err := s.counter(txn, s.keys.EncodeRowIDKey(oldName)); err != nil {
		return err
	} else if id > 0 {
		if err := txn.Set(s.keys.EncodeRowIDKey(newName), EncodeInt64(id)); err != nil {
			return err
		}
		if err := txn.Delete(s.keys.EncodeRowIDKey(oldName)); err != nil {
			return err
		}
	}
	if err := txn.Delete(s.keys.EncodeTypeKey(oldName)); err != nil {
		return err
	}
	dt.Name = newName
	return s.putType(txn, dt)
}

// keysOf collects the keys under prefix. Badger allows one iterator per
// read-write txn, so callers mutate only after this returns.
func (s *store) keysOf(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

func (s *store) deletePrefix(txn *badger.Txn, prefix []byte) error {
	keys, err := s.keysOf(txn, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) movePrefix(txn *badger.Txn, from, to []byte) error {
	keys, err := s.keysOf(txn, from)
	if err != nil {
		return err
	}
	for _, k := range keys {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		nk := append(append([]byte(nil), to...), k[len(from):]...)
		if err := txn.Set(nk, v); err != nil {
			return err
		}
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// ==================== Counters ====================

func (s *store) counter(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return DecodeInt64(v), nil
}

func (s *store) next(txn *badger.Txn, key []byte) (int64, error) {
	v, err := s.counter(txn, key)
	if err != nil {
		return 0, err
	}
	v++
	return v, txn.Set(key, EncodeInt64(v))
}

// raise moves the counter up to v when it is below.
func (s *store) raise(txn *badger.Txn, key []byte, v int64) error {
	cur, err := s.counter(txn, key)
	if err != nil || cur >= v {
		return err
	}
	return txn.Set(key, EncodeInt64(v))
}

// ==================== Rows ====================

// scan reads every row of dt in row id order.
func (s *store) scan(ctx context.Context, txn *badger.Txn, dt *domain.DataSetType) ([]storedRow, error) {
	prefix := s.keys.EncodeRowPrefix(dt.Name)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []storedRow
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if len(out)%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		item := it.Item()
		id, ok := s.keys.DecodeRowKey(dt.Name, item.Key())
		if !ok {
			continue
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		row, err := s.rows.Decode(dt, data)
		if err != nil {
			return nil, err
		}
		out = append(out, storedRow{id: id, row: row})
	}
	return out, nil
}

func (s *store) getRow(txn *badger.Txn, dt *domain.DataSetType, id int64) (domain.Row, error) {
	item, err := txn.Get(s.keys.EncodeRowKey(dt.Name, id))
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return s.rows.Decode(dt, data)
}

func (s *store) putRow(txn *badger.Txn, dt *domain.DataSetType, id int64, row domain.Row) error {
	data, err := s.rows.Encode(dt, row)
	if err != nil {
		return err
	}
	return txn.Set(s.keys.EncodeRowKey(dt.Name, id), data)
}

// lookup finds the row holding value for a key of dt.
func (s *store) lookup(txn *badger.Txn, dt *domain.DataSetType, key []string, value string) (storedRow, bool, error) {
	item, err := txn.Get(s.keys.EncodeIndexKey(dt.Name, key, value))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storedRow{}, false, nil
	}
	if err != nil {
		return storedRow{}, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return storedRow{}, false, err
	}
	id := DecodeInt64(v)
	row, err := s.getRow(txn, dt, id)
	if err != nil {
		return storedRow{}, false, err
	}
	return storedRow{id: id, row: row}, true, nil
}

// insert adds one row and returns the last generated auto-increment value.
func (s *store) insert(txn *badger.Txn, dt *domain.DataSetType, r domain.Row) (int64, error) {
	n, err := domain.NormalizeRow(dt, r)
	if err != nil {
		return 0, err
	}
	var generated int64
	for _, p := range dt.Properties {
		if !p.AutoIncrement {
			continue
		}
		seq := s.keys.EncodeSeqKey(dt.Name, p.Name)
		if n[p.Name] == nil {
			if generated, err = s.next(txn, seq); err != nil {
				return 0, err
			}
			n[p.Name] = generated
			continue
		}
		if v, err := domain.ToInt64(n[p.Name]); err == nil {
			if err := s.raise(txn, seq, v); err != nil {
				return 0, err
			}
		}
	}
	if err := checkNotNull(dt, n); err != nil {
		return 0, err
	}
	id, err := s.next(txn, s.keys.EncodeRowIDKey(dt.Name))
	if err != nil {
		return 0, err
	}
	for _, key := range keys(dt) {
		v := keyValue(n, key)
		if v == "" {
			continue
		}
		if err := s.claim(txn, dt, key, v, id); err != nil {
			return 0, err
		}
	}
	return generated, s.putRow(txn, dt, id, n)
}

// replace stores next in place of old, moving the key entries that change.
func (s *store) replace(txn *badger.Txn, dt *domain.DataSetType, id int64, old, next domain.Row) error {
	if err := checkNotNull(dt, next); err != nil {
		return err
	}
	for _, key := range keys(dt) {
		ov, nv := keyValue(old, key), keyValue(next, key)
		if ov == nv {
			continue
		}
		if nv != "" {
			if err := s.claim(txn, dt, key, nv, id); err != nil {
				return err
			}
		}
		if ov != "" {
			if err := txn.Delete(s.keys.EncodeIndexKey(dt.Name, key, ov)); err != nil {
				return err
			}
		}
	}
	return s.putRow(txn, dt, id, next)
}

func (s *store) remove(txn *badger.Txn, dt *domain.DataSetType, id int64, row domain.Row) error {
	for _, key := range keys(dt) {
		if v := keyValue(row, key); v != "" {
			if err := txn.Delete(s.keys.EncodeIndexKey(dt.Name, key, v)); err != nil {
				return err
			}
		}
	}
	return txn.Delete(s.keys.EncodeRowKey(dt.Name, id))
}

// claim records value of key as owned by row id.
func (s *store) claim(txn *badger.Txn, dt *domain.DataSetType, key []string, value string, id int64) error {
	k := s.keys.EncodeIndexKey(dt.Name, key, value)
	item, err := txn.Get(k)
	switch {
	case err == nil:
		v, verr := item.ValueCopy(nil)
		if verr != nil {
			return verr
		}
		if DecodeInt64(v) != id {
			return fmt.Errorf("duplicate value for key (%s) of %s", strings.Join(key, ", "), dt.Name)
		}
		return nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	return txn.Set(k, EncodeInt64(id))
}

// ==================== Helpers ====================

func checkNotNull(dt *domain.DataSetType, r domain.Row) error {
	for _, p := range dt.Properties {
		if !p.Nullable && r[p.Name] == nil {
			return fmt.Errorf("property %s of %s cannot be NULL", p.Name, dt.Name)
		}
	}
	return nil
}

func keys(dt *domain.DataSetType) [][]string {
	var out [][]string
	if dt.PrimaryKey != nil {
		out = append(out, dt.PrimaryKey.Properties)
	}
	for _, uk := range dt.UniqueKeys {
		out = append(out, uk.Properties)
	}
	return out
}
