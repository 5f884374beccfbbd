package kvstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// memStore keeps the kvstore contract runnable without a rocksdb build,
// used by tests and single-process setups.
type (
	memStore struct {
		cols map[CF]map[string][]byte
		lock sync.RWMutex
	}
	memListReader struct {
		keys   []string
		values [][]byte
		pos    int
	}
	memWriteBatch struct {
		ops []memOp
	}
	memOp struct {
		col    CF
		key    string
		value  []byte
		delete bool
	}
)

func newMemStore(option *Option) *memStore {
	s := &memStore{cols: make(map[CF]map[string][]byte)}
	s.cols[DefaultCF] = make(map[string][]byte)
	if option != nil {
		for _, col := range option.ColumnFamily {
			s.cols[col] = make(map[string][]byte)
		}
	}
	return s
}

func (s *memStore) CreateColumn(col CF) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.cols[col]; !ok {
		s.cols[col] = make(map[string][]byte)
	}
	return nil
}

func (s *memStore) CheckColumns(col CF) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.cols[col]
	return ok
}

func (s *memStore) GetRaw(ctx context.Context, col CF, key []byte) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, ok := s.column(col)[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	ret := make([]byte, len(v))
	copy(ret, v)
	return ret, nil
}

func (s *memStore) SetRaw(ctx context.Context, col CF, key []byte, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.column(col)[string(key)] = v
	return nil
}

func (s *memStore) Delete(ctx context.Context, col CF, key []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.column(col), string(key))
	return nil
}

func (s *memStore) List(ctx context.Context, col CF, prefix []byte, marker []byte) ListReader {
	s.lock.RLock()
	defer s.lock.RUnlock()

	m := s.column(col)
	keys := make([]string, 0, len(m))
	for k := range m {
		if prefix != nil && !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if marker != nil && k < string(marker) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		v := make([]byte, len(m[k]))
		copy(v, m[k])
		values[i] = v
	}
	return &memListReader{keys: keys, values: values}
}

func (s *memStore) NewWriteBatch() WriteBatch {
	return &memWriteBatch{}
}

func (s *memStore) Write(ctx context.Context, batch WriteBatch) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, op := range batch.(*memWriteBatch).ops {
		if op.delete {
			delete(s.column(op.col), op.key)
			continue
		}
		s.column(op.col)[op.key] = op.value
	}
	return nil
}

func (s *memStore) FlushCF(ctx context.Context, col CF) error { return nil }

func (s *memStore) Close() {}

// column falls back to the default family, same as the rocksdb backend.
func (s *memStore) column(col CF) map[string][]byte {
	if m, ok := s.cols[col]; ok {
		return m
	}
	return s.cols[DefaultCF]
}

func (lr *memListReader) ReadNextCopy() ([]byte, []byte, error) {
	if lr.pos >= len(lr.keys) {
		return nil, nil, nil
	}
	k := []byte(lr.keys[lr.pos])
	v := lr.values[lr.pos]
	lr.pos++
	return k, v, nil
}

func (lr *memListReader) Close() {}

func (b *memWriteBatch) Put(col CF, key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	b.ops = append(b.ops, memOp{col: col, key: string(key), value: v})
}

func (b *memWriteBatch) Delete(col CF, key []byte) {
	b.ops = append(b.ops, memOp{col: col, key: string(key), delete: true})
}

func (b *memWriteBatch) Close() {}
