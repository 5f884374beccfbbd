package kvstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"

	rdb "github.com/tecbot/gorocksdb"
)

type (
	rocksdb struct {
		path      string
		db        *rdb.DB
		opt       *rdb.Options
		readOpt   *rdb.ReadOptions
		writeOpt  *rdb.WriteOptions
		flushOpt  *rdb.FlushOptions
		cfHandles map[CF]*rdb.ColumnFamilyHandle
		lock      sync.RWMutex
	}
	rocksListReader struct {
		iterator *rdb.Iterator
		prefix   []byte
		isFirst  bool
	}
	rocksWriteBatch struct {
		s     *rocksdb
		batch *rdb.WriteBatch
	}
)

func newRocksdb(ctx context.Context, path string, option *Option) (Store, error) {
	if path == "" {
		return nil, errors.New("path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	if option == nil {
		option = &Option{CreateIfMissing: true}
	}

	dbOpt := genRocksdbOpts(option)

	cols := make([]CF, 0, len(option.ColumnFamily)+1)
	cols = append(cols, DefaultCF)
	cols = append(cols, option.ColumnFamily...)

	cfNames := make([]string, 0, len(cols))
	cfOpts := make([]*rdb.Options, 0, len(cols))
	for range cols {
		cfOpts = append(cfOpts, dbOpt)
	}
	for _, col := range cols {
		cfNames = append(cfNames, col.String())
	}

	db, cfhs, err := rdb.OpenDbColumnFamilies(dbOpt, path, cfNames, cfOpts)
	if err != nil {
		return nil, err
	}

	cfhMap := make(map[CF]*rdb.ColumnFamilyHandle)
	for i, h := range cfhs {
		cfhMap[cols[i]] = h
	}

	wo := rdb.NewDefaultWriteOptions()
	if option.Sync {
		wo.SetSync(option.Sync)
	}

	return &rocksdb{
		path:      path,
		db:        db,
		opt:       dbOpt,
		readOpt:   rdb.NewDefaultReadOptions(),
		writeOpt:  wo,
		flushOpt:  rdb.NewDefaultFlushOptions(),
		cfHandles: cfhMap,
	}, nil
}

func (s *rocksdb) CreateColumn(col CF) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.cfHandles[col]; ok {
		return nil
	}
	h, err := s.db.CreateColumnFamily(s.opt, col.String())
	if err != nil {
		return err
	}
	s.cfHandles[col] = h
	return nil
}

func (s *rocksdb) CheckColumns(col CF) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.cfHandles[col]
	return ok
}

func (s *rocksdb) GetRaw(ctx context.Context, col CF, key []byte) ([]byte, error) {
	v, err := s.db.GetCF(s.readOpt, s.getColumnFamily(col), key)
	if err != nil {
		return nil, err
	}
	if !v.Exists() {
		return nil, ErrNotFound
	}
	value := make([]byte, v.Size())
	copy(value, v.Data())
	v.Free()
	return value, nil
}

func (s *rocksdb) SetRaw(ctx context.Context, col CF, key []byte, value []byte) error {
	return s.db.PutCF(s.writeOpt, s.getColumnFamily(col), key, value)
}

func (s *rocksdb) Delete(ctx context.Context, col CF, key []byte) error {
	return s.db.DeleteCF(s.writeOpt, s.getColumnFamily(col), key)
}

func (s *rocksdb) List(ctx context.Context, col CF, prefix []byte, marker []byte) ListReader {
	t := s.db.NewIteratorCF(s.readOpt, s.getColumnFamily(col))
	if len(marker) > 0 {
		t.Seek(marker)
	} else if prefix != nil {
		t.Seek(prefix)
	} else {
		t.SeekToFirst()
	}

	return &rocksListReader{iterator: t, prefix: prefix, isFirst: true}
}

func (s *rocksdb) NewWriteBatch() WriteBatch {
	return &rocksWriteBatch{s: s, batch: rdb.NewWriteBatch()}
}

func (s *rocksdb) Write(ctx context.Context, batch WriteBatch) error {
	return s.db.Write(s.writeOpt, batch.(*rocksWriteBatch).batch)
}

func (s *rocksdb) FlushCF(ctx context.Context, col CF) error {
	return s.db.FlushCF(s.flushOpt, s.getColumnFamily(col))
}

func (s *rocksdb) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, h := range s.cfHandles {
		h.Destroy()
	}
	s.readOpt.Destroy()
	s.writeOpt.Destroy()
	s.flushOpt.Destroy()
	s.db.Close()
	s.opt.Destroy()
}

func (s *rocksdb) getColumnFamily(col CF) *rdb.ColumnFamilyHandle {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if h, ok := s.cfHandles[col]; ok {
		return h
	}
	return s.cfHandles[DefaultCF]
}

func (lr *rocksListReader) ReadNextCopy() (key []byte, value []byte, err error) {
	if !lr.isFirst {
		lr.iterator.Next()
	}
	lr.isFirst = false

	if !lr.iterator.Valid() {
		if err := lr.iterator.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}

	k := lr.iterator.Key()
	if lr.prefix != nil && !bytes.HasPrefix(k.Data(), lr.prefix) {
		k.Free()
		return nil, nil, nil
	}
	v := lr.iterator.Value()

	key = make([]byte, k.Size())
	copy(key, k.Data())
	value = make([]byte, v.Size())
	copy(value, v.Data())
	k.Free()
	v.Free()
	return key, value, nil
}

func (lr *rocksListReader) Close() {
	lr.iterator.Close()
}

func (b *rocksWriteBatch) Put(col CF, key, value []byte) {
	b.batch.PutCF(b.s.getColumnFamily(col), key, value)
}

func (b *rocksWriteBatch) Delete(col CF, key []byte) {
	b.batch.DeleteCF(b.s.getColumnFamily(col), key)
}

func (b *rocksWriteBatch) Close() {
	b.batch.Destroy()
}

func genRocksdbOpts(opt *Option) *rdb.Options {
	dbOpt := rdb.NewDefaultOptions()
	dbOpt.SetCreateIfMissing(true)
	dbOpt.SetCreateIfMissingColumnFamilies(true)
	if opt.WriteBufferSize > 0 {
		dbOpt.SetWriteBufferSize(opt.WriteBufferSize)
	}
	if opt.MaxOpenFiles > 0 {
		dbOpt.SetMaxOpenFiles(opt.MaxOpenFiles)
	}
	return dbOpt
}
