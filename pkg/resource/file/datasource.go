package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/filemeta"
	"github.com/kasuganosora/geoaccess/pkg/resource/memory"
)

// ==================== File DataSource 基类 ====================

// Capabilities 文件驱动能力，只读文件不支持事务和写操作
func Capabilities(writable bool) domain.Capabilities {
	return domain.Capabilities{
		Transactions:           writable,
		QueryObjects:           true,
		NativeQuery:            true,
		Execute:                writable,
		PreparedQuery:          true,
		BatchExecutor:          writable,
		DataSetTypePersistence: writable,
		DataSetPersistence:     writable,
		RandomAccess:           true,
		Create:                 true,
		Drop:                   true,
		LastInsertID:           writable,
		ReadOnly:               !writable,
	}
}

// CapabilitiesFrom reads WRITABLE from info. An unparsable value counts as
// read-only here and fails Open.
func CapabilitiesFrom(info domain.ConnectionInfo) domain.Capabilities {
	writable, err := info.Bool(domain.InfoWritable, false)
	return Capabilities(writable && err == nil)
}

// FileDataSource 文件数据源基类。Open 把整个文件读入内存引擎，
// 可写时每次提交把已提交状态写回文件
type FileDataSource struct {
	*domain.BaseDataSource

	format Format
	self   domain.DataSource
	log    logger.Logger

	mu     sync.Mutex
	engine *memory.Engine
}

// NewFileDataSource 创建文件数据源基类
func NewFileDataSource(driver domain.DataSourceType, info domain.ConnectionInfo, caps domain.Capabilities, format Format) *FileDataSource {
	f := &FileDataSource{
		BaseDataSource: domain.NewBaseDataSource(driver, info, caps),
		format:         format,
		log:            logger.Named(strings.ToLower(string(driver))),
	}
	f.self = f
	return f
}

// Bind sets the DataSource reported by transactors. Drivers embedding
// FileDataSource call it with themselves.
func (f *FileDataSource) Bind(self domain.DataSource) { f.self = self }

// Path 数据文件路径
func (f *FileDataSource) Path() string {
	return f.ConnectionInfo().Get(domain.InfoPath)
}

// IsWritable 检查是否可写
func (f *FileDataSource) IsWritable() bool {
	return !f.Capabilities().ReadOnly
}

// Open 读取文件
func (f *FileDataSource) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IsOpened() {
		return nil
	}

	info := f.ConnectionInfo()
	if err := info.Require(f.Type(), domain.InfoPath); err != nil {
		return err
	}
	if _, err := info.Bool(domain.InfoWritable, false); err != nil {
		return domain.NewErrConnection(f.Type(), "invalid connection parameter", err)
	}
	path := info.Get(domain.InfoPath)
	if _, err := os.Stat(path); err != nil {
		return domain.NewErrConnection(f.Type(), "cannot access "+path, err)
	}

	hints, err := loadHints(path)
	if err != nil {
		f.log.Warn("ignoring unreadable metadata for %s: %v", path, err)
		hints = nil
	}
	tables, err := f.format.Read(ctx, path, info, hints)
	if err != nil {
		return domain.NewErrConnection(f.Type(), "read "+path, err)
	}

	opts := []memory.Option{memory.WithoutSpatialIndex(), memory.WithLogger(f.log)}
	if f.IsWritable() {
		opts = append(opts, memory.WithCommitHook(f.save))
	}
	engine := memory.NewEngine(f.Type(), opts...)
	for _, t := range tables {
		if err := engine.Load(t.Type, t.Rows); err != nil {
			return domain.NewErrConnection(f.Type(), fmt.Sprintf("load dataset %s", t.Type.Name), err)
		}
	}
	engine.FillCatalog(f.Catalog())
	f.engine = engine
	f.SetOpened(true)
	f.log.Debug("opened %s with %d dataset(s)", path, len(tables))
	return nil
}

// save writes a committed state to a temporary file and renames it over
// the data file, then refreshes the sidecar metadata.
func (f *FileDataSource) save(ctx context.Context, tables []memory.TableSnapshot) error {
	path := f.Path()
	tmp := tempPath(path)
	if err := f.format.Write(ctx, tmp, f.ConnectionInfo(), tables); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	types := make([]*domain.DataSetType, len(tables))
	for i, t := range tables {
		types[i] = t.Type
	}
	if err := filemeta.Save(filemeta.MetaPath(path), &filemeta.FileMeta{Types: types}); err != nil {
		f.log.Warn("write metadata for %s: %v", path, err)
	}
	return nil
}

// Close 释放内存副本
func (f *FileDataSource) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.IsOpened() {
		return nil
	}
	f.engine = nil
	f.SetOpened(false)
	return nil
}

// IsValid reports whether the source is open and its file still exists.
func (f *FileDataSource) IsValid(ctx context.Context) bool {
	if !f.IsOpened() {
		return false
	}
	_, err := os.Stat(f.Path())
	return err == nil
}

// Engine returns the in-memory copy of an open source.
func (f *FileDataSource) Engine() *memory.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engine
}

func (f *FileDataSource) Transactor(ctx context.Context) (domain.Transactor, error) {
	if err := f.CheckOpen(); err != nil {
		return nil, err
	}
	return f.Engine().NewTransactor(f.self), nil
}

// Exists reports whether the file named by PATH exists.
func (f *FileDataSource) Exists(ctx context.Context, info domain.ConnectionInfo) (bool, error) {
	if err := info.Require(f.Type(), domain.InfoPath); err != nil {
		return false, err
	}
	_, err := os.Stat(info.Get(domain.InfoPath))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, domain.NewErrBackend(f.Type(), "Exists", err)
}

// Create writes an empty file at PATH.
func (f *FileDataSource) Create(ctx context.Context, info domain.ConnectionInfo) error {
	if err := f.Capabilities().Require(f.Type(), domain.OpCreate); err != nil {
		return err
	}
	ok, err := f.Exists(ctx, info)
	if err != nil {
		return err
	}
	path := info.Get(domain.InfoPath)
	if ok {
		return domain.NewErrBackend(f.Type(), "Create", fmt.Errorf("%s already exists", path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return domain.NewErrBackend(f.Type(), "Create", err)
	}
	return domain.NewErrBackend(f.Type(), "Create", f.format.Write(ctx, path, info, nil))
}

// Drop removes the file at PATH and its metadata.
func (f *FileDataSource) Drop(ctx context.Context, info domain.ConnectionInfo) error {
	if err := info.Require(f.Type(), domain.InfoPath); err != nil {
		return err
	}
	path := info.Get(domain.InfoPath)
	if err := os.Remove(path); err != nil {
		return domain.NewErrBackend(f.Type(), "Drop", err)
	}
	if err := os.Remove(filemeta.MetaPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.log.Warn("remove metadata for %s: %v", path, err)
	}
	return nil
}

func loadHints(path string) (map[string]*domain.DataSetType, error) {
	meta, err := filemeta.Load(filemeta.MetaPath(path))
	if err != nil || meta == nil {
		return nil, err
	}
	hints := make(map[string]*domain.DataSetType, len(meta.Types))
	for _, dt := range meta.Types {
		hints[dt.Name] = dt
	}
	return hints, nil
}

// tempPath keeps the extension so formats that check it accept the name.
func tempPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".tmp" + ext
}
