package file

import (
	"context"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/memory"
)

// ==================== 文件格式接口 ====================

// Format reads and writes one file format. A FileDataSource owns the file
// and the in-memory copy; the format only translates between the two.
type Format interface {
	// Read loads every dataset stored in path. hints holds the types saved
	// by a previous write, keyed by dataset name; a format should prefer
	// them to inferred types.
	Read(ctx context.Context, path string, info domain.ConnectionInfo, hints map[string]*domain.DataSetType) ([]memory.TableSnapshot, error)
	// Write replaces the content of path with tables. An empty tables
	// slice creates an empty file.
	Write(ctx context.Context, path string, info domain.ConnectionInfo, tables []memory.TableSnapshot) error
}
