package dataaccess

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

var errBatchClosed = errors.New("batch executor is closed")

type batchItem struct {
	cmd    query.Command
	native string
}

// Batch buffers commands and runs them in order inside one scoped
// transaction. Native strings go through ExecuteString untouched so SQL
// drivers see them verbatim.
type Batch struct {
	t      domain.Transactor
	items  []batchItem
	closed bool
}

// NewBatchExecutor 创建批量执行器
func NewBatchExecutor(t domain.Transactor) *Batch {
	return &Batch{t: t}
}

func (b *Batch) Add(cmd query.Command) error {
	if b.closed {
		return errBatchClosed
	}
	if cmd == nil {
		return errors.New("batch command cannot be nil")
	}
	b.items = append(b.items, batchItem{cmd: cmd})
	return nil
}

func (b *Batch) AddString(cmd string) error {
	if b.closed {
		return errBatchClosed
	}
	if cmd == "" {
		return errors.New("batch command cannot be empty")
	}
	b.items = append(b.items, batchItem{native: cmd})
	return nil
}

func (b *Batch) Len() int { return len(b.items) }

// Execute runs the buffered commands and clears the buffer on success. A
// failing command aborts the batch and the scoped transaction rolls back.
func (b *Batch) Execute(ctx context.Context) (int64, error) {
	if b.closed {
		return 0, errBatchClosed
	}
	var total int64
	err := InTransaction(ctx, b.t, func() error {
		for i, item := range b.items {
			var (
				n   int64
				err error
			)
			if item.cmd != nil {
				n, err = b.t.Execute(ctx, item.cmd)
			} else {
				n, err = b.t.ExecuteString(ctx, item.native)
			}
			if err != nil {
				return fmt.Errorf("batch command %d: %w", i, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	b.items = b.items[:0]
	return total, nil
}

func (b *Batch) Close() error {
	b.closed = true
	b.items = nil
	return nil
}
