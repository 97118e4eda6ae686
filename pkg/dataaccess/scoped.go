package dataaccess

import (
	"context"

	"github.com/google/uuid"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// ScopedTransaction begins a transaction unless one is already active and
// rolls it back on Release if Commit was never reached.
//
//	st, err := dataaccess.NewScopedTransaction(ctx, t)
//	if err != nil {
//		return err
//	}
//	defer st.Release(ctx)
//	... mutations ...
//	return st.Commit(ctx)
//
// When the transactor was already in a transaction the scope is disarmed:
// Commit and Release do nothing and the outer owner decides.
type ScopedTransaction struct {
	id    string
	t     domain.Transactor
	armed bool
}

// NewScopedTransaction 开启作用域事务
func NewScopedTransaction(ctx context.Context, t domain.Transactor) (*ScopedTransaction, error) {
	st := &ScopedTransaction{id: uuid.NewString(), t: t}
	if t.IsInTransaction() {
		logger.Named("dataaccess").Debug("scoped transaction %s joins the active transaction", st.id)
		return st, nil
	}
	if err := t.Begin(ctx); err != nil {
		return nil, err
	}
	st.armed = true
	logger.Named("dataaccess").Debug("scoped transaction %s started", st.id)
	return st, nil
}

// ID 作用域标识，用于日志
func (s *ScopedTransaction) ID() string { return s.id }

// IsArmed 是否由本作用域负责提交或回滚
func (s *ScopedTransaction) IsArmed() bool { return s.armed }

// Commit 提交事务。提交失败时保持 armed，Release 会回滚
func (s *ScopedTransaction) Commit(ctx context.Context) error {
	if !s.armed {
		return nil
	}
	if err := s.t.Commit(ctx); err != nil {
		return err
	}
	s.armed = false
	logger.Named("dataaccess").Debug("scoped transaction %s committed", s.id)
	return nil
}

// Release 回滚未提交的事务，通常通过 defer 调用
func (s *ScopedTransaction) Release(ctx context.Context) error {
	if !s.armed {
		return nil
	}
	s.armed = false
	if !s.t.IsInTransaction() {
		// 提交失败时驱动已结束事务
		logger.Named("dataaccess").Debug("scoped transaction %s already ended", s.id)
		return nil
	}
	if err := s.t.Rollback(ctx); err != nil {
		logger.Named("dataaccess").Warn("scoped transaction %s rollback failed: %v", s.id, err)
		return err
	}
	logger.Named("dataaccess").Debug("scoped transaction %s rolled back", s.id)
	return nil
}

// InTransaction runs fn inside a ScopedTransaction and commits when fn
// returns nil. Drivers without transactions run fn directly.
func InTransaction(ctx context.Context, t domain.Transactor, fn func() error) error {
	if ds := t.DataSource(); ds != nil && !ds.Capabilities().Transactions {
		return fn()
	}
	st, err := NewScopedTransaction(ctx, t)
	if err != nil {
		return err
	}
	defer st.Release(ctx)
	if err := fn(); err != nil {
		return err
	}
	return st.Commit(ctx)
}
