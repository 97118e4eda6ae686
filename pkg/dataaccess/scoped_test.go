package dataaccess

import (
	"context"
	"errors"
	"testing"

	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSource counts transaction calls.
type recordingSource struct {
	*domain.BaseDataSource
}

func newRecordingSource(caps domain.Capabilities) *recordingSource {
	s := &recordingSource{BaseDataSource: domain.NewBaseDataSource(domain.DataSourceTypeMemory, nil, caps)}
	s.SetOpened(true)
	return s
}

func (s *recordingSource) Open(ctx context.Context) error  { s.SetOpened(true); return nil }
func (s *recordingSource) Close(ctx context.Context) error { s.SetOpened(false); return nil }
func (s *recordingSource) IsValid(ctx context.Context) bool { return s.IsOpened() }
func (s *recordingSource) Transactor(ctx context.Context) (domain.Transactor, error) {
	return newRecordingTransactor(s), nil
}

type recordingTransactor struct {
	domain.BaseTransactor
	calls     []string
	commitErr error
	// endOnFail ends the transaction when Commit fails
	endOnFail bool
	execErr   error
	executed  []query.Command
}

func newRecordingTransactor(src domain.DataSource) *recordingTransactor {
	t := &recordingTransactor{}
	t.Init(t, src)
	return t
}

func (t *recordingTransactor) Begin(ctx context.Context) error {
	if err := t.MarkBegin(); err != nil {
		return err
	}
	t.calls = append(t.calls, "begin")
	return nil
}

func (t *recordingTransactor) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		if t.endOnFail {
			_ = t.MarkEnd("Commit")
		}
		return t.commitErr
	}
	if err := t.MarkEnd("Commit"); err != nil {
		return err
	}
	t.calls = append(t.calls, "commit")
	return nil
}

func (t *recordingTransactor) Rollback(ctx context.Context) error {
	if err := t.MarkEnd("Rollback"); err != nil {
		return err
	}
	t.calls = append(t.calls, "rollback")
	return nil
}

func (t *recordingTransactor) Execute(ctx context.Context, cmd query.Command) (int64, error) {
	if t.execErr != nil {
		return 0, t.execErr
	}
	t.executed = append(t.executed, cmd)
	t.calls = append(t.calls, "exec")
	return 1, nil
}

func (t *recordingTransactor) ExecuteString(ctx context.Context, cmd string) (int64, error) {
	c, err := query.ParseCommand(cmd)
	if err != nil {
		return 0, err
	}
	return t.Execute(ctx, c)
}

func (t *recordingTransactor) GetDataSet(ctx context.Context, name string, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	return nil, domain.NewErrDataSetNotFound(name)
}

func (t *recordingTransactor) Query(ctx context.Context, sel *query.Select, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	return nil, domain.NewErrDataSetNotFound(sel.DataSetNames()[0])
}

func (t *recordingTransactor) CatalogLoader(ctx context.Context) (domain.CatalogLoader, error) {
	return nil, domain.NewErrUnsupportedOperation(domain.DataSourceTypeMemory, "CatalogLoader")
}

func (t *recordingTransactor) Close(ctx context.Context) error { return nil }

func newTx() *recordingTransactor {
	return newRecordingTransactor(newRecordingSource(domain.Capabilities{Transactions: true, Execute: true}))
}

func TestScopedTransaction_RollbackWhenNotCommitted(t *testing.T) {
	ctx := context.Background()
	tr := newTx()

	func() {
		st, err := NewScopedTransaction(ctx, tr)
		require.NoError(t, err)
		defer st.Release(ctx)
		assert.True(t, st.IsArmed())
		assert.True(t, tr.IsInTransaction())
	}()

	assert.Equal(t, []string{"begin", "rollback"}, tr.calls)
	assert.False(t, tr.IsInTransaction())
}

func TestScopedTransaction_CommitDisarms(t *testing.T) {
	ctx := context.Background()
	tr := newTx()

	st, err := NewScopedTransaction(ctx, tr)
	require.NoError(t, err)
	require.NoError(t, st.Commit(ctx))
	assert.False(t, st.IsArmed())
	require.NoError(t, st.Release(ctx))

	// 再次提交为空操作
	require.NoError(t, st.Commit(ctx))
	assert.Equal(t, []string{"begin", "commit"}, tr.calls)
}

func TestScopedTransaction_NestedScopeIsDisarmed(t *testing.T) {
	ctx := context.Background()
	tr := newTx()

	outer, err := NewScopedTransaction(ctx, tr)
	require.NoError(t, err)
	defer outer.Release(ctx)

	inner, err := NewScopedTransaction(ctx, tr)
	require.NoError(t, err)
	assert.False(t, inner.IsArmed())
	require.NoError(t, inner.Commit(ctx))
	require.NoError(t, inner.Release(ctx))

	// 内层作用域不影响外层事务
	assert.True(t, tr.IsInTransaction())
	require.NoError(t, outer.Commit(ctx))
	assert.Equal(t, []string{"begin", "commit"}, tr.calls)
}

func TestScopedTransaction_FailedCommitRollsBackOnRelease(t *testing.T) {
	ctx := context.Background()
	tr := newTx()
	tr.commitErr = errors.New("disk full")

	st, err := NewScopedTransaction(ctx, tr)
	require.NoError(t, err)
	assert.Error(t, st.Commit(ctx))
	assert.True(t, st.IsArmed())

	require.NoError(t, st.Release(ctx))
	assert.Equal(t, []string{"begin", "rollback"}, tr.calls)
}

func TestScopedTransaction_FailedCommitEndedByDriver(t *testing.T) {
	ctx := context.Background()
	tr := newTx()
	tr.commitErr = errors.New("conflict")
	tr.endOnFail = true

	st, err := NewScopedTransaction(ctx, tr)
	require.NoError(t, err)
	assert.Error(t, st.Commit(ctx))
	assert.False(t, tr.IsInTransaction())

	require.NoError(t, st.Release(ctx))
	assert.False(t, st.IsArmed())
	assert.Equal(t, []string{"begin"}, tr.calls)
}

func TestScopedTransaction_BeginFailure(t *testing.T) {
	ctx := context.Background()
	src := newRecordingSource(domain.Capabilities{})
	tr := &unsupportedTransactor{}
	tr.Init(tr, src)

	_, err := NewScopedTransaction(ctx, tr)
	assert.True(t, domain.IsUnsupportedOperation(err))
}

// unsupportedTransactor keeps the BaseTransactor stubs.
type unsupportedTransactor struct {
	recordingTransactor
}

func (t *unsupportedTransactor) Begin(ctx context.Context) error {
	return t.BaseTransactor.Begin(ctx)
}

func TestInTransaction(t *testing.T) {
	ctx := context.Background()

	tr := newTx()
	require.NoError(t, InTransaction(ctx, tr, func() error { return nil }))
	assert.Equal(t, []string{"begin", "commit"}, tr.calls)

	tr = newTx()
	err := InTransaction(ctx, tr, func() error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"begin", "rollback"}, tr.calls)

	// 不支持事务的驱动直接执行
	noTx := newRecordingTransactor(newRecordingSource(domain.Capabilities{Execute: true}))
	called := false
	require.NoError(t, InTransaction(ctx, noTx, func() error { called = true; return nil }))
	assert.True(t, called)
	assert.Empty(t, noTx.calls)
}

func TestBatch_ExecuteInsideTransaction(t *testing.T) {
	ctx := context.Background()
	tr := newTx()
	b := NewBatchExecutor(tr)

	require.NoError(t, b.AddString("DELETE FROM parcels WHERE id = 1"))
	require.NoError(t, b.Add(&query.Delete{DataSet: &query.DataSetName{Name: "parcels"}}))
	assert.Equal(t, 2, b.Len())

	n, err := b.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []string{"begin", "exec", "exec", "commit"}, tr.calls)
}

func TestBatch_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	tr := newTx()
	tr.execErr = errors.New("constraint violated")
	b := NewBatchExecutor(tr)
	require.NoError(t, b.AddString("DELETE FROM parcels"))

	_, err := b.Execute(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch command 0")
	assert.Equal(t, []string{"begin", "rollback"}, tr.calls)
	assert.Equal(t, 1, b.Len())

	require.NoError(t, b.Close())
	assert.Error(t, b.AddString("DELETE FROM parcels"))
}

func TestCommandPersistence_BuildsCommands(t *testing.T) {
	ctx := context.Background()
	tr := newTx()
	p := NewDataSetPersistence(tr)

	n, err := p.Add(ctx, "parcels", []domain.Row{
		{"name": "a", "id": int64(1)},
		{},
		{"id": int64(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, tr.executed, 2)
	ins := tr.executed[0].(*query.Insert)
	assert.Equal(t, "parcels", ins.TargetDataSet())
	assert.Equal(t, []string{"id", "name"}, ins.Columns)

	_, err = p.Update(ctx, "parcels", domain.Row{"name": "z"}, query.Compare(query.OpEQ, query.Prop("id"), query.Lit(int64(1))))
	require.NoError(t, err)
	upd := tr.executed[2].(*query.Update)
	require.Len(t, upd.Assignments, 1)
	assert.Equal(t, "name", upd.Assignments[0].Column)
	require.NotNil(t, upd.Where)

	_, err = p.Update(ctx, "parcels", domain.Row{}, nil)
	assert.Error(t, err)

	_, err = p.Remove(ctx, "parcels", nil)
	require.NoError(t, err)
	del := tr.executed[3].(*query.Delete)
	assert.Nil(t, del.Where)
}
