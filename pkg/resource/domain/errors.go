package domain

import (
	"errors"
	"fmt"
)

// 数据访问层错误分类

// ErrConnection 连接错误：参数缺失/非法或后端不可达
type ErrConnection struct {
	Driver DataSourceType
	Reason string
	Err    error
}

func (e *ErrConnection) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to connect to %s data source: %s: %v", e.Driver, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to connect to %s data source: %s", e.Driver, e.Reason)
}

func (e *ErrConnection) Unwrap() error { return e.Err }

// ErrNotOpen 数据源未打开或已关闭
type ErrNotOpen struct {
	Driver DataSourceType
}

func (e *ErrNotOpen) Error() string {
	return fmt.Sprintf("data source %s is not open", e.Driver)
}

// ErrDataSetNotFound 数据集不存在
type ErrDataSetNotFound struct {
	Name string
}

func (e *ErrDataSetNotFound) Error() string {
	return fmt.Sprintf("dataset %s not found", e.Name)
}

// ErrUnsupportedOperation 驱动不支持的操作
type ErrUnsupportedOperation struct {
	Driver    DataSourceType
	Operation string
}

func (e *ErrUnsupportedOperation) Error() string {
	return fmt.Sprintf("the method %s() is not supported by the %s driver", e.Operation, e.Driver)
}

// ErrNoActiveTransaction 未开始事务即提交/回滚
type ErrNoActiveTransaction struct {
	Driver    DataSourceType
	Operation string
}

func (e *ErrNoActiveTransaction) Error() string {
	return fmt.Sprintf("%s without an active transaction on %s data source", e.Operation, e.Driver)
}

// ErrTransactionInProgress 事务进行中再次 Begin
type ErrTransactionInProgress struct {
	Driver DataSourceType
}

func (e *ErrTransactionInProgress) Error() string {
	return fmt.Sprintf("a transaction is already in progress on %s data source", e.Driver)
}

// ErrBackend 后端错误，包装原始错误
type ErrBackend struct {
	Driver    DataSourceType
	Operation string
	Err       error
}

func (e *ErrBackend) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Driver, e.Operation, e.Err)
}

func (e *ErrBackend) Unwrap() error { return e.Err }

// ErrReadOnly 只读错误
type ErrReadOnly struct {
	Name      string
	Operation string
}

func (e *ErrReadOnly) Error() string {
	return fmt.Sprintf("%s is read-only, cannot %s", e.Name, e.Operation)
}

// ErrPropertyNotFound 属性不存在
type ErrPropertyNotFound struct {
	Property string
	DataSet  string
}

func (e *ErrPropertyNotFound) Error() string {
	return fmt.Sprintf("property %s not found in dataset %s", e.Property, e.DataSet)
}

// ErrInvalidPosition 游标不在有效行上
type ErrInvalidPosition struct {
	Reason string
}

func (e *ErrInvalidPosition) Error() string {
	return fmt.Sprintf("invalid cursor position: %s", e.Reason)
}

// ErrDataSetTypeExists 数据集类型已存在
type ErrDataSetTypeExists struct {
	Name string
}

func (e *ErrDataSetTypeExists) Error() string {
	return fmt.Sprintf("dataset type %s already exists", e.Name)
}

// 辅助函数

// NewErrConnection 创建连接错误
func NewErrConnection(driver DataSourceType, reason string, err error) *ErrConnection {
	return &ErrConnection{Driver: driver, Reason: reason, Err: err}
}

// NewErrNotOpen 创建未打开错误
func NewErrNotOpen(driver DataSourceType) *ErrNotOpen {
	return &ErrNotOpen{Driver: driver}
}

// NewErrDataSetNotFound 创建数据集不存在错误
func NewErrDataSetNotFound(name string) *ErrDataSetNotFound {
	return &ErrDataSetNotFound{Name: name}
}

// NewErrUnsupportedOperation 创建不支持操作错误
func NewErrUnsupportedOperation(driver DataSourceType, operation string) *ErrUnsupportedOperation {
	return &ErrUnsupportedOperation{Driver: driver, Operation: operation}
}

// NewErrNoActiveTransaction 创建无活动事务错误
func NewErrNoActiveTransaction(driver DataSourceType, operation string) *ErrNoActiveTransaction {
	return &ErrNoActiveTransaction{Driver: driver, Operation: operation}
}

// NewErrTransactionInProgress 创建事务进行中错误
func NewErrTransactionInProgress(driver DataSourceType) *ErrTransactionInProgress {
	return &ErrTransactionInProgress{Driver: driver}
}

// NewErrBackend 包装后端错误，nil 输入返回 nil
func NewErrBackend(driver DataSourceType, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &ErrBackend{Driver: driver, Operation: operation, Err: err}
}

// NewErrReadOnly 创建只读错误
func NewErrReadOnly(name, operation string) *ErrReadOnly {
	return &ErrReadOnly{Name: name, Operation: operation}
}

// NewErrPropertyNotFound 创建属性不存在错误
func NewErrPropertyNotFound(property, dataset string) *ErrPropertyNotFound {
	return &ErrPropertyNotFound{Property: property, DataSet: dataset}
}

// NewErrInvalidPosition 创建游标位置错误
func NewErrInvalidPosition(reason string) *ErrInvalidPosition {
	return &ErrInvalidPosition{Reason: reason}
}

// NewErrDataSetTypeExists 创建类型已存在错误
func NewErrDataSetTypeExists(name string) *ErrDataSetTypeExists {
	return &ErrDataSetTypeExists{Name: name}
}

// 类型判断

func IsConnectionError(err error) bool {
	var target *ErrConnection
	return errors.As(err, &target)
}

func IsNotOpenError(err error) bool {
	var target *ErrNotOpen
	return errors.As(err, &target)
}

func IsDataSetNotFound(err error) bool {
	var target *ErrDataSetNotFound
	return errors.As(err, &target)
}

func IsUnsupportedOperation(err error) bool {
	var target *ErrUnsupportedOperation
	return errors.As(err, &target)
}

func IsNoActiveTransaction(err error) bool {
	var target *ErrNoActiveTransaction
	return errors.As(err, &target)
}

func IsTransactionInProgress(err error) bool {
	var target *ErrTransactionInProgress
	return errors.As(err, &target)
}

func IsBackendError(err error) bool {
	var target *ErrBackend
	return errors.As(err, &target)
}

func IsReadOnly(err error) bool {
	var target *ErrReadOnly
	return errors.As(err, &target)
}

func IsPropertyNotFound(err error) bool {
	var target *ErrPropertyNotFound
	return errors.As(err, &target)
}

func IsInvalidPosition(err error) bool {
	var target *ErrInvalidPosition
	return errors.As(err, &target)
}

func IsDataSetTypeExists(err error) bool {
	var target *ErrDataSetTypeExists
	return errors.As(err, &target)
}
