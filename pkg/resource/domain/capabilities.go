package domain

// ==================== 数据源能力描述 ====================

// Operation 可选操作
type Operation string

const (
	OpTransactions           Operation = "Begin"
	OpSpatialPushdown        Operation = "GetDataSetByEnvelope"
	OpQueryObjects           Operation = "Query"
	OpNativeQuery            Operation = "QueryString"
	OpExecute                Operation = "Execute"
	OpPreparedQuery          Operation = "Prepared"
	OpBatchExecutor          Operation = "BatchExecutor"
	OpDataSetTypePersistence Operation = "DataSetTypePersistence"
	OpDataSetPersistence     Operation = "DataSetPersistence"
	OpRandomAccess           Operation = "RandomAccess"
	OpCreate                 Operation = "Create"
	OpDrop                   Operation = "Drop"
	OpLastInsertID           Operation = "LastInsertID"
)

// Capabilities 驱动的静态能力描述，纯数据，调用方在调用可选操作前检查
type Capabilities struct {
	Transactions           bool `json:"transactions"`
	SpatialPushdown        bool `json:"spatial_pushdown"`
	QueryObjects           bool `json:"query_objects"`
	NativeQuery            bool `json:"native_query"`
	Execute                bool `json:"execute"`
	PreparedQuery          bool `json:"prepared_query"`
	BatchExecutor          bool `json:"batch_executor"`
	DataSetTypePersistence bool `json:"dataset_type_persistence"`
	DataSetPersistence     bool `json:"dataset_persistence"`
	RandomAccess           bool `json:"random_access"`
	Create                 bool `json:"create"`
	Drop                   bool `json:"drop"`
	LastInsertID           bool `json:"last_insert_id"`
	Raster                 bool `json:"raster"`
	ReadOnly               bool `json:"read_only"`
}

// Supports 检查是否支持操作
func (c Capabilities) Supports(op Operation) bool {
	switch op {
	case OpTransactions:
		return c.Transactions
	case OpSpatialPushdown:
		return c.SpatialPushdown
	case OpQueryObjects:
		return c.QueryObjects
	case OpNativeQuery:
		return c.NativeQuery
	case OpExecute:
		return c.Execute
	case OpPreparedQuery:
		return c.PreparedQuery
	case OpBatchExecutor:
		return c.BatchExecutor
	case OpDataSetTypePersistence:
		return c.DataSetTypePersistence
	case OpDataSetPersistence:
		return c.DataSetPersistence
	case OpRandomAccess:
		return c.RandomAccess
	case OpCreate:
		return c.Create
	case OpDrop:
		return c.Drop
	case OpLastInsertID:
		return c.LastInsertID
	}
	return false
}

// Require 不支持时返回 ErrUnsupportedOperation
func (c Capabilities) Require(driver DataSourceType, op Operation) error {
	if c.Supports(op) {
		return nil
	}
	return NewErrUnsupportedOperation(driver, string(op))
}

// HasCapability 检查数据源是否支持操作
func HasCapability(ds DataSource, op Operation) bool {
	return ds.Capabilities().Supports(op)
}
