package query

import (
	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/twpayne/go-geom"
)

// Operator 二元/一元运算符
type Operator string

const (
	OpAnd     Operator = "AND"
	OpOr      Operator = "OR"
	OpNot     Operator = "NOT"
	OpEQ      Operator = "="
	OpNE      Operator = "<>"
	OpLT      Operator = "<"
	OpLE      Operator = "<="
	OpGT      Operator = ">"
	OpGE      Operator = ">="
	OpLike    Operator = "LIKE"
	OpNotLike Operator = "NOT LIKE"
	OpAdd     Operator = "+"
	OpSub     Operator = "-"
	OpMul     Operator = "*"
	OpDiv     Operator = "/"
	OpNeg     Operator = "NEG"
)

// Expression 表达式节点
type Expression interface {
	expression()
}

// PropertyName 属性引用，"*" 表示全部属性
type PropertyName struct {
	Name string
}

// Literal 字面量
type Literal struct {
	Value interface{}
}

// LiteralEnvelope 矩形字面量
type LiteralEnvelope struct {
	Envelope geometry.Envelope
	SRID     int
}

// LiteralGeom 几何字面量，调用方保留所有权
type LiteralGeom struct {
	Geom geom.T
	// SRID applies when Geom carries none
	SRID int
}

// EffectiveSRID returns the geometry's SRID, falling back to SRID.
func (l *LiteralGeom) EffectiveSRID() int {
	if l.Geom != nil && l.Geom.SRID() != 0 {
		return l.Geom.SRID()
	}
	return l.SRID
}

// BinaryExpr 二元表达式
type BinaryExpr struct {
	Op    Operator
	Left  Expression
	Right Expression
}

// UnaryExpr 一元表达式（NOT / 取负）
type UnaryExpr struct {
	Op   Operator
	Expr Expression
}

// Function 函数调用，如 ST_Intersects(geom, literal)
type Function struct {
	Name string
	Args []Expression
}

// IsNull IS [NOT] NULL
type IsNull struct {
	Expr Expression
	Not  bool
}

// In [NOT] IN (...)
type In struct {
	Expr Expression
	List []Expression
	Not  bool
}

// Param 预编译参数占位符，Index 从 0 开始
type Param struct {
	Index int
}

func (*PropertyName) expression()    {}
func (*Param) expression()           {}
func (*Literal) expression()         {}
func (*LiteralEnvelope) expression() {}
func (*LiteralGeom) expression()     {}
func (*BinaryExpr) expression()      {}
func (*UnaryExpr) expression()       {}
func (*Function) expression()        {}
func (*IsNull) expression()          {}
func (*In) expression()              {}

// Field 输出字段
type Field struct {
	Expr  Expression
	Alias string
}

// Name 返回输出列名
func (f *Field) Name() string {
	if f.Alias != "" {
		return f.Alias
	}
	if p, ok := f.Expr.(*PropertyName); ok {
		return p.Name
	}
	return Format(f.Expr)
}

// Fields 输出字段列表
type Fields []*Field

// IsAll 是否为 SELECT *
func (fs Fields) IsAll() bool {
	if len(fs) != 1 {
		return len(fs) == 0
	}
	p, ok := fs[0].Expr.(*PropertyName)
	return ok && p.Name == "*"
}

// FromItem FROM 子句项
type FromItem interface {
	fromItem()
	GetAlias() string
}

// DataSetName 数据集引用
type DataSetName struct {
	Name  string
	Alias string
}

func (*DataSetName) fromItem() {}

func (d *DataSetName) GetAlias() string { return d.Alias }

// From FROM 子句
type From []FromItem

// Where WHERE 子句
type Where struct {
	Expr Expression
}

// OrderByItem 排序项
type OrderByItem struct {
	Expr Expression
	Desc bool
}

// Statement 可执行语句
type Statement interface {
	statement()
}

// Command 不返回结果集的语句
type Command interface {
	Statement
	TargetDataSet() string
}

// Select 查询
type Select struct {
	Fields  Fields
	From    From
	Where   *Where
	OrderBy []OrderByItem
	Limit   int64
	Offset  int64
}

// Assignment UPDATE 赋值
type Assignment struct {
	Column string
	Value  Expression
}

// Insert 插入
type Insert struct {
	DataSet *DataSetName
	Columns []string
	Values  [][]Expression
}

// Update 更新
type Update struct {
	DataSet     *DataSetName
	Assignments []Assignment
	Where       *Where
}

// Delete 删除
type Delete struct {
	DataSet *DataSetName
	Where   *Where
}

func (*Select) statement() {}
func (*Insert) statement() {}
func (*Update) statement() {}
func (*Delete) statement() {}

func (i *Insert) TargetDataSet() string { return i.DataSet.Name }
func (u *Update) TargetDataSet() string { return u.DataSet.Name }
func (d *Delete) TargetDataSet() string { return d.DataSet.Name }

// DataSetNames 返回 FROM 中引用的数据集名
func (s *Select) DataSetNames() []string {
	names := make([]string, 0, len(s.From))
	for _, item := range s.From {
		if ds, ok := item.(*DataSetName); ok {
			names = append(names, ds.Name)
		}
	}
	return names
}

// WhereExpr 返回过滤表达式，无 WHERE 时为 nil
func (s *Select) WhereExpr() Expression {
	if s.Where == nil {
		return nil
	}
	return s.Where.Expr
}

// ==================== 构造辅助 ====================

// Prop 属性引用
func Prop(name string) *PropertyName { return &PropertyName{Name: name} }

// Lit 字面量
func Lit(v interface{}) *Literal { return &Literal{Value: v} }

// AllFields SELECT *
func AllFields() Fields {
	return Fields{&Field{Expr: Prop("*")}}
}

// NewWhere 创建 WHERE
func NewWhere(expr Expression) *Where {
	if expr == nil {
		return nil
	}
	return &Where{Expr: expr}
}

// NewSelect 创建查询
func NewSelect(fields Fields, from From, where *Where) *Select {
	return &Select{Fields: fields, From: from, Where: where}
}

// SelectAll SELECT * FROM name
func SelectAll(name string) *Select {
	return NewSelect(AllFields(), From{&DataSetName{Name: name}}, nil)
}

// And 合并条件，nil 操作数被忽略
func And(exprs ...Expression) Expression {
	var out Expression
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = &BinaryExpr{Op: OpAnd, Left: out, Right: e}
	}
	return out
}

// Compare 比较表达式
func Compare(op Operator, left, right Expression) *BinaryExpr {
	return &BinaryExpr{Op: op, Left: left, Right: right}
}

// SpatialRelation 空间关系谓词 ST_<Rel>(property, literal)
func SpatialRelation(rel geometry.SpatialRelation, property string, literal Expression) *Function {
	return &Function{Name: rel.FunctionName(), Args: []Expression{Prop(property), literal}}
}

// EnvelopeFilter 以矩形为参数的空间过滤 SELECT
func EnvelopeFilter(dataset, property string, env geometry.Envelope, srid int, rel geometry.SpatialRelation) *Select {
	where := NewWhere(SpatialRelation(rel, property, &LiteralEnvelope{Envelope: env, SRID: srid}))
	return NewSelect(AllFields(), From{&DataSetName{Name: dataset}}, where)
}

// GeometryFilter 以几何为参数的空间过滤 SELECT
func GeometryFilter(dataset, property string, g geom.T, rel geometry.SpatialRelation) *Select {
	where := NewWhere(SpatialRelation(rel, property, &LiteralGeom{Geom: g}))
	return NewSelect(AllFields(), From{&DataSetName{Name: dataset}}, where)
}
