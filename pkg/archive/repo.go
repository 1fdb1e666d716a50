package archive

import (
	"context"
	"errors"

	"github.com/joripage/mini-exchange/pkg/orderbook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IExecution interface {
	BulkCreate(ctx context.Context, records []*Execution) ([]*Execution, error)
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*Execution, error)
	ListByClient(ctx context.Context, cid string, limit int) ([]*Execution, error)
}

var ErrNoListFilter = errors.New("list needs a symbol or a client id")

const defaultListLimit = 100

// ListFilter selects archived executions. Symbol takes precedence over
// ClientID.
type ListFilter struct {
	Symbol   string
	ClientID string
	Limit    int
}

// List runs the query f describes, ordered by aggressor id.
func List(ctx context.Context, r IRepo, f ListFilter) ([]*Execution, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	switch {
	case f.Symbol != "":
		return r.Execution().ListBySymbol(ctx, orderbook.NormalizeSymbol(f.Symbol), f.Limit)
	case f.ClientID != "":
		return r.Execution().ListByClient(ctx, f.ClientID, f.Limit)
	}
	return nil, ErrNoListFilter
}

type IRepo interface {
	Execution() IExecution
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) IRepo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Execution() IExecution {
	return NewExecutionSQLRepo(r.db)
}

type ExecutionSQLRepo struct {
	db *gorm.DB
}

func NewExecutionSQLRepo(db *gorm.DB) *ExecutionSQLRepo {
	return &ExecutionSQLRepo{
		db: db,
	}
}

func (s *ExecutionSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// BulkCreate inserts records; rows already archived are left untouched so a
// redelivered batch is harmless.
func (s *ExecutionSQLRepo) BulkCreate(ctx context.Context, records []*Execution) ([]*Execution, error) {
	if len(records) == 0 {
		return records, nil
	}
	return records, s.dbWithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "aggressor_id"}}, DoNothing: true}).
		Create(records).Error
}

func (s *ExecutionSQLRepo) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*Execution, error) {
	var out []*Execution
	err := s.dbWithContext(ctx).
		Where("symbol = ?", symbol).
		Order("aggressor_id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *ExecutionSQLRepo) ListByClient(ctx context.Context, cid string, limit int) ([]*Execution, error) {
	var out []*Execution
	err := s.dbWithContext(ctx).
		Where("buyer_cid = ? OR seller_cid = ?", cid, cid).
		Order("aggressor_id").
		Limit(limit).
		Find(&out).Error
	return out, err
}
