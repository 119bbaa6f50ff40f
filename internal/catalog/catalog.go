package catalog

import (
	"context"

	"shuq/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrNotFound 商品不存在（或已下架）。
var ErrNotFound = errors.New("product not found")

// Catalog is the read-only product reference data as seen by negotiation.
type Catalog interface {
	Get(ctx context.Context, sku string) (model.Product, error)
}

// Store 基于 gorm 的商品表，供管理端维护。
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, sku string) (model.Product, error) {
	var p model.Product
	err := s.db.WithContext(ctx).Where("sku = ?", sku).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Product{}, errors.Mark(errors.Newf("sku %q", sku), ErrNotFound)
		}
		return model.Product{}, errors.Wrap(err, "get product")
	}
	return p, nil
}

// List 按 sku 排序返回全部商品。
func (s *Store) List(ctx context.Context) ([]model.Product, error) {
	var list []model.Product
	if err := s.db.WithContext(ctx).Order("sku").Find(&list).Error; err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return list, nil
}

// Create 校验后写入商品。
func (s *Store) Create(ctx context.Context, p *model.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return errors.Wrap(s.db.WithContext(ctx).Create(p).Error, "create product")
}

// UpdatePrice 管理员改价；已开始的议价使用会话开始时的价格快照，不受影响。
func (s *Store) UpdatePrice(ctx context.Context, sku string, price decimal.Decimal) (model.Product, error) {
	if !price.IsPositive() {
		return model.Product{}, errors.New("price must be > 0")
	}
	res := s.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("sku = ?", sku).
		Update("price", price)
	if res.Error != nil {
		return model.Product{}, errors.Wrap(res.Error, "update price")
	}
	if res.RowsAffected == 0 {
		return model.Product{}, errors.Mark(errors.Newf("sku %q", sku), ErrNotFound)
	}
	return s.Get(ctx, sku)
}
