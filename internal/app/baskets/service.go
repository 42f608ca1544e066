package baskets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/repository/basket_repo"
	"storefront/internal/repository/inventory_repo"
)

type BasketView struct {
	Basket *domain.Basket
	Quote  *Quote
}

type BasketService interface {
	GetBasket(ctx context.Context, ownerKey string) (*BasketView, error)
	AddItem(ctx context.Context, ownerKey string, item domain.BasketItem) (*BasketView, error)
	RemoveItem(ctx context.Context, ownerKey, variantID string) (*BasketView, error)
	ClearBasket(ctx context.Context, basketID string) error
}

type basketService struct {
	tx            domain.TxManager
	basketRepo    basket_repo.BasketRepository
	inventoryRepo inventory_repo.InventoryRepository
	shipping      domain.ShippingPolicy
	logger        *zap.Logger
}

func NewBasketService(
	tx domain.TxManager,
	basketRepo basket_repo.BasketRepository,
	inventoryRepo inventory_repo.InventoryRepository,
	shipping domain.ShippingPolicy,
	logger *zap.Logger,
) BasketService {
	return &basketService{
		tx:            tx,
		basketRepo:    basketRepo,
		inventoryRepo: inventoryRepo,
		shipping:      shipping,
		logger:        logger,
	}
}

// GetBasket returns an empty, unsaved basket when the owner has none yet.
func (s *basketService) GetBasket(ctx context.Context, ownerKey string) (*BasketView, error) {
	if strings.TrimSpace(ownerKey) == "" {
		return nil, fmt.Errorf("%w: basket owner key is required", domain.ErrInvalidInput)
	}
	db := s.tx.DB()
	basket, err := s.basketRepo.GetByOwnerKeyTx(ctx, db, ownerKey)
	if errors.Is(err, domain.ErrNotFound) {
		return &BasketView{Basket: &domain.Basket{OwnerKey: ownerKey}, Quote: &Quote{}}, nil
	}
	if err != nil {
		s.logger.Error("Failed to load basket", zap.String("owner_key", ownerKey), zap.Error(err))
		return nil, err
	}
	quote, err := QuoteTx(ctx, db, s.inventoryRepo, basket, s.shipping)
	if err != nil {
		return nil, err
	}
	return &BasketView{Basket: basket, Quote: quote}, nil
}

// AddItem merges quantities per variant and checks the merged quantity
// against current stock. Stock is not reserved until checkout.
func (s *basketService) AddItem(ctx context.Context, ownerKey string, item domain.BasketItem) (*BasketView, error) {
	if strings.TrimSpace(ownerKey) == "" {
		return nil, fmt.Errorf("%w: basket owner key is required", domain.ErrInvalidInput)
	}
	if item.VariantID == "" || item.Quantity <= 0 {
		return nil, fmt.Errorf("%w: variant id and a positive quantity are required", domain.ErrInvalidInput)
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		variant, err := s.inventoryRepo.GetVariantTx(ctx, q, item.VariantID)
		if err != nil {
			return err
		}
		if item.ProductID != "" && item.ProductID != variant.ProductID {
			return fmt.Errorf("%w: variant %s does not belong to product %s", domain.ErrInvalidInput, variant.ID, item.ProductID)
		}

		basket, err := s.basketRepo.GetByOwnerKeyForUpdateTx(ctx, q, ownerKey)
		if errors.Is(err, domain.ErrNotFound) {
			now := time.Now().UTC()
			basket = &domain.Basket{ID: uuid.NewString(), OwnerKey: ownerKey, CreatedAt: now, UpdatedAt: now}
			if err := s.basketRepo.CreateTx(ctx, q, basket); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		quantity := item.Quantity
		for _, existing := range basket.Items {
			if existing.VariantID == item.VariantID {
				quantity += existing.Quantity
			}
		}
		if quantity > variant.Stock {
			return fmt.Errorf("%w: variant %s has %d in stock, basket would hold %d",
				domain.ErrInsufficientStock, variant.ID, variant.Stock, quantity)
		}
		return s.basketRepo.SetItemTx(ctx, q, basket.ID, domain.BasketItem{
			ProductID: variant.ProductID,
			VariantID: variant.ID,
			Quantity:  quantity,
		})
	})
	if err != nil {
		s.logger.Warn("Failed to add basket item",
			zap.String("owner_key", ownerKey),
			zap.String("variant_id", item.VariantID),
			zap.Error(err))
		return nil, err
	}
	return s.GetBasket(ctx, ownerKey)
}

func (s *basketService) RemoveItem(ctx context.Context, ownerKey, variantID string) (*BasketView, error) {
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		basket, err := s.basketRepo.GetByOwnerKeyForUpdateTx(ctx, q, ownerKey)
		if err != nil {
			return err
		}
		return s.basketRepo.RemoveItemTx(ctx, q, basket.ID, variantID)
	})
	if err != nil {
		return nil, err
	}
	return s.GetBasket(ctx, ownerKey)
}

func (s *basketService) ClearBasket(ctx context.Context, basketID string) error {
	if basketID == "" {
		return fmt.Errorf("%w: basket id is required", domain.ErrInvalidInput)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		return s.basketRepo.DeleteTx(ctx, q, basketID)
	})
}
