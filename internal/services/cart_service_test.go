package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/fleetbite/api/internal/domain"
)

func TestGetOrCreateCartNormalisesEmptyCart(t *testing.T) {
	repo := &stubCartRepository{}
	svc := mustCartService(t, repo, map[string]domain.Product{})

	cart, err := svc.GetOrCreateCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetOrCreateCart: %v", err)
	}
	if cart.UserID != "user-1" || cart.ID != "user-1" {
		t.Fatalf("cart = %+v", cart)
	}
	if cart.Currency != "USD" {
		t.Fatalf("currency = %s", cart.Currency)
	}
	if cart.Items == nil || len(cart.Items) != 0 {
		t.Fatalf("items = %+v", cart.Items)
	}
}

func TestUpsertItemAddsLineWithCatalogName(t *testing.T) {
	repo := &stubCartRepository{cart: domain.Cart{ID: "user-1", UserID: "user-1"}}
	svc := mustCartService(t, repo, map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Burrito", UnitPrice: 1000, Active: true},
	})

	cart, err := svc.UpsertItem(context.Background(), UpsertCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("items = %+v", cart.Items)
	}
	if cart.Items[0].Name != "Burrito" || cart.Items[0].Quantity != 2 {
		t.Fatalf("line = %+v", cart.Items[0])
	}
}

func TestUpsertItemOverwritesExistingLine(t *testing.T) {
	repo := &stubCartRepository{cart: domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Items:  []domain.CartItem{{ProductID: "prod-1", Name: "Burrito", Quantity: 1}},
	}}
	svc := mustCartService(t, repo, map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Burrito", UnitPrice: 1000, Active: true},
	})

	cart, err := svc.UpsertItem(context.Background(), UpsertCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  5,
	})
	if err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 5 {
		t.Fatalf("items = %+v", cart.Items)
	}
}

func TestUpsertItemRejectsInactiveProduct(t *testing.T) {
	repo := &stubCartRepository{cart: domain.Cart{ID: "user-1", UserID: "user-1"}}
	svc := mustCartService(t, repo, map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Burrito", Active: false},
	})

	_, err := svc.UpsertItem(context.Background(), UpsertCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  1,
	})
	if !errors.Is(err, ErrCartProductUnavailable) {
		t.Fatalf("error = %v, want ErrCartProductUnavailable", err)
	}
}

func TestUpsertItemRejectsInvalidQuantity(t *testing.T) {
	repo := &stubCartRepository{}
	svc := mustCartService(t, repo, map[string]domain.Product{})

	for _, quantity := range []int{0, -1, maxCartLineQuantity + 1} {
		_, err := svc.UpsertItem(context.Background(), UpsertCartItemCommand{
			UserID:    "user-1",
			ProductID: "prod-1",
			Quantity:  quantity,
		})
		if !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("quantity %d: error = %v, want ErrCartInvalidInput", quantity, err)
		}
	}
}

func TestRemoveItemDropsLine(t *testing.T) {
	repo := &stubCartRepository{cart: domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Items: []domain.CartItem{
			{ProductID: "prod-1", Quantity: 1},
			{ProductID: "prod-2", Quantity: 3},
		},
	}}
	svc := mustCartService(t, repo, map[string]domain.Product{})

	cart, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
	})
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "prod-2" {
		t.Fatalf("items = %+v", cart.Items)
	}
}

func TestRemoveItemMissingLine(t *testing.T) {
	repo := &stubCartRepository{cart: domain.Cart{ID: "user-1", UserID: "user-1"}}
	svc := mustCartService(t, repo, map[string]domain.Product{})

	_, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-9",
	})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("error = %v, want ErrCartNotFound", err)
	}
}

func TestClearCartDeletes(t *testing.T) {
	repo := &stubCartRepository{cart: domain.Cart{ID: "user-1", UserID: "user-1"}}
	svc := mustCartService(t, repo, map[string]domain.Product{})

	if err := svc.ClearCart(context.Background(), "user-1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if repo.deleted != 1 {
		t.Fatalf("deletions = %d, want 1", repo.deleted)
	}
}

func mustCartService(t *testing.T, repo *stubCartRepository, products map[string]domain.Product) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Repository: repo,
		Products:   &stubProductRepository{products: products},
		Clock:      func() time.Time { return time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}
