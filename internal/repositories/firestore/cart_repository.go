package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/fleetbite/api/internal/domain"
	pfirestore "github.com/fleetbite/api/internal/platform/firestore"
	"github.com/fleetbite/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists carts within Firestore keyed by user ID.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
		now:      time.Now,
	}, nil
}

// UpsertCart persists the cart document using the user ID as document
// identifier. Joins the ambient transaction when one is open so a cancelled
// order's cart is only recreated when the cancellation commits.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID := strings.TrimSpace(firstCartID(cart))
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := r.now().UTC()
	doc := encodeCart(cart, now)

	saved := cloneCart(cart)
	saved.ID = cartID
	saved.UserID = cartID
	saved.Currency = doc.Currency

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, cartID)
		if err != nil {
			return domain.Cart{}, err
		}
		if err := tx.Set(ref, doc); err != nil {
			return domain.Cart{}, pfirestore.WrapError("carts.set", err)
		}
		saved.UpdatedAt = now
		return saved, nil
	}

	result, err := r.base.Set(ctx, cartID, doc)
	if err != nil {
		return domain.Cart{}, err
	}
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// GetCart loads the cart for the given user ID. Inside a unit of work the
// read joins the ambient transaction so placement observes a stable cart.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, uid)
		if err != nil {
			return domain.Cart{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Cart{}, pfirestore.WrapError("carts.get", err)
		}
		var doc cartDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Cart{}, pfirestore.WrapError("carts.decode", err)
		}
		return decodeCart(uid, doc, snap.UpdateTime), nil
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCart(uid, doc.Data, doc.UpdateTime), nil
}

// ReplaceItems swaps the full item list for the user's cart, creating the
// cart when absent.
func (r *CartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	cart := domain.Cart{ID: uid, UserID: uid, Items: items}
	if existing, err := r.GetCart(ctx, uid); err == nil {
		cart.Currency = existing.Currency
	}
	return r.UpsertCart(ctx, cart)
}

// Delete removes the cart document. Joins the ambient transaction when one
// is open so order placement consumes the cart atomically.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("carts.delete", tx.Delete(ref))
	}
	_, err = ref.Delete(ctx)
	return pfirestore.WrapError("carts.delete", err)
}

func firstCartID(cart domain.Cart) string {
	if strings.TrimSpace(cart.ID) != "" {
		return strings.TrimSpace(cart.ID)
	}
	return strings.TrimSpace(cart.UserID)
}

func cloneCart(cart domain.Cart) domain.Cart {
	dup := cart
	if cart.Items != nil {
		dup.Items = make([]domain.CartItem, len(cart.Items))
		copy(dup.Items, cart.Items)
	}
	return dup
}

func encodeCart(cart domain.Cart, now time.Time) cartDocument {
	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
		})
	}
	return cartDocument{
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:     items,
		UpdatedAt: now,
	}
}

func decodeCart(id string, doc cartDocument, updateTime time.Time) domain.Cart {
	items := make([]domain.CartItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.CartItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
		})
	}
	updated := doc.UpdatedAt
	if !updateTime.IsZero() {
		updated = updateTime
	}
	return domain.Cart{
		ID:        id,
		UserID:    id,
		Currency:  strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Items:     items,
		UpdatedAt: updated,
	}
}

type cartDocument struct {
	Currency  string             `firestore:"currency,omitempty"`
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name,omitempty"`
	Quantity  int    `firestore:"quantity"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
