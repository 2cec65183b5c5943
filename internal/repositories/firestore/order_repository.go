package firestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/fleetbite/api/internal/domain"
	pfirestore "github.com/fleetbite/api/internal/platform/firestore"
	"github.com/fleetbite/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates including status history.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order. Joins the ambient transaction from the order
// placement unit of work when one is open. Fails on ID collision.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.insert", tx.Create(docRef, doc))
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.update", tx.Set(docRef, doc))
	}
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID fetches a single order. Transaction-aware so status transitions
// re-read the aggregate inside their unit of work.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		docRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.decode", err)
		}
		return decodeOrderDocument(orderID, doc), nil
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data), nil
}

// FindByPaymentIntent locates the order settled through the given intent.
// Joins the ambient transaction so settlements observe and lock the order
// they are about to mutate.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, intentID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.Order{}, errors.New("order repository: intent id is required")
	}

	byIntent := func(q firestore.Query) firestore.Query {
		return q.Where("payment.intentId", "==", intentID).Limit(1)
	}

	var (
		docs []pfirestore.Document[orderDocument]
		err  error
	)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		docs, err = r.base.QueryTx(ctx, tx, byIntent)
	} else {
		docs, err = r.base.Query(ctx, byIntent)
	}
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.find_by_intent", fmt.Sprintf("no order for intent %s", intentID))
	}
	return decodeOrderDocument(docs[0].ID, docs[0].Data), nil
}

// List returns orders matching the filter ordered by placement time descending.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	fetchLimit := limit + 1

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		if trimmed := strings.TrimSpace(strings.ToLower(s)); trimmed != "" {
			statusFilters = append(statusFilters, trimmed)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if courierID := strings.TrimSpace(filter.CourierID); courierID != "" {
			q = q.Where("courierId", "==", courierID)
		}
		if centerID := strings.TrimSpace(filter.CenterID); centerID != "" {
			q = q.Where("centerId", "==", centerID)
		}
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}
		if filter.DateRange.From != nil {
			q = q.Where("placedAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("placedAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("placedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(fetchLimit)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if len(docs) == fetchLimit {
		last := docs[limit-1]
		nextToken = encodeOrderListToken(last.Data.PlacedAt, last.ID)
		docs = docs[:limit]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

type orderDocument struct {
	Number      string                 `firestore:"number"`
	UserID      string                 `firestore:"userId"`
	CenterID    string                 `firestore:"centerId"`
	CourierID   string                 `firestore:"courierId,omitempty"`
	Status      string                 `firestore:"status"`
	Currency    string                 `firestore:"currency"`
	Lines       []orderLineDocument    `firestore:"lines"`
	Charges     chargeBreakdownDoc     `firestore:"charges"`
	Address     orderAddressDocument   `firestore:"address"`
	Window      deliveryWindowDocument `firestore:"window"`
	Payment     *paymentStateDocument  `firestore:"payment,omitempty"`
	History     []statusChangeDocument `firestore:"history"`
	PlacedAt    time.Time              `firestore:"placedAt"`
	DeliveredAt *time.Time             `firestore:"deliveredAt,omitempty"`
	CreatedAt   time.Time              `firestore:"createdAt"`
	UpdatedAt   time.Time              `firestore:"updatedAt"`
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name,omitempty"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	LineTotal int64  `firestore:"lineTotal"`
}

type chargeBreakdownDoc struct {
	ProductSubtotal int64   `firestore:"productSubtotal"`
	DeliveryFee     int64   `firestore:"deliveryFee"`
	ServiceFee      int64   `firestore:"serviceFee"`
	Discount        int64   `firestore:"discount"`
	DiscountScope   string  `firestore:"discountScope,omitempty"`
	TipAmount       int64   `firestore:"tipAmount"`
	OriginalAmount  int64   `firestore:"originalAmount"`
	FinalAmount     int64   `firestore:"finalAmount"`
	DistanceKm      float64 `firestore:"distanceKm"`
	PromoCode       string  `firestore:"promoCode,omitempty"`
	PromotionID     string  `firestore:"promotionId,omitempty"`
}

type orderAddressDocument struct {
	ID           string  `firestore:"id,omitempty"`
	Label        string  `firestore:"label,omitempty"`
	Line1        string  `firestore:"line1"`
	Line2        string  `firestore:"line2,omitempty"`
	City         string  `firestore:"city,omitempty"`
	Region       string  `firestore:"region,omitempty"`
	PostalCode   string  `firestore:"postalCode,omitempty"`
	Country      string  `firestore:"country,omitempty"`
	Lat          float64 `firestore:"lat"`
	Lng          float64 `firestore:"lng"`
	Instructions string  `firestore:"instructions,omitempty"`
}

type deliveryWindowDocument struct {
	EarliestAt time.Time `firestore:"earliestAt"`
	LatestAt   time.Time `firestore:"latestAt"`
}

type paymentStateDocument struct {
	IntentID    string     `firestore:"intentId"`
	Provider    string     `firestore:"provider,omitempty"`
	Status      string     `firestore:"status"`
	Amount      int64      `firestore:"amount"`
	Currency    string     `firestore:"currency,omitempty"`
	ReceivedAt  *time.Time `firestore:"receivedAt,omitempty"`
	FailureCode string     `firestore:"failureCode,omitempty"`
}

type statusChangeDocument struct {
	From      string    `firestore:"from,omitempty"`
	To        string    `firestore:"to"`
	ActorID   string    `firestore:"actorId,omitempty"`
	ActorRole string    `firestore:"actorRole,omitempty"`
	Reason    string    `firestore:"reason,omitempty"`
	At        time.Time `firestore:"at"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	history := make([]statusChangeDocument, 0, len(order.History))
	for _, change := range order.History {
		history = append(history, statusChangeDocument{
			From:      string(change.From),
			To:        string(change.To),
			ActorID:   change.ActorID,
			ActorRole: change.ActorRole,
			Reason:    change.Reason,
			At:        change.At.UTC(),
		})
	}
	doc := orderDocument{
		Number:    order.Number,
		UserID:    order.UserID,
		CenterID:  order.CenterID,
		CourierID: order.CourierID,
		Status:    string(order.Status),
		Currency:  order.Currency,
		Lines:     lines,
		Charges: chargeBreakdownDoc{
			ProductSubtotal: order.Charges.ProductSubtotal,
			DeliveryFee:     order.Charges.DeliveryFee,
			ServiceFee:      order.Charges.ServiceFee,
			Discount:        order.Charges.Discount,
			DiscountScope:   string(order.Charges.DiscountScope),
			TipAmount:       order.Charges.TipAmount,
			OriginalAmount:  order.Charges.OriginalAmount,
			FinalAmount:     order.Charges.FinalAmount,
			DistanceKm:      order.Charges.DistanceKm,
			PromoCode:       order.Charges.PromoCode,
			PromotionID:     order.Charges.PromotionID,
		},
		Address: orderAddressDocument{
			ID:           order.Address.ID,
			Label:        order.Address.Label,
			Line1:        order.Address.Line1,
			Line2:        order.Address.Line2,
			City:         order.Address.City,
			Region:       order.Address.Region,
			PostalCode:   order.Address.PostalCode,
			Country:      order.Address.Country,
			Lat:          order.Address.Coordinates.Lat,
			Lng:          order.Address.Coordinates.Lng,
			Instructions: order.Address.Instructions,
		},
		Window: deliveryWindowDocument{
			EarliestAt: order.Window.EarliestAt.UTC(),
			LatestAt:   order.Window.LatestAt.UTC(),
		},
		History:   history,
		PlacedAt:  order.PlacedAt.UTC(),
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	if order.DeliveredAt != nil {
		delivered := order.DeliveredAt.UTC()
		doc.DeliveredAt = &delivered
	}
	if order.Payment != nil {
		doc.Payment = &paymentStateDocument{
			IntentID:    order.Payment.IntentID,
			Provider:    order.Payment.Provider,
			Status:      order.Payment.Status,
			Amount:      order.Payment.Amount,
			Currency:    order.Payment.Currency,
			ReceivedAt:  order.Payment.ReceivedAt,
			FailureCode: order.Payment.FailureCode,
		}
	}
	return doc
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	lines := make([]domain.OrderLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, domain.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	history := make([]domain.StatusChange, 0, len(doc.History))
	for _, change := range doc.History {
		history = append(history, domain.StatusChange{
			From:      domain.OrderStatus(change.From),
			To:        domain.OrderStatus(change.To),
			ActorID:   change.ActorID,
			ActorRole: change.ActorRole,
			Reason:    change.Reason,
			At:        change.At,
		})
	}
	order := domain.Order{
		ID:        id,
		Number:    doc.Number,
		UserID:    doc.UserID,
		CenterID:  doc.CenterID,
		CourierID: doc.CourierID,
		Status:    domain.OrderStatus(doc.Status),
		Currency:  doc.Currency,
		Lines:     lines,
		Charges: domain.ChargeBreakdown{
			ProductSubtotal: doc.Charges.ProductSubtotal,
			DeliveryFee:     doc.Charges.DeliveryFee,
			ServiceFee:      doc.Charges.ServiceFee,
			Discount:        doc.Charges.Discount,
			DiscountScope:   domain.PromotionScope(doc.Charges.DiscountScope),
			TipAmount:       doc.Charges.TipAmount,
			OriginalAmount:  doc.Charges.OriginalAmount,
			FinalAmount:     doc.Charges.FinalAmount,
			DistanceKm:      doc.Charges.DistanceKm,
			PromoCode:       doc.Charges.PromoCode,
			PromotionID:     doc.Charges.PromotionID,
		},
		Address: domain.Address{
			ID:           doc.Address.ID,
			Label:        doc.Address.Label,
			Line1:        doc.Address.Line1,
			Line2:        doc.Address.Line2,
			City:         doc.Address.City,
			Region:       doc.Address.Region,
			PostalCode:   doc.Address.PostalCode,
			Country:      doc.Address.Country,
			Coordinates:  domain.LatLng{Lat: doc.Address.Lat, Lng: doc.Address.Lng},
			Instructions: doc.Address.Instructions,
		},
		Window: domain.DeliveryWindow{
			EarliestAt: doc.Window.EarliestAt,
			LatestAt:   doc.Window.LatestAt,
		},
		History:     history,
		PlacedAt:    doc.PlacedAt,
		DeliveredAt: doc.DeliveredAt,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if doc.Payment != nil {
		order.Payment = &domain.PaymentState{
			IntentID:    doc.Payment.IntentID,
			Provider:    doc.Payment.Provider,
			Status:      doc.Payment.Status,
			Amount:      doc.Payment.Amount,
			Currency:    doc.Payment.Currency,
			ReceivedAt:  doc.Payment.ReceivedAt,
			FailureCode: doc.Payment.FailureCode,
		}
	}
	return order
}

type orderListToken struct {
	PlacedAt time.Time `json:"placedAt"`
	ID       string    `json:"id"`
}

func encodeOrderListToken(placedAt time.Time, id string) string {
	raw, err := json.Marshal(orderListToken{PlacedAt: placedAt.UTC(), ID: id})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	var decoded orderListToken
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return time.Time{}, "", err
	}
	if decoded.ID == "" || decoded.PlacedAt.IsZero() {
		return time.Time{}, "", errors.New("page token missing cursor fields")
	}
	return decoded.PlacedAt, decoded.ID, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
