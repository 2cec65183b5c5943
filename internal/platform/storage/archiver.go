package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	domain "github.com/fleetbite/api/internal/domain"
)

// ReceiptArchiver persists a JSON receipt for delivered orders in Cloud Storage.
type ReceiptArchiver struct {
	client *gcs.Client
	bucket string
}

// NewReceiptArchiver constructs a ReceiptArchiver writing to the given bucket.
func NewReceiptArchiver(client *gcs.Client, bucket string) (*ReceiptArchiver, error) {
	if client == nil {
		return nil, errors.New("receipt archiver: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("receipt archiver: bucket is required")
	}
	return &ReceiptArchiver{client: client, bucket: bucket}, nil
}

type receiptLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

type receiptDocument struct {
	OrderID     string        `json:"orderId"`
	Number      string        `json:"number"`
	UserID      string        `json:"userId"`
	Status      string        `json:"status"`
	Currency    string        `json:"currency"`
	Lines       []receiptLine `json:"lines"`
	Subtotal    int64         `json:"subtotal"`
	DeliveryFee int64         `json:"deliveryFee"`
	ServiceFee  int64         `json:"serviceFee"`
	Discount    int64         `json:"discount"`
	TipAmount   int64         `json:"tipAmount"`
	FinalAmount int64         `json:"finalAmount"`
	PromoCode   string        `json:"promoCode,omitempty"`
	PlacedAt    time.Time     `json:"placedAt"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
}

// ArchiveReceipt writes the order receipt and returns the object path.
func (a *ReceiptArchiver) ArchiveReceipt(ctx context.Context, order domain.Order) (string, error) {
	if a == nil || a.client == nil {
		return "", errors.New("receipt archiver: not initialised")
	}

	path, err := BuildObjectPath(PurposeReceipt, PathParams{
		OrderID:     order.ID,
		OrderNumber: order.Number,
	})
	if err != nil {
		return "", err
	}

	doc := receiptDocument{
		OrderID:     order.ID,
		Number:      order.Number,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Currency:    order.Currency,
		Subtotal:    order.Charges.ProductSubtotal,
		DeliveryFee: order.Charges.DeliveryFee,
		ServiceFee:  order.Charges.ServiceFee,
		Discount:    order.Charges.Discount,
		TipAmount:   order.Charges.TipAmount,
		FinalAmount: order.Charges.FinalAmount,
		PromoCode:   order.Charges.PromoCode,
		PlacedAt:    order.PlacedAt,
		DeliveredAt: order.DeliveredAt,
	}
	for _, line := range order.Lines {
		doc.Lines = append(doc.Lines, receiptLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}

	writer := a.client.Bucket(a.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("write receipt %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalise receipt %s: %w", path, err)
	}
	return path, nil
}
