package services

import "errors"

var (
	// ErrPromotionRepositoryMissing indicates a promotion repository dependency is absent.
	ErrPromotionRepositoryMissing = errors.New("promotion service: repository is not configured")
	// ErrPromotionInvalid signals the code does not exist, is inactive, or is outside its validity window.
	ErrPromotionInvalid = errors.New("promotion service: promotion code is invalid or expired")
	// ErrPromotionExhausted indicates the caller has reached the per-user redemption limit.
	ErrPromotionExhausted = errors.New("promotion service: promotion usage limit reached")
	// ErrPromotionMinOrder indicates the order subtotal is below the promotion's minimum.
	ErrPromotionMinOrder = errors.New("promotion service: order subtotal below promotion minimum")
)
