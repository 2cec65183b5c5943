package domain

import "time"

// FeeSchedule holds the tunable inputs of charge computation. Amounts are
// minor units; distances are kilometers.
type FeeSchedule struct {
	BaseDeliveryFee       int64
	PerKmRate             int64
	BaseServiceFee        int64
	LongDistanceSurcharge int64
	LongDistanceKm        float64
}

// DefaultFeeSchedule returns the production fee schedule used when no
// override is configured.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		BaseDeliveryFee:       500,
		PerKmRate:             50,
		BaseServiceFee:        150,
		LongDistanceSurcharge: 200,
		LongDistanceKm:        10,
	}
}

// DeliveryParams holds the inputs of ETA estimation.
type DeliveryParams struct {
	MaxRadiusKm     float64
	AvgSpeedKmh     float64
	DefaultPrepTime time.Duration
	WindowBefore    time.Duration
	WindowAfter     time.Duration
}

// DefaultDeliveryParams returns the production delivery estimation defaults.
func DefaultDeliveryParams() DeliveryParams {
	return DeliveryParams{
		MaxRadiusKm:     15,
		AvgSpeedKmh:     30,
		DefaultPrepTime: 15 * time.Minute,
		WindowBefore:    5 * time.Minute,
		WindowAfter:     10 * time.Minute,
	}
}
