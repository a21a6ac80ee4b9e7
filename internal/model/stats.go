package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatsResponse aggregates request counts per derived status for a
// division/date-range window, plus the total value of stock already released.
type RequestStatsResponse struct {
	Total              int64            `json:"total"`
	ByStatus           map[string]int64 `json:"by_status"`
	UrgentOpen         int64            `json:"urgent_open"` // urgent requests not yet terminal
	ApprovedValue      decimal.Decimal  `json:"approved_value"`
	TimeRangeStartDate *time.Time       `json:"time_range_start_date,omitempty"`
	TimeRangeEndDate   *time.Time       `json:"time_range_end_date,omitempty"`
}
