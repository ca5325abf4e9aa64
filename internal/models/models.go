package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase records one order placed through the bot
type Purchase struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	UserID          int64           `json:"user_id" gorm:"not null;index"`
	OrderID         string          `json:"order_id" gorm:"not null;uniqueIndex"`
	OrderExternalID string          `json:"order_external_id"`
	KinguinID       int             `json:"kinguin_id" gorm:"not null"`
	ProductName     string          `json:"product_name" gorm:"not null"`
	Quantity        int             `json:"quantity" gorm:"not null"`
	Price           decimal.Decimal `json:"price" gorm:"type:decimal(12,2);not null"`
	TotalPrice      decimal.Decimal `json:"total_price" gorm:"type:decimal(12,2);not null"`
	Status          string          `json:"status" gorm:"not null;index"` // new, processing, completed, cancelled, refunded
	Keys            string          `json:"-"`                            // JSON-encoded key list, only once completed
	CreatedAt       time.Time       `json:"created_at" gorm:"index"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// IsPending reports whether the order can still change status
func (p *Purchase) IsPending() bool {
	switch p.Status {
	case "completed", "cancelled", "refunded":
		return false
	}
	return true
}

// FunPayLink maps a FunPay listing to a Kinguin catalog id
type FunPayLink struct {
	FunPayID  string    `json:"funpay_id" gorm:"primaryKey"`
	KinguinID int       `json:"kinguin_id" gorm:"not null"`
	UserID    int64     `json:"user_id" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}
