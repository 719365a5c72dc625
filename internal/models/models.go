package models

import (
	"time"
)

// Item statuses. Anything else stored in the status column is treated as
// "not on sale" by the item page.
const (
	ItemStatusOnSale  = "on_sale"
	ItemStatusTrading = "trading"
	ItemStatusSoldOut = "sold_out"
	ItemStatusStop    = "stop"
	ItemStatusCancel  = "cancel"
)

const (
	TransactionEvidenceStatusWaitShipping = "wait_shipping"
	TransactionEvidenceStatusWaitDone     = "wait_done"
	TransactionEvidenceStatusDone         = "done"
)

const (
	ShippingStatusInitial    = "initial"
	ShippingStatusWaitPickup = "wait_pickup"
	ShippingStatusShipping   = "shipping"
	ShippingStatusDone       = "done"
)

// User represents a marketplace account
type User struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	AccountName    string    `json:"account_name" gorm:"unique;not null"`
	HashedPassword []byte    `json:"-" gorm:"not null"`
	Address        string    `json:"address"`
	NumSellItems   int       `json:"num_sell_items" gorm:"default:0"`
	LastBump       time.Time `json:"-"`
	CreatedAt      time.Time `json:"-"`
}

// UserSimple is the public view of a user shown on item pages
type UserSimple struct {
	ID           int64  `json:"id"`
	AccountName  string `json:"account_name"`
	NumSellItems int    `json:"num_sell_items"`
}

func (u *User) Simple() UserSimple {
	return UserSimple{
		ID:           u.ID,
		AccountName:  u.AccountName,
		NumSellItems: u.NumSellItems,
	}
}

// Category is a two level item category
type Category struct {
	ID                 int    `json:"id" gorm:"primaryKey"`
	ParentID           int    `json:"parent_id"`
	CategoryName       string `json:"category_name" gorm:"not null"`
	ParentCategoryName string `json:"parent_category_name,omitempty" gorm:"-"`
}

// Item represents a listing. BuyerID is zero until somebody buys it.
type Item struct {
	ID          int64     `json:"id" gorm:"primaryKey"`
	SellerID    int64     `json:"seller_id" gorm:"not null;index"`
	BuyerID     int64     `json:"buyer_id" gorm:"default:0"`
	Status      string    `json:"status" gorm:"not null;index"`
	Name        string    `json:"name" gorm:"not null"`
	Price       int       `json:"price"`
	Description string    `json:"description"`
	ImageName   string    `json:"image_name"`
	CategoryID  int       `json:"category_id"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// ItemDetail is everything the item page needs to render a listing
type ItemDetail struct {
	ID                        int64       `json:"id"`
	SellerID                  int64       `json:"seller_id"`
	Seller                    *UserSimple `json:"seller"`
	BuyerID                   int64       `json:"buyer_id,omitempty"`
	Buyer                     *UserSimple `json:"buyer,omitempty"`
	Status                    string      `json:"status"`
	Name                      string      `json:"name"`
	Price                     int         `json:"price"`
	Description               string      `json:"description"`
	ImageURL                  string      `json:"image_url"`
	CategoryID                int         `json:"category_id"`
	Category                  *Category   `json:"category"`
	TransactionEvidenceID     int64       `json:"transaction_evidence_id,omitempty"`
	TransactionEvidenceStatus string      `json:"transaction_evidence_status,omitempty"`
	ShippingStatus            string      `json:"shipping_status,omitempty"`
	CreatedAt                 int64       `json:"created_at"`
}

// TransactionEvidence records a purchase from the moment it is paid
type TransactionEvidence struct {
	ID                 int64     `json:"id" gorm:"primaryKey"`
	SellerID           int64     `json:"seller_id" gorm:"not null"`
	BuyerID            int64     `json:"buyer_id" gorm:"not null"`
	Status             string    `json:"status" gorm:"not null"`
	ItemID             int64     `json:"item_id" gorm:"uniqueIndex;not null"`
	ItemName           string    `json:"item_name"`
	ItemPrice          int       `json:"item_price"`
	ItemDescription    string    `json:"item_description"`
	ItemCategoryID     int       `json:"item_category_id"`
	ItemRootCategoryID int       `json:"item_root_category_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Shipping tracks the delivery reservation of a transaction
type Shipping struct {
	TransactionEvidenceID int64     `json:"transaction_evidence_id" gorm:"primaryKey;autoIncrement:false"`
	Status                string    `json:"status" gorm:"not null;index"`
	ItemName              string    `json:"item_name"`
	ItemID                int64     `json:"item_id" gorm:"not null"`
	ReserveID             string    `json:"reserve_id" gorm:"not null"`
	ReserveTime           int64     `json:"reserve_time"`
	ToAddress             string    `json:"to_address"`
	ToName                string    `json:"to_name"`
	FromAddress           string    `json:"from_address"`
	FromName              string    `json:"from_name"`
	ImgBinary             []byte    `json:"-"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}
