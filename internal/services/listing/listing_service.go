package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fleamarket/internal/models"
	paymentService "fleamarket/internal/services/payment"
	shipmentService "fleamarket/internal/services/shipment"
)

const (
	ItemMinPrice = 100
	ItemMaxPrice = 1000000
)

var (
	ErrItemNotFound        = errors.New("item not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotForSale          = errors.New("item is not for sale")
	ErrOwnItem             = errors.New("you cannot buy your own item")
	ErrNotSeller           = errors.New("only the seller can change this item")
	ErrNotParty            = errors.New("only the seller or the buyer can see this transaction")
	ErrBumpTooSoon         = errors.New("bump not allowed yet")
	ErrInvalidPrice        = fmt.Errorf("price must be between %d and %d", ItemMinPrice, ItemMaxPrice)
	ErrPaymentRejected     = errors.New("payment was rejected")
	ErrNotBuyer            = errors.New("only the buyer can complete this transaction")
	ErrNotTrading          = errors.New("item is not being traded")
	ErrNotReady            = errors.New("transaction is not ready for this step")
	ErrShipmentPending     = errors.New("shipment has not been picked up yet")
	ErrShipmentNotDone     = errors.New("shipment has not been delivered yet")
	ErrLabelNotFound       = errors.New("shipping label not issued")
)

// Steps of a running transaction, in the order they happen
const (
	StepShip     = "ship"
	StepShipDone = "ship_done"
	StepComplete = "complete"
)

// Notifier is told about every item whose status or ranking changed
type Notifier interface {
	ItemChanged(itemID int64, status string)
}

type ListingService struct {
	db         *gorm.DB
	payment    *paymentService.PaymentService
	shipment   *shipmentService.ShipmentService
	notifier   Notifier
	bumpCharge time.Duration
	now        func() time.Time
}

type TransactionView struct {
	Evidence models.TransactionEvidence `json:"transaction_evidence"`
	Shipping models.Shipping            `json:"shipping"`
	NextStep string                     `json:"next_step,omitempty"`
}

type ShipResult struct {
	TransactionEvidenceID int64  `json:"transaction_evidence_id"`
	ReserveID             string `json:"reserve_id"`
}

func NewListingService(db *gorm.DB, payment *paymentService.PaymentService, shipment *shipmentService.ShipmentService, bumpCharge time.Duration) *ListingService {
	return &ListingService{
		db:         db,
		payment:    payment,
		shipment:   shipment,
		bumpCharge: bumpCharge,
		now:        time.Now,
	}
}

func (s *ListingService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *ListingService) notify(itemID int64, status string) {
	if s.notifier != nil {
		s.notifier.ItemChanged(itemID, status)
	}
}

// GetItem returns the stored listing
func (s *ListingService) GetItem(ctx context.Context, itemID int64) (*models.Item, error) {
	return findItem(s.db.WithContext(ctx), itemID)
}

func findItem(db *gorm.DB, itemID int64) (*models.Item, error) {
	var item models.Item
	if err := db.First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func findUser(db *gorm.DB, userID int64) (*models.User, error) {
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *ListingService) category(db *gorm.DB, categoryID int) (*models.Category, error) {
	var category models.Category
	if err := db.First(&category, categoryID).Error; err != nil {
		return nil, fmt.Errorf("category %d: %w", categoryID, err)
	}
	if category.ParentID != 0 {
		var parent models.Category
		if err := db.First(&parent, category.ParentID).Error; err != nil {
			return nil, fmt.Errorf("parent category %d: %w", category.ParentID, err)
		}
		category.ParentCategoryName = parent.CategoryName
	}
	return &category, nil
}

func isParty(item *models.Item, userID int64) bool {
	return userID == item.SellerID || (item.BuyerID != 0 && userID == item.BuyerID)
}

// GetItemDetail loads everything the item page shows. Buyer and transaction
// fields are only filled in for the seller and the buyer.
func (s *ListingService) GetItemDetail(ctx context.Context, viewerID, itemID int64) (*models.ItemDetail, error) {
	db := s.db.WithContext(ctx)

	item, err := findItem(db, itemID)
	if err != nil {
		return nil, err
	}

	seller, err := findUser(db, item.SellerID)
	if err != nil {
		return nil, fmt.Errorf("seller of item %d: %w", itemID, err)
	}
	sellerSimple := seller.Simple()

	category, err := s.category(db, item.CategoryID)
	if err != nil {
		return nil, err
	}

	detail := &models.ItemDetail{
		ID:          item.ID,
		SellerID:    item.SellerID,
		Seller:      &sellerSimple,
		Status:      item.Status,
		Name:        item.Name,
		Price:       item.Price,
		Description: item.Description,
		ImageURL:    imageURL(item.ImageName),
		CategoryID:  item.CategoryID,
		Category:    category,
		CreatedAt:   item.CreatedAt.Unix(),
	}

	if !isParty(item, viewerID) || item.BuyerID == 0 {
		return detail, nil
	}

	buyer, err := findUser(db, item.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("buyer of item %d: %w", itemID, err)
	}
	buyerSimple := buyer.Simple()
	detail.BuyerID = item.BuyerID
	detail.Buyer = &buyerSimple

	var evidence models.TransactionEvidence
	err = db.Where("item_id = ?", item.ID).First(&evidence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return detail, nil
	}
	if err != nil {
		return nil, err
	}

	var shipping models.Shipping
	if err := db.Where("transaction_evidence_id = ?", evidence.ID).First(&shipping).Error; err != nil {
		return nil, fmt.Errorf("shipping of transaction %d: %w", evidence.ID, err)
	}

	detail.TransactionEvidenceID = evidence.ID
	detail.TransactionEvidenceStatus = evidence.Status
	detail.ShippingStatus = shipping.Status

	return detail, nil
}

func imageURL(imageName string) string {
	if imageName == "" {
		return ""
	}
	return "/upload/" + imageName
}

// Buy reserves a shipment, charges the card and moves the item to trading.
// Nothing is stored unless every step succeeds.
func (s *ListingService) Buy(ctx context.Context, buyerID, itemID int64, cardToken string) (*models.TransactionEvidence, error) {
	var evidence models.TransactionEvidence
	var item *models.Item

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, err = findItem(tx, itemID)
		if err != nil {
			return err
		}

		if item.Status != models.ItemStatusOnSale {
			return ErrNotForSale
		}
		if item.SellerID == buyerID {
			return ErrOwnItem
		}

		buyer, err := findUser(tx, buyerID)
		if err != nil {
			return err
		}
		seller, err := findUser(tx, item.SellerID)
		if err != nil {
			return fmt.Errorf("seller of item %d: %w", itemID, err)
		}
		category, err := s.category(tx, item.CategoryID)
		if err != nil {
			return err
		}

		evidence = models.TransactionEvidence{
			SellerID:           item.SellerID,
			BuyerID:            buyerID,
			Status:             models.TransactionEvidenceStatusWaitShipping,
			ItemID:             item.ID,
			ItemName:           item.Name,
			ItemPrice:          item.Price,
			ItemDescription:    item.Description,
			ItemCategoryID:     category.ID,
			ItemRootCategoryID: category.ParentID,
		}
		if err := tx.Create(&evidence).Error; err != nil {
			return err
		}

		// conditional on status so two concurrent buyers cannot both win
		res := tx.Model(&models.Item{}).
			Where("id = ? AND status = ?", item.ID, models.ItemStatusOnSale).
			Updates(map[string]interface{}{
				"buyer_id":   buyerID,
				"status":     models.ItemStatusTrading,
				"updated_at": s.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotForSale
		}

		reservation, err := s.shipment.Create(ctx, shipmentService.CreateRequest{
			ToAddress:   buyer.Address,
			ToName:      buyer.AccountName,
			FromAddress: seller.Address,
			FromName:    seller.AccountName,
		})
		if err != nil {
			return fmt.Errorf("shipment service: %w", err)
		}

		payment, err := s.payment.Token(ctx, cardToken, item.Price)
		if err != nil {
			return fmt.Errorf("payment service: %w", err)
		}
		if payment.Status != paymentService.StatusOK {
			return fmt.Errorf("%w: %s", ErrPaymentRejected, payment.Status)
		}

		return tx.Create(&models.Shipping{
			TransactionEvidenceID: evidence.ID,
			Status:                models.ShippingStatusInitial,
			ItemName:              item.Name,
			ItemID:                item.ID,
			ReserveID:             reservation.ReserveID,
			ReserveTime:           reservation.ReserveTime,
			ToAddress:             buyer.Address,
			ToName:                buyer.AccountName,
			FromAddress:           seller.Address,
			FromName:              seller.AccountName,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"item_id":  itemID,
		"buyer_id": buyerID,
	}).Info("item bought")
	s.notify(itemID, models.ItemStatusTrading)

	return &evidence, nil
}

// Edit changes the price of a listing that is still on sale
func (s *ListingService) Edit(ctx context.Context, sellerID, itemID int64, price int) (*models.Item, error) {
	if price < ItemMinPrice || price > ItemMaxPrice {
		return nil, ErrInvalidPrice
	}

	var item *models.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, err = findItem(tx, itemID)
		if err != nil {
			return err
		}
		if item.SellerID != sellerID {
			return ErrNotSeller
		}
		if item.Status != models.ItemStatusOnSale {
			return ErrNotForSale
		}

		item.Price = price
		item.UpdatedAt = s.now()
		return tx.Model(&models.Item{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
			"price":      item.Price,
			"updated_at": item.UpdatedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.notify(item.ID, item.Status)
	return item, nil
}

// Bump moves a listing back to the top of the new arrivals. A seller may
// bump at most once per bumpCharge across all of their items.
func (s *ListingService) Bump(ctx context.Context, sellerID, itemID int64) (*models.Item, error) {
	var item *models.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, err = findItem(tx, itemID)
		if err != nil {
			return err
		}
		if item.SellerID != sellerID {
			return ErrNotSeller
		}

		seller, err := findUser(tx, sellerID)
		if err != nil {
			return err
		}

		now := s.now()
		if seller.LastBump.Add(s.bumpCharge).After(now) {
			return ErrBumpTooSoon
		}

		item.CreatedAt = now
		item.UpdatedAt = now
		err = tx.Model(&models.Item{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
			"created_at": now,
			"updated_at": now,
		}).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", seller.ID).Update("last_bump", now).Error
	})
	if err != nil {
		return nil, err
	}

	s.notify(item.ID, item.Status)
	return item, nil
}

// Transaction returns the purchase record of an item to its seller or buyer,
// together with the step the viewer can take next.
func (s *ListingService) Transaction(ctx context.Context, viewerID, itemID int64) (*TransactionView, error) {
	db := s.db.WithContext(ctx)

	item, err := findItem(db, itemID)
	if err != nil {
		return nil, err
	}
	if !isParty(item, viewerID) {
		return nil, ErrNotParty
	}

	var view TransactionView
	if err := db.Where("item_id = ?", itemID).First(&view.Evidence).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if err := db.Where("transaction_evidence_id = ?", view.Evidence.ID).First(&view.Shipping).Error; err != nil {
		return nil, fmt.Errorf("shipping of transaction %d: %w", view.Evidence.ID, err)
	}
	view.NextStep = nextStep(viewerID, item, &view.Evidence, &view.Shipping)

	return &view, nil
}

func nextStep(viewerID int64, item *models.Item, evidence *models.TransactionEvidence, shipping *models.Shipping) string {
	if item.Status != models.ItemStatusTrading {
		return ""
	}
	switch {
	case viewerID == evidence.SellerID && evidence.Status == models.TransactionEvidenceStatusWaitShipping:
		if shipping.Status == models.ShippingStatusInitial {
			return StepShip
		}
		return StepShipDone
	case viewerID == evidence.BuyerID && evidence.Status == models.TransactionEvidenceStatusWaitDone:
		return StepComplete
	}
	return ""
}

type trade struct {
	item     *models.Item
	evidence models.TransactionEvidence
	shipping models.Shipping
}

// loadTrade reads the item, its evidence and its shipping inside tx and
// checks that the item is still being traded.
func loadTrade(tx *gorm.DB, itemID int64) (*trade, error) {
	var t trade
	if err := tx.Where("item_id = ?", itemID).First(&t.evidence).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	item, err := findItem(tx, itemID)
	if err != nil {
		return nil, err
	}
	t.item = item

	if err := tx.Where("transaction_evidence_id = ?", t.evidence.ID).First(&t.shipping).Error; err != nil {
		return nil, fmt.Errorf("shipping of transaction %d: %w", t.evidence.ID, err)
	}
	return &t, nil
}

func (t *trade) check(status string) error {
	if t.item.Status != models.ItemStatusTrading {
		return ErrNotTrading
	}
	if t.evidence.Status != status {
		return ErrNotReady
	}
	return nil
}

func (s *ListingService) updateShipping(tx *gorm.DB, evidenceID int64, fields map[string]interface{}) error {
	fields["updated_at"] = s.now()
	return tx.Model(&models.Shipping{}).Where("transaction_evidence_id = ?", evidenceID).Updates(fields).Error
}

func (s *ListingService) updateEvidence(tx *gorm.DB, evidenceID int64, status string) error {
	return tx.Model(&models.TransactionEvidence{}).Where("id = ?", evidenceID).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": s.now(),
	}).Error
}

// Ship books the pickup with the shipment service and keeps the label the
// seller has to attach to the parcel.
func (s *ListingService) Ship(ctx context.Context, sellerID, itemID int64) (*ShipResult, error) {
	var result ShipResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := loadTrade(tx, itemID)
		if err != nil {
			return err
		}
		if t.evidence.SellerID != sellerID {
			return ErrNotSeller
		}
		if err := t.check(models.TransactionEvidenceStatusWaitShipping); err != nil {
			return err
		}

		img, err := s.shipment.Request(ctx, t.shipping.ReserveID)
		if err != nil {
			return fmt.Errorf("shipment service: %w", err)
		}

		result = ShipResult{TransactionEvidenceID: t.evidence.ID, ReserveID: t.shipping.ReserveID}
		return s.updateShipping(tx, t.evidence.ID, map[string]interface{}{
			"status":     models.ShippingStatusWaitPickup,
			"img_binary": img,
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"item_id": itemID, "reserve_id": result.ReserveID}).Info("pickup requested")
	s.notify(itemID, models.ItemStatusTrading)
	return &result, nil
}

// ShipDone records that the carrier has the parcel. The shipment service must
// already report it as shipping or done.
func (s *ListingService) ShipDone(ctx context.Context, sellerID, itemID int64) (*models.TransactionEvidence, error) {
	var evidence models.TransactionEvidence
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := loadTrade(tx, itemID)
		if err != nil {
			return err
		}
		if t.evidence.SellerID != sellerID {
			return ErrNotSeller
		}
		if err := t.check(models.TransactionEvidenceStatusWaitShipping); err != nil {
			return err
		}

		status, err := s.shipment.Status(ctx, t.shipping.ReserveID)
		if err != nil {
			return fmt.Errorf("shipment service: %w", err)
		}
		if status.Status != models.ShippingStatusShipping && status.Status != models.ShippingStatusDone {
			return ErrShipmentPending
		}

		if err := s.updateShipping(tx, t.evidence.ID, map[string]interface{}{"status": status.Status}); err != nil {
			return err
		}
		if err := s.updateEvidence(tx, t.evidence.ID, models.TransactionEvidenceStatusWaitDone); err != nil {
			return err
		}
		evidence = t.evidence
		evidence.Status = models.TransactionEvidenceStatusWaitDone
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(itemID, models.ItemStatusTrading)
	return &evidence, nil
}

// Complete is the buyer confirming delivery. It closes the transaction and
// marks the item sold out.
func (s *ListingService) Complete(ctx context.Context, buyerID, itemID int64) (*models.TransactionEvidence, error) {
	var evidence models.TransactionEvidence
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := loadTrade(tx, itemID)
		if err != nil {
			return err
		}
		if t.evidence.BuyerID != buyerID {
			return ErrNotBuyer
		}
		if err := t.check(models.TransactionEvidenceStatusWaitDone); err != nil {
			return err
		}

		status, err := s.shipment.Status(ctx, t.shipping.ReserveID)
		if err != nil {
			return fmt.Errorf("shipment service: %w", err)
		}
		if status.Status != models.ShippingStatusDone {
			return ErrShipmentNotDone
		}

		if err := s.updateShipping(tx, t.evidence.ID, map[string]interface{}{"status": models.ShippingStatusDone}); err != nil {
			return err
		}
		if err := s.updateEvidence(tx, t.evidence.ID, models.TransactionEvidenceStatusDone); err != nil {
			return err
		}

		res := tx.Model(&models.Item{}).
			Where("id = ? AND status = ?", itemID, models.ItemStatusTrading).
			Updates(map[string]interface{}{
				"status":     models.ItemStatusSoldOut,
				"updated_at": s.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotTrading
		}

		evidence = t.evidence
		evidence.Status = models.TransactionEvidenceStatusDone
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"item_id": itemID, "buyer_id": buyerID}).Info("transaction completed")
	s.notify(itemID, models.ItemStatusSoldOut)
	return &evidence, nil
}

// ShippingLabel returns the pickup label issued by Ship
func (s *ListingService) ShippingLabel(ctx context.Context, sellerID, itemID int64) ([]byte, error) {
	t, err := loadTrade(s.db.WithContext(ctx), itemID)
	if err != nil {
		return nil, err
	}
	if t.evidence.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if len(t.shipping.ImgBinary) == 0 {
		return nil, ErrLabelNotFound
	}
	return t.shipping.ImgBinary, nil
}

// SyncShippingStatuses asks the shipment service about every shipping that is
// not done yet and stores the new status. Once the carrier reports the parcel
// as shipping or done, a transaction still waiting for shipment moves on to
// wait_done. It returns how many shippings changed.
func (s *ListingService) SyncShippingStatuses(ctx context.Context) (int, error) {
	var pending []models.Shipping
	if err := s.db.WithContext(ctx).
		Where("status <> ?", models.ShippingStatusDone).
		Find(&pending).Error; err != nil {
		return 0, err
	}

	updated := 0
	for _, shipping := range pending {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}

		status, err := s.shipment.Status(ctx, shipping.ReserveID)
		if err != nil {
			logrus.WithError(err).WithField("reserve_id", shipping.ReserveID).Warn("failed to fetch shipping status")
			continue
		}
		if status.Status == "" || status.Status == shipping.Status {
			continue
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.updateShipping(tx, shipping.TransactionEvidenceID, map[string]interface{}{"status": status.Status}); err != nil {
				return err
			}
			if status.Status != models.ShippingStatusShipping && status.Status != models.ShippingStatusDone {
				return nil
			}
			return tx.Model(&models.TransactionEvidence{}).
				Where("id = ? AND status = ?", shipping.TransactionEvidenceID, models.TransactionEvidenceStatusWaitShipping).
				Updates(map[string]interface{}{
					"status":     models.TransactionEvidenceStatusWaitDone,
					"updated_at": s.now(),
				}).Error
		})
		if err != nil {
			return updated, err
		}
		updated++
	}

	return updated, nil
}
