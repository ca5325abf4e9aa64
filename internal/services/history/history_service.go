package history

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kinguin-bot/internal/models"
	"kinguin-bot/internal/services/kinguin"
)

var (
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrLinkNotFound     = errors.New("funpay link not found")
)

var terminalStatuses = []string{
	string(kinguin.StatusCompleted),
	string(kinguin.StatusCancelled),
	string(kinguin.StatusRefunded),
}

type HistoryService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{
		db:  db,
		now: time.Now,
	}
}

func (h *HistoryService) AddPurchase(purchase *models.Purchase) error {
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = h.now()
	}
	if err := h.db.Create(purchase).Error; err != nil {
		return errors.Wrapf(err, "save purchase %s", purchase.OrderID)
	}
	return nil
}

// UpdateStatus stores a new status. keys replaces the stored keys only when
// non-empty, and completed_at is set when the status becomes completed.
func (h *HistoryService) UpdateStatus(orderID, status, keys string) error {
	result := h.db.Model(&models.Purchase{}).
		Where("order_id = ?", orderID).
		Updates(h.statusUpdates(status, keys))
	if result.Error != nil {
		return errors.Wrapf(result.Error, "update purchase %s", orderID)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrPurchaseNotFound, "order %s", orderID)
	}
	return nil
}

// TransitionStatus is UpdateStatus guarded by the current status. It reports
// false when the row is no longer in status from, or does not exist.
func (h *HistoryService) TransitionStatus(orderID, from, to, keys string) (bool, error) {
	result := h.db.Model(&models.Purchase{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(h.statusUpdates(to, keys))
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "update purchase %s", orderID)
	}
	return result.RowsAffected > 0, nil
}

func (h *HistoryService) statusUpdates(status, keys string) map[string]interface{} {
	updates := map[string]interface{}{
		"status": status,
	}
	if status == string(kinguin.StatusCompleted) {
		updates["completed_at"] = h.now()
	}
	if keys != "" {
		updates["keys"] = keys
	}
	return updates
}

func (h *HistoryService) GetByOrderID(orderID string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := h.db.Where("order_id = ?", orderID).First(&purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrPurchaseNotFound, "order %s", orderID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load purchase %s", orderID)
	}
	return &purchase, nil
}

func (h *HistoryService) GetUserPurchases(userID int64, limit int) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := h.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&purchases).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list purchases of user %d", userID)
	}
	return purchases, nil
}

// GetPendingPurchases returns purchases whose order has not reached a
// terminal status, newest first.
func (h *HistoryService) GetPendingPurchases() ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := h.db.Where("status NOT IN ?", terminalStatuses).
		Order("created_at DESC").
		Order("id DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, errors.Wrap(err, "list pending purchases")
	}
	return purchases, nil
}

// AddFunPayLink creates or replaces the link for funpayID.
func (h *HistoryService) AddFunPayLink(funpayID string, kinguinID int, userID int64) error {
	link := models.FunPayLink{
		FunPayID:  funpayID,
		KinguinID: kinguinID,
		UserID:    userID,
		CreatedAt: h.now(),
	}
	err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fun_pay_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kinguin_id", "user_id", "created_at"}),
	}).Create(&link).Error
	if err != nil {
		return errors.Wrapf(err, "save funpay link %s", funpayID)
	}
	return nil
}

func (h *HistoryService) RemoveFunPayLink(funpayID string, userID int64) (bool, error) {
	result := h.db.Where("fun_pay_id = ? AND user_id = ?", funpayID, userID).Delete(&models.FunPayLink{})
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "delete funpay link %s", funpayID)
	}
	return result.RowsAffected > 0, nil
}

func (h *HistoryService) GetFunPayLink(funpayID string, userID int64) (*models.FunPayLink, error) {
	var link models.FunPayLink
	err := h.db.Where("fun_pay_id = ? AND user_id = ?", funpayID, userID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrLinkNotFound, "funpay id %s", funpayID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load funpay link %s", funpayID)
	}
	return &link, nil
}

func (h *HistoryService) GetFunPayLinks(userID int64) ([]models.FunPayLink, error) {
	var links []models.FunPayLink
	err := h.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&links).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list funpay links of user %d", userID)
	}
	return links, nil
}

type storedKey struct {
	Serial    string `json:"serial"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	KinguinID int    `json:"kinguinId,omitempty"`
}

// EncodeKeys renders keys for the purchases.keys column.
func EncodeKeys(keys []kinguin.OrderKey) (string, error) {
	if len(keys) == 0 {
		return "", nil
	}
	stored := make([]storedKey, 0, len(keys))
	for _, k := range keys {
		stored = append(stored, storedKey{Serial: k.Serial, Name: k.Name, Type: k.Type, KinguinID: k.KinguinID})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return "", errors.Wrap(err, "encode keys")
	}
	return string(data), nil
}

func DecodeKeys(raw string) ([]kinguin.OrderKey, error) {
	if raw == "" {
		return nil, nil
	}
	var stored []storedKey
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, errors.Wrap(err, "decode keys")
	}
	keys := make([]kinguin.OrderKey, 0, len(stored))
	for _, k := range stored {
		keys = append(keys, kinguin.OrderKey{Serial: k.Serial, Name: k.Name, Type: k.Type, KinguinID: k.KinguinID})
	}
	return keys, nil
}
