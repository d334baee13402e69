package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// TokenLedger remembers which token this deployment last issued per table, so
// staff screens can tell a superseded QR print-out from the current one.
type TokenLedger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTokenLedger(db *gorm.DB) *TokenLedger {
	return &TokenLedger{db: db, now: time.Now}
}

// Record stores token as the active one for its table and supersedes any
// previous active row.
func (l *TokenLedger) Record(ctx context.Context, token models.QRToken) error {
	now := l.now()
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.TableToken{}).
			Where("restaurant_id = ? AND table_number = ? AND status = ? AND token <> ?",
				token.RestaurantID, token.TableNumber, models.LedgerStatusActive, token.Token).
			Updates(map[string]interface{}{
				"status":        models.LedgerStatusSuperseded,
				"superseded_at": now,
			}).Error; err != nil {
			return err
		}

		row := models.TableToken{
			RestaurantID: token.RestaurantID,
			TableNumber:  token.TableNumber,
			Token:        token.Token,
			Status:       models.LedgerStatusActive,
			ExpiresAt:    token.ExpiresAt,
		}
		return tx.Where(models.TableToken{Token: token.Token}).
			Assign(models.TableToken{Status: models.LedgerStatusActive, ExpiresAt: token.ExpiresAt}).
			FirstOrCreate(&row).Error
	})
}

// MarkStatus updates the ledger row for token. Unknown tokens are ignored;
// they were issued by another deployment.
func (l *TokenLedger) MarkStatus(ctx context.Context, token, status string) error {
	return l.db.WithContext(ctx).Model(&models.TableToken{}).
		Where("token = ?", token).
		Update("status", status).Error
}

func (l *TokenLedger) UpdateExpiry(ctx context.Context, token string, expiresAt *time.Time) error {
	return l.db.WithContext(ctx).Model(&models.TableToken{}).
		Where("token = ?", token).
		Update("expires_at", expiresAt).Error
}

// Current returns the active row for a table.
func (l *TokenLedger) Current(ctx context.Context, restaurantID string, tableNumber int) (*models.TableToken, error) {
	var row models.TableToken
	err := l.db.WithContext(ctx).
		Where("restaurant_id = ? AND table_number = ? AND status = ?", restaurantID, tableNumber, models.LedgerStatusActive).
		Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("ledger.current", "no active token for table")
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// History lists every row for a table, newest first.
func (l *TokenLedger) History(ctx context.Context, restaurantID string, tableNumber int) ([]models.TableToken, error) {
	var rows []models.TableToken
	err := l.db.WithContext(ctx).
		Where("restaurant_id = ? AND table_number = ?", restaurantID, tableNumber).
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}
