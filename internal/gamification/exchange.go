package gamification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/models"
)

// MaxExchangeQuantity bounds a single exchange request.
const MaxExchangeQuantity = 10

// ExchangeService turns points into catalog products and runs the admin
// approval step for products that need it.
type ExchangeService struct {
	repo           Repository
	ledger         *Ledger
	notifier       Notifier
	now            func() time.Time
	refundOnReject bool
	newOrderNo     func() string
}

func NewExchangeService(repo Repository, ledger *Ledger, notifier Notifier, refundOnReject bool, now func() time.Time) *ExchangeService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if now == nil {
		now = time.Now
	}
	return &ExchangeService{
		repo:           repo,
		ledger:         ledger,
		notifier:       notifier,
		now:            now,
		refundOnReject: refundOnReject,
		newOrderNo:     func() string { return uuid.NewString() },
	}
}

// Exchange spends points on quantity units of a product. All checks that
// depend on contended rows run inside the transaction with the balance
// and product rows locked, so concurrent requests cannot overspend.
func (s *ExchangeService) Exchange(ctx context.Context, userID, productID int64, quantity int) (*models.ExchangeResponse, error) {
	if quantity < 1 || quantity > MaxExchangeQuantity {
		return nil, ErrInvalidQuantity
	}

	product, err := s.repo.Product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, ErrProductNotFound
	}

	var resp models.ExchangeResponse
	err = s.repo.InTx(ctx, func(tx Tx) error {
		bal, err := tx.LockUserPoints(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return ErrProductNotFound
		}

		total := p.PointsRequired * int64(quantity)
		key := models.ExchangeStatsKey{UserID: userID, ProductID: productID}

		if p.ExchangeLimitPerUser > 0 {
			stats, err := tx.ExchangeStats(ctx, key)
			if err != nil {
				return fmt.Errorf("exchange stats: %w", err)
			}
			prior := 0
			if stats != nil {
				prior = stats.ExchangeCount
			}
			// The limit caps units, so a single request cannot overshoot it.
			if prior+quantity > p.ExchangeLimitPerUser {
				return ErrExchangeLimitReached
			}
		}
		if !p.Unlimited() && p.StockQuantity < quantity {
			return ErrOutOfStock
		}
		if bal.AvailablePoints < total {
			return ErrInsufficientPoints
		}

		now := s.now()
		orderNo := s.newOrderNo()
		res, err := s.ledger.debit(ctx, tx, userID, total, fmt.Sprintf("Exchange: %s x%d", p.Name, quantity), map[string]interface{}{
			"order_no":   orderNo,
			"product_id": p.ID,
			"quantity":   quantity,
		})
		if err != nil {
			return err
		}
		if !res.OK() {
			return ErrInsufficientPoints
		}

		rec := &models.ExchangeRecord{
			OrderNo:     orderNo,
			UserID:      userID,
			ProductID:   p.ID,
			ProductName: p.Name,
			PointsSpent: total,
			Quantity:    quantity,
			Status:      models.ExchangeCompleted,
		}
		if p.RequiresApproval {
			rec.Status = models.ExchangePending
		} else {
			rec.CompletedAt = &now
		}
		if err := tx.InsertExchangeRecord(ctx, rec); err != nil {
			return fmt.Errorf("insert exchange record: %w", err)
		}

		if !p.Unlimited() {
			if err := tx.UpdateProductStock(ctx, p.ID, p.StockQuantity-quantity); err != nil {
				return fmt.Errorf("update stock: %w", err)
			}
		}
		if err := tx.AddExchangeStats(ctx, key, quantity, total, &now); err != nil {
			return fmt.Errorf("update exchange stats: %w", err)
		}

		resp = models.ExchangeResponse{
			Record:           *rec,
			RequiresApproval: p.RequiresApproval,
			Balance:          res.Balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"component":  "exchange",
		"user_id":    userID,
		"product_id": productID,
		"order_no":   resp.Record.OrderNo,
		"status":     resp.Record.Status,
	}).Info("exchange created")

	var box outbox
	data := map[string]interface{}{
		"exchange_id": resp.Record.ID,
		"order_no":    resp.Record.OrderNo,
		"points":      resp.Record.PointsSpent,
	}
	if resp.RequiresApproval {
		box.add(userID, models.NotifyExchange, "Exchange submitted for approval",
			fmt.Sprintf("Your request for %s x%d is waiting for review", product.Name, quantity), data)
	} else {
		box.add(userID, models.NotifyExchange, "Exchange successful",
			fmt.Sprintf("You exchanged %d points for %s x%d", resp.Record.PointsSpent, product.Name, quantity), data)
	}
	box.flush(ctx, s.notifier)

	return &resp, nil
}

// Approve moves a pending exchange to approved or rejected. The move is
// one way; a record that is not pending yields ErrExchangeNotPending.
// A rejection returns the points, the stock and the per-user count when
// refunds are enabled.
func (s *ExchangeService) Approve(ctx context.Context, exchangeID, adminID int64, approved bool, notes string) (*models.ExchangeRecord, error) {
	var out models.ExchangeRecord
	refunded := false

	err := s.repo.InTx(ctx, func(tx Tx) error {
		rec, err := tx.LockExchangeRecord(ctx, exchangeID)
		if err != nil {
			return err
		}
		if rec.Status != models.ExchangePending {
			return ErrExchangeNotPending
		}

		now := s.now()
		approver := adminID
		rec.ApprovedBy = &approver
		rec.ApprovedAt = &now
		rec.ApprovalNotes = notes

		if approved {
			rec.Status = models.ExchangeApproved
			rec.CompletedAt = &now
		} else {
			rec.Status = models.ExchangeRejected
			if s.refundOnReject {
				if err := s.compensate(ctx, tx, rec); err != nil {
					return err
				}
				refunded = true
			}
		}

		if err := tx.UpdateExchangeRecord(ctx, rec); err != nil {
			return fmt.Errorf("update exchange record: %w", err)
		}
		out = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"component":   "exchange",
		"exchange_id": exchangeID,
		"admin_id":    adminID,
		"status":      out.Status,
		"refunded":    refunded,
	}).Info("exchange reviewed")

	var box outbox
	data := map[string]interface{}{
		"exchange_id": out.ID,
		"order_no":    out.OrderNo,
		"status":      out.Status,
		"notes":       notes,
	}
	switch {
	case approved:
		box.add(out.UserID, models.NotifyApproval, "Exchange approved",
			fmt.Sprintf("Your exchange %s has been approved", out.OrderNo), data)
	case refunded:
		box.add(out.UserID, models.NotifyApproval, "Exchange rejected",
			fmt.Sprintf("Your exchange %s was rejected and %d points were returned", out.OrderNo, out.PointsSpent), data)
	default:
		box.add(out.UserID, models.NotifyApproval, "Exchange rejected",
			fmt.Sprintf("Your exchange %s was rejected", out.OrderNo), data)
	}
	box.flush(ctx, s.notifier)

	return &out, nil
}

// compensate reverses the writes of Exchange for a rejected record.
// Lock order is exchange record, balance, product, the same prefix order
// Exchange uses after its own balance lock.
func (s *ExchangeService) compensate(ctx context.Context, tx Tx, rec *models.ExchangeRecord) error {
	if _, err := s.ledger.refund(ctx, tx, rec.UserID, rec.PointsSpent, "Refund: exchange "+rec.OrderNo+" rejected", map[string]interface{}{
		"exchange_id": rec.ID,
		"order_no":    rec.OrderNo,
	}); err != nil {
		return fmt.Errorf("refund points: %w", err)
	}

	p, err := tx.LockProduct(ctx, rec.ProductID)
	if err != nil {
		return fmt.Errorf("lock product: %w", err)
	}
	if !p.Unlimited() {
		if err := tx.UpdateProductStock(ctx, p.ID, p.StockQuantity+rec.Quantity); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}

	key := models.ExchangeStatsKey{UserID: rec.UserID, ProductID: rec.ProductID}
	if err := tx.AddExchangeStats(ctx, key, -rec.Quantity, -rec.PointsSpent, nil); err != nil {
		return fmt.Errorf("roll back exchange stats: %w", err)
	}
	return nil
}

func (s *ExchangeService) Products(ctx context.Context, categoryID *int64) ([]models.VirtualProduct, error) {
	return s.repo.ActiveProducts(ctx, categoryID)
}

// Product returns an active product; inactive ones look missing to users.
func (s *ExchangeService) Product(ctx context.Context, productID int64) (*models.VirtualProduct, error) {
	p, err := s.repo.Product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrProductNotFound
	}
	return p, nil
}

func (s *ExchangeService) Categories(ctx context.Context) ([]models.ProductCategory, error) {
	return s.repo.ProductCategories(ctx)
}

func (s *ExchangeService) UserRecords(ctx context.Context, userID int64, status models.ExchangeStatus, page models.Page) ([]models.ExchangeRecord, error) {
	return s.repo.ExchangeRecords(ctx, userID, status, page)
}

// Records lists exchanges across all users for the review queue.
func (s *ExchangeService) Records(ctx context.Context, status models.ExchangeStatus, page models.Page) ([]models.ExchangeRecord, error) {
	return s.repo.ExchangeRecords(ctx, 0, status, page)
}
