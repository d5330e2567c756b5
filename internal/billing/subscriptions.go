package billing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/models"
)

const trialCancellationReason = "trial plan cancellation"

func (p *Processor) handleSubscriptionEvent(ctx context.Context, ev *event) error {
	if ev.name == EventSubscriptionCreated {
		return p.createSubscription(ctx, ev)
	}

	var apply func(subscription *models.Subscription)
	switch ev.name {
	case EventSubscriptionCancelled:
		apply = func(subscription *models.Subscription) {
			p.withdrawTrialCredits(ctx, ev, subscription.UserID)
			now := p.now()
			subscription.Status = models.SubscriptionCancelled
			subscription.CancelledAt = &now
			if endsAt := ev.timeAttribute("ends_at"); endsAt != nil {
				subscription.EndDate = endsAt
			}
		}
	case EventSubscriptionPaymentSuccess:
		apply = func(subscription *models.Subscription) {
			now := p.now()
			subscription.Status = models.SubscriptionActive
			subscription.LastBillingDate = &now
			subscription.NextBillingDate = ev.timeAttribute("renews_at")
			subscription.PaymentFailedDate = nil
		}
	case EventSubscriptionPaymentFailed:
		apply = func(subscription *models.Subscription) {
			now := p.now()
			subscription.Status = models.SubscriptionPaymentFailed
			subscription.PaymentFailedDate = &now
		}
	case EventSubscriptionPaymentRecovered:
		apply = func(subscription *models.Subscription) {
			now := p.now()
			subscription.Status = models.SubscriptionActive
			subscription.LastBillingDate = &now
			subscription.PaymentFailedDate = nil
		}
	case EventSubscriptionPaused:
		apply = func(subscription *models.Subscription) {
			now := p.now()
			subscription.Status = models.SubscriptionPaused
			subscription.PausedAt = &now
		}
	case EventSubscriptionResumed:
		apply = func(subscription *models.Subscription) {
			now := p.now()
			subscription.Status = models.SubscriptionActive
			subscription.ResumedAt = &now
			subscription.PausedAt = nil
		}
	default:
		logger.Log.Infow("ignoring subscription event", "event", ev.name)
		return nil
	}

	subscription, err := p.db.FindSubscriptionByVendorID(ctx, ev.dataID, nil)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", ev.dataID, err)
	}
	apply(subscription)

	return p.db.UpdateSubscription(ctx, subscription, nil)
}

func (p *Processor) createSubscription(ctx context.Context, ev *event) error {
	productID := ev.productID()

	user, err := p.db.FindUserByEmail(ctx, ev.userEmail(), nil)
	if err != nil {
		return fmt.Errorf("user for email %s: %w", ev.userEmail(), err)
	}

	license, err := p.db.FindLicenseKeyForUserProduct(ctx, user.ID, productID, nil)
	if err != nil {
		return fmt.Errorf("license key for product %d: %w", productID, err)
	}

	details, ok := p.catalog.Lookup(productID)
	if !ok {
		return fmt.Errorf("invalid product id %d", productID)
	}

	tx, err := p.db.BeginTransaction()
	if err != nil {
		return err
	}
	defer func() {
		_ = p.db.RollbackTransaction(tx)
	}()

	plan, err := p.db.UpsertPlan(ctx, planFor(productID, details), tx)
	if err != nil {
		return err
	}

	err = p.db.CreateSubscription(ctx, &models.Subscription{
		UserID:          user.ID,
		PlanID:          plan.ID,
		Status:          models.SubscriptionActive,
		VendorSubID:     ev.dataID,
		OrderID:         ev.attributes.Get("order_id").String(),
		CustomerID:      ev.attributes.Get("customer_id").String(),
		LicenseKeyID:    license.ID,
		NextBillingDate: ev.timeAttribute("renews_at"),
	}, tx)
	if err != nil {
		return err
	}

	return p.db.CommitTransaction(tx)
}

// withdrawTrialCredits takes back the plan credits of a subscription
// cancelled before its trial ended. Failures are logged only.
func (p *Processor) withdrawTrialCredits(ctx context.Context, ev *event, userID string) {
	trialEndsAt := ev.timeAttribute("trial_ends_at")
	if trialEndsAt == nil || !trialEndsAt.After(p.now()) {
		return
	}

	details, ok := p.catalog.Lookup(ev.productID())
	if !ok || details.Credits <= 0 {
		return
	}

	withdrawn, err := p.db.WithdrawCredits(ctx, userID, details.Credits, trialCancellationReason, nil)
	if err != nil {
		logger.Log.Errorw("error deducting trial cancellation credits", "user_id", userID, zap.Error(err))
		return
	}
	if withdrawn == 0 {
		return
	}

	message := fmt.Sprintf(
		"🚨 Trial Cancellation: Deducted %d credits from %s (%s) for cancelling during trial period.",
		withdrawn,
		ev.userName(),
		ev.userEmail(),
	)
	if err := p.sales.Notify(ctx, message); err != nil {
		logger.Log.Errorw("error sending trial cancellation notification", zap.Error(err))
	}
}

// ExpireSubscriptions cancels the active subscriptions whose end date has passed.
func (p *Processor) ExpireSubscriptions(ctx context.Context) error {
	expired, err := p.db.ExpireSubscriptions(ctx, p.now())
	if err != nil {
		return fmt.Errorf("in internal/billing/subscriptions.go/ExpireSubscriptions(): error while `p.db.ExpireSubscriptions()` calling: %w", err)
	}

	if expired > 0 {
		logger.Log.Infow("expired subscriptions", "count", expired)
	}

	return nil
}
