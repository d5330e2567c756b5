package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olly-social/olly/internal/models"
)

func subscriptionEvent(name string, attributes string) []byte {
	return []byte(fmt.Sprintf(`{
		"meta": {"event_name": %q, "webhook_id": "wh-3"},
		"data": {"id": "sub-1", "attributes": %s}
	}`, name, attributes))
}

func TestSubscriptionCreated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.storage.AddUser("ann@example.com", "Ann Lee")
	_, err := f.storage.UpsertLicenseKey(ctx, &models.LicenseKey{Key: "MAIN-KEY", IsActive: true, LemonProductID: 363063}, nil)
	require.NoError(t, err)
	f.storage.AddLicenseKey(user.ID, "MAIN-KEY")

	response, err := f.processor.Process(ctx, subscriptionEvent(EventSubscriptionCreated, `{
		"user_email": "ann@example.com", "order_id": 1001, "customer_id": 2002,
		"renews_at": "2025-04-01T12:00:00.000000Z", "product_id": 363063, "status": "active"
	}`))

	require.NoError(t, err)
	assert.Empty(t, response.Errors)
	subscriptions := f.storage.Subscriptions(user.ID)
	require.Len(t, subscriptions, 1)
	subscription := subscriptions[0]
	assert.Equal(t, "sub-1", subscription.VendorSubID)
	assert.Equal(t, "1001", subscription.OrderID)
	assert.Equal(t, "2002", subscription.CustomerID)
	assert.Equal(t, models.SubscriptionActive, subscription.Status)
	require.NotNil(t, subscription.NextBillingDate)
	assert.True(t, subscription.NextBillingDate.Equal(time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)))
}

func TestSubscriptionCreatedWithoutLicense(t *testing.T) {
	f := newFixture(t)
	f.storage.AddUser("ann@example.com", "Ann Lee")

	response, err := f.processor.Process(context.Background(), subscriptionEvent(EventSubscriptionCreated, `{
		"user_email": "ann@example.com", "product_id": 363063
	}`))

	require.NoError(t, err)
	assert.Equal(t, []string{errSubscriptionEvent}, response.Errors)
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.storage.AddUser("ann@example.com", "Ann Lee")
	f.storage.SeedSubscription(models.Subscription{
		UserID:      user.ID,
		PlanID:      "plan-1",
		Status:      models.SubscriptionActive,
		VendorSubID: "sub-1",
	})

	process := func(name, attributes string) {
		t.Helper()
		response, err := f.processor.Process(ctx, subscriptionEvent(name, attributes))
		require.NoError(t, err)
		require.Empty(t, response.Errors)
	}
	current := func() models.Subscription {
		t.Helper()
		subscriptions := f.storage.Subscriptions(user.ID)
		require.Len(t, subscriptions, 1)
		return subscriptions[0]
	}

	process(EventSubscriptionPaymentFailed, `{}`)
	assert.Equal(t, models.SubscriptionPaymentFailed, current().Status)
	assert.NotNil(t, current().PaymentFailedDate)

	process(EventSubscriptionPaymentRecovered, `{}`)
	assert.Equal(t, models.SubscriptionActive, current().Status)
	assert.Nil(t, current().PaymentFailedDate)
	assert.NotNil(t, current().LastBillingDate)

	process(EventSubscriptionPaused, `{}`)
	assert.Equal(t, models.SubscriptionPaused, current().Status)
	assert.NotNil(t, current().PausedAt)

	process(EventSubscriptionResumed, `{}`)
	assert.Equal(t, models.SubscriptionActive, current().Status)
	assert.Nil(t, current().PausedAt)
	assert.NotNil(t, current().ResumedAt)

	process(EventSubscriptionPaymentSuccess, `{"renews_at": "2025-05-01T00:00:00Z"}`)
	require.NotNil(t, current().NextBillingDate)
	assert.Equal(t, 5, int(current().NextBillingDate.Month()))

	process(EventSubscriptionCancelled, `{"ends_at": "2025-06-01T00:00:00Z"}`)
	assert.Equal(t, models.SubscriptionCancelled, current().Status)
	require.NotNil(t, current().EndDate)
	assert.Equal(t, 6, int(current().EndDate.Month()))
	assert.NotNil(t, current().CancelledAt)
	assert.Empty(t, f.sales.messages)
}

func TestSubscriptionCancelledDuringTrial(t *testing.T) {
	f := newFixture(t)
	user := f.storage.AddUser("ann@example.com", "Ann Lee")
	f.storage.SetCredits(user.ID, 60)
	f.storage.SeedSubscription(models.Subscription{UserID: user.ID, Status: models.SubscriptionActive, VendorSubID: "sub-1"})

	response, err := f.processor.Process(context.Background(), subscriptionEvent(EventSubscriptionCancelled, `{
		"user_name": "Ann Lee", "user_email": "ann@example.com",
		"product_id": 328561, "trial_ends_at": "2025-03-08T12:00:00Z"
	}`))

	require.NoError(t, err)
	assert.Empty(t, response.Errors)
	balance, _ := f.storage.Balance(user.ID)
	assert.Equal(t, 0, balance)
	assert.Equal(t,
		[]string{"🚨 Trial Cancellation: Deducted 60 credits from Ann Lee (ann@example.com) for cancelling during trial period."},
		f.sales.messages,
	)
	transactions := f.storage.Transactions()
	require.Len(t, transactions, 1)
	assert.Equal(t, "60 LLM credits deducted due to trial plan cancellation", transactions[0].Description)
}

func TestSubscriptionEventForUnknownSubscription(t *testing.T) {
	f := newFixture(t)

	response, err := f.processor.Process(context.Background(), subscriptionEvent(EventSubscriptionPaused, `{}`))

	require.NoError(t, err)
	assert.Equal(t, []string{errSubscriptionEvent}, response.Errors)
}

func TestExpireSubscriptions(t *testing.T) {
	f := newFixture(t)
	ended := f.now.Add(-time.Minute)
	later := f.now.Add(time.Hour)
	f.storage.SeedSubscription(models.Subscription{UserID: "u1", Status: models.SubscriptionActive, EndDate: &ended})
	f.storage.SeedSubscription(models.Subscription{UserID: "u2", Status: models.SubscriptionActive, EndDate: &later})

	require.NoError(t, f.processor.ExpireSubscriptions(context.Background()))

	assert.Equal(t, models.SubscriptionCancelled, f.storage.Subscriptions("u1")[0].Status)
	assert.Equal(t, models.SubscriptionActive, f.storage.Subscriptions("u2")[0].Status)
}
