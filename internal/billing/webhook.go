// Package billing processes LemonSqueezy webhook events: orders, license keys
// and subscriptions. Every step of an event is attempted independently and
// its failure is reported back in the webhook response.
package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/olly-social/olly/internal/crm"
	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/metrics"
	"github.com/olly-social/olly/internal/models"
)

const (
	EventOrderCreated                 = "order_created"
	EventOrderRefunded                = "order_refunded"
	EventLicenseKeyCreated            = "license_key_created"
	EventLicenseKeyUpdated            = "license_key_updated"
	EventLicenseKeyRevoked            = "license_key_revoked"
	EventSubscriptionCreated          = "subscription_created"
	EventSubscriptionCancelled        = "subscription_cancelled"
	EventSubscriptionPaymentSuccess   = "subscription_payment_success"
	EventSubscriptionPaymentFailed    = "subscription_payment_failed"
	EventSubscriptionPaymentRecovered = "subscription_payment_recovered"
	EventSubscriptionPaused           = "subscription_paused"
	EventSubscriptionResumed          = "subscription_resumed"
)

const (
	errCreditBalance          = "Failed to update credit balance"
	errDiscord                = "Failed to send Discord notification"
	errPlanCredits            = "Failed to add LLM credits"
	errPlanUserNotFound       = "User not found for plan update"
	errPlanUpdate             = "Plan update failed but continuing with other operations"
	errWelcomeEmail           = "Failed to send welcome email"
	errUpdateEmail            = "Failed to send update email"
	errCRM                    = "Failed to update Brevo contact"
	errDatabase               = "Failed to update database"
	errDeactivateUserNotFound = "User not found for subscription deactivation"
	errDeactivate             = "Subscription deactivation failed but continuing with other operations"
	errSubLicenses            = "Failed to update sub-licenses"
	errGoodbyeEmail           = "Failed to send personal goodbye email"
	errSubscriptionEvent      = "Failed to handle subscription event"
)

const (
	crmSource = "LemonSqueezy_LicenseKey"
	crmListID = 12
)

var ErrMalformedPayload = errors.New("webhook payload is not valid JSON")

type transactioner interface {
	BeginTransaction() (*sql.Tx, error)

	RollbackTransaction(transaction *sql.Tx) error

	CommitTransaction(transaction *sql.Tx) error
}

type creditor interface {
	AddCredits(ctx context.Context, userID string, amount int, description string, transaction *sql.Tx) error

	WithdrawCredits(ctx context.Context, userID string, amount int, reason string, transaction *sql.Tx) (int, error)
}

type licenseKeeper interface {
	FindUserByEmail(ctx context.Context, email string, transaction *sql.Tx) (*models.User, error)

	UpsertUser(ctx context.Context, email string, username string, transaction *sql.Tx) (*models.User, error)

	UpsertLicenseKey(ctx context.Context, license *models.LicenseKey, transaction *sql.Tx) (*models.LicenseKey, error)

	FindLicenseKeyForUserProduct(
		ctx context.Context,
		userID string,
		productID int,
		transaction *sql.Tx,
	) (*models.LicenseKey, error)

	LinkUserLicenseKey(ctx context.Context, userID string, licenseKeyID string, transaction *sql.Tx) error

	CreateInstallation(ctx context.Context, licenseKeyID string, status string, transaction *sql.Tx) error

	EnsureLeaderboardEntry(ctx context.Context, userID string, transaction *sql.Tx) error

	CreateSubLicenses(ctx context.Context, subLicenses []models.SubLicense, transaction *sql.Tx) error

	UpdateSubLicensesStatus(
		ctx context.Context,
		mainKey string,
		status models.LicenseStatus,
		transaction *sql.Tx,
	) error
}

type subscriptionKeeper interface {
	UpsertPlan(ctx context.Context, plan *models.Plan, transaction *sql.Tx) (*models.Plan, error)

	CancelActiveSubscriptions(ctx context.Context, userID string, endDate time.Time, transaction *sql.Tx) error

	CreateSubscription(ctx context.Context, subscription *models.Subscription, transaction *sql.Tx) error

	FindSubscriptionByVendorID(
		ctx context.Context,
		vendorSubID string,
		transaction *sql.Tx,
	) (*models.Subscription, error)

	UpdateSubscription(ctx context.Context, subscription *models.Subscription, transaction *sql.Tx) error

	ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error)
}

type storage interface {
	transactioner
	creditor
	licenseKeeper
	subscriptionKeeper
}

type notifier interface {
	Notify(ctx context.Context, message string) error
}

type mailer interface {
	SendWelcome(ctx context.Context, firstName, email, licenseKey string) error

	SendLicenseUpdate(ctx context.Context, firstName, email, licenseKey, status string) error

	SendGoodbye(ctx context.Context, firstName, email string) error
}

type contactUpdater interface {
	UpsertContact(ctx context.Context, contact crm.Contact) error
}

type Processor struct {
	db       storage
	catalog  *Catalog
	sales    notifier
	team     notifier
	mail     mailer
	contacts contactUpdater
	now      func() time.Time
}

type InitOption func(*Processor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) InitOption {
	return func(p *Processor) {
		p.now = now
	}
}

// WithTeamNotifier enables the PII-free purchase announcements.
func WithTeamNotifier(team notifier) InitOption {
	return func(p *Processor) {
		p.team = team
	}
}

func New(
	db storage,
	catalog *Catalog,
	sales notifier,
	mail mailer,
	contacts contactUpdater,
	opts ...InitOption,
) *Processor {
	result := &Processor{
		db:       db,
		catalog:  catalog,
		sales:    sales,
		mail:     mail,
		contacts: contacts,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(result)
	}

	return result
}

// event is a parsed webhook body together with the errors its steps produced.
type event struct {
	name       string
	webhookID  string
	dataID     string
	attributes gjson.Result
	customData gjson.Result
	errors     []string
}

func (e *event) fail(message string, err error) {
	logger.Log.Errorw(message, "event", e.name, "webhook_id", e.webhookID, zap.Error(err))
	e.errors = append(e.errors, message)
}

func (e *event) userName() string {
	return e.attributes.Get("user_name").String()
}

func (e *event) userEmail() string {
	return e.attributes.Get("user_email").String()
}

func (e *event) productID() int {
	if value := e.attributes.Get("product_id"); value.Exists() {
		return int(value.Int())
	}

	return int(e.attributes.Get("first_order_item.product_id").Int())
}

// paidAmount renders the order total, given in cents, as dollars.
func (e *event) paidAmount() string {
	return fmt.Sprintf("%.2f", e.attributes.Get("total").Float()/100)
}

func (e *event) timeAttribute(name string) *time.Time {
	value := e.attributes.Get(name)
	if !value.Exists() || value.Type == gjson.Null || value.String() == "" {
		return nil
	}

	parsed := value.Time()
	if parsed.IsZero() {
		return nil
	}

	return &parsed
}

// Process runs the handler of the event in body. Step failures never fail
// the call; they are collected into the response.
func (p *Processor) Process(ctx context.Context, body []byte) (*models.WebhookResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedPayload
	}

	parsed := gjson.ParseBytes(body)
	ev := &event{
		name:       parsed.Get("meta.event_name").String(),
		webhookID:  parsed.Get("meta.webhook_id").String(),
		dataID:     parsed.Get("data.id").String(),
		attributes: parsed.Get("data.attributes"),
		customData: parsed.Get("meta.custom_data"),
	}

	logger.Log.Infow("processing billing webhook", "event", ev.name, "webhook_id", ev.webhookID, "data_id", ev.dataID)

	switch ev.name {
	case EventOrderCreated:
		p.handleOrderCreated(ctx, ev)
	case EventLicenseKeyCreated, EventLicenseKeyUpdated:
		p.handleLicenseKeyChanged(ctx, ev)
	case EventLicenseKeyRevoked:
		p.handleLicenseKeyRevoked(ctx, ev)
	case EventOrderRefunded:
		p.handleOrderRefunded(ctx, ev)
	default:
		if strings.HasPrefix(ev.name, "subscription_") {
			if err := p.handleSubscriptionEvent(ctx, ev); err != nil {
				ev.fail(errSubscriptionEvent, err)
			}
		} else {
			logger.Log.Infow("ignoring billing webhook event", "event", ev.name)
		}
	}

	metrics.RecordWebhookEvent(ev.name, len(ev.errors) == 0)

	return &models.WebhookResponse{
		Success: true,
		Message: "Webhook processed",
		Errors:  ev.errors,
	}, nil
}

func (p *Processor) handleOrderCreated(ctx context.Context, ev *event) {
	isCreditPurchase := ev.customData.Get("is_credit_purchase").String() == "true"

	creditPurchaseMessage := ""
	if isCreditPurchase {
		credits := int(ev.customData.Get("credits").Int())
		if err := p.addCredits(ctx, ev.userEmail(), credits, fmt.Sprintf("Purchased %d credits", credits)); err != nil {
			ev.fail(errCreditBalance, err)
		} else {
			creditPurchaseMessage = fmt.Sprintf(
				" They purchased %d credits. Along with the data id : %s and webhook id : %s",
				credits,
				ev.dataID,
				ev.webhookID,
			)
			if err := p.sales.Notify(ctx, creditPurchaseMessage); err != nil {
				ev.fail(errCreditBalance, err)
			}
		}
	}

	message := fmt.Sprintf(
		"@everyone We made a Sale 🎉 to %s (%s) for $%s %s at %s.%s",
		ev.userName(),
		ev.userEmail(),
		ev.paidAmount(),
		ev.attributes.Get("currency").String(),
		ev.attributes.Get("created_at").String(),
		creditPurchaseMessage,
	)
	if err := p.sales.Notify(ctx, message); err != nil {
		ev.fail(errDiscord, err)
	}

	p.notifyTeam(
		ctx,
		ev.userName(),
		p.catalog.Label(ev.productID(), isCreditPurchase),
		ev.paidAmount(),
		ev.attributes.Get("currency").String(),
	)
}

func (p *Processor) addCredits(ctx context.Context, email string, amount int, description string) error {
	user, err := p.db.FindUserByEmail(ctx, email, nil)
	if err != nil {
		return fmt.Errorf("user with email %s: %w", email, err)
	}

	tx, err := p.db.BeginTransaction()
	if err != nil {
		return err
	}
	defer func() {
		_ = p.db.RollbackTransaction(tx)
	}()

	if err := p.db.AddCredits(ctx, user.ID, amount, description, tx); err != nil {
		return err
	}

	return p.db.CommitTransaction(tx)
}

// notifyTeam announces a purchase to the team channel. Its failures are
// only logged.
func (p *Processor) notifyTeam(ctx context.Context, userName, planLabel, amount, currency string) {
	if p.team == nil {
		logger.Log.Warnw("team discord webhook is not configured")
		return
	}

	message := fmt.Sprintf("@everyone %s purchased %s", userName, planLabel)
	if amount != "" && currency != "" {
		message += fmt.Sprintf(" for $%s %s", amount, currency)
	}
	if err := p.team.Notify(ctx, message); err != nil {
		logger.Log.Errorw("error sending team discord notification", zap.Error(err))
	}
}

// licenseStatus maps a LemonSqueezy license status to the stored one.
func licenseStatus(lemonStatus string) models.LicenseStatus {
	switch strings.ToLower(lemonStatus) {
	case "active":
		return models.LicenseActive
	case "expired", "disabled", "inactive":
		return models.LicenseInactive
	default:
		logger.Log.Warnw("unknown LemonSqueezy license status, defaulting to INACTIVE", "status", lemonStatus)
		return models.LicenseInactive
	}
}

func firstName(userName string) string {
	fields := strings.Fields(userName)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}

func lastName(userName string) string {
	fields := strings.Fields(userName)
	if len(fields) < 2 {
		return ""
	}

	return strings.Join(fields[1:], " ")
}

func (p *Processor) handleLicenseKeyChanged(ctx context.Context, ev *event) {
	created := ev.name == EventLicenseKeyCreated
	lemonStatus := ev.attributes.Get("status").String()
	licenseKey := ev.attributes.Get("key").String()
	productID := ev.productID()

	status := models.LicenseActive
	if !created {
		status = licenseStatus(lemonStatus)
	}

	if err := p.updateDatabase(ctx, ev.userName(), ev.userEmail(), licenseKey, status, productID); err != nil {
		ev.fail(errDatabase, err)
	} else if !created && status == models.LicenseInactive {
		if err := p.db.UpdateSubLicensesStatus(ctx, licenseKey, models.LicenseInactive, nil); err != nil {
			ev.fail(errDatabase, err)
		}
	}

	if created {
		p.grantPlanCredits(ctx, ev, licenseKey, lemonStatus, status, productID)
	}

	if ev.userEmail() != "" {
		p.switchPlan(ctx, ev, productID)
	}

	if created {
		if err := p.mail.SendWelcome(ctx, firstName(ev.userName()), ev.userEmail(), licenseKey); err != nil {
			ev.fail(errWelcomeEmail, err)
		}
	} else {
		if err := p.mail.SendLicenseUpdate(ctx, firstName(ev.userName()), ev.userEmail(), licenseKey, string(status)); err != nil {
			ev.fail(errUpdateEmail, err)
		}
	}

	err := p.contacts.UpsertContact(ctx, crm.Contact{
		Email: ev.userEmail(),
		Attributes: map[string]interface{}{
			"FIRSTNAME":      firstName(ev.userName()),
			"LASTNAME":       lastName(ev.userName()),
			"SOURCE":         crmSource,
			"LICENSE_STATUS": string(status),
			"PAID":           true,
		},
		ListIDs:       []int{crmListID},
		UpdateEnabled: true,
	})
	if err != nil {
		ev.fail(errCRM, err)
	}
}

// grantPlanCredits adds the credits included in a freshly bought plan and
// announces the license.
func (p *Processor) grantPlanCredits(
	ctx context.Context,
	ev *event,
	licenseKey string,
	lemonStatus string,
	status models.LicenseStatus,
	productID int,
) {
	details, ok := p.catalog.Lookup(productID)
	if !ok || details.Credits <= 0 {
		return
	}

	description := fmt.Sprintf("Plan included credits: %d LLM credits", details.Credits)
	if err := p.addCredits(ctx, ev.userEmail(), details.Credits, description); err != nil {
		ev.fail(errPlanCredits, err)
		return
	}

	instances := "N/A"
	if count := ev.attributes.Get("instances_count").Int(); count > 0 {
		instances = fmt.Sprint(count)
	}
	message := fmt.Sprintf(
		"🔑 License key created for %s (%s), Key: %s, LemonSqueezy Status: %s, DB Status: %s, "+
			"Activation Limit: %s, Instances: %s, Created At: %s, Product ID: %d, Included Credits: %d",
		ev.userName(),
		ev.userEmail(),
		licenseKey,
		lemonStatus,
		status,
		ev.attributes.Get("activation_limit").String(),
		instances,
		ev.attributes.Get("created_at").String(),
		productID,
		details.Credits,
	)
	if err := p.sales.Notify(ctx, message); err != nil {
		ev.fail(errDiscord, err)
	}

	p.notifyTeam(ctx, ev.userName(), details.Label, "", "")
}

// switchPlan replaces the active subscriptions of the buyer with one for the
// plan of productID.
func (p *Processor) switchPlan(ctx context.Context, ev *event, productID int) {
	user, err := p.db.FindUserByEmail(ctx, ev.userEmail(), nil)
	if errors.Is(err, models.ErrNotFound) {
		ev.fail(errPlanUserNotFound, err)
		return
	}
	if err != nil {
		ev.fail(errPlanUpdate, err)
		return
	}

	details, ok := p.catalog.Lookup(productID)
	if !ok {
		return
	}

	if err := p.replaceSubscription(ctx, user.ID, productID, details); err != nil {
		ev.fail(errPlanUpdate, err)
	}
}

func (p *Processor) replaceSubscription(ctx context.Context, userID string, productID int, details PlanDetails) error {
	tx, err := p.db.BeginTransaction()
	if err != nil {
		return err
	}
	defer func() {
		_ = p.db.RollbackTransaction(tx)
	}()

	if err := p.db.CancelActiveSubscriptions(ctx, userID, p.now(), tx); err != nil {
		return err
	}

	plan, err := p.db.UpsertPlan(ctx, planFor(productID, details), tx)
	if err != nil {
		return err
	}

	err = p.db.CreateSubscription(ctx, &models.Subscription{
		UserID: userID,
		PlanID: plan.ID,
		Status: models.SubscriptionActive,
	}, tx)
	if err != nil {
		return err
	}

	return p.db.CommitTransaction(tx)
}

func planFor(productID int, details PlanDetails) *models.Plan {
	return &models.Plan{
		Vendor:    models.PlanVendorLemon,
		ProductID: fmt.Sprint(productID),
		Tier:      details.Tier,
		Duration:  details.Duration,
		Name:      details.Name,
		MaxUsers:  details.MaxUsers,
		IsActive:  true,
	}
}

// updateDatabase stores the license, its owner and the derived rows in one
// transaction.
func (p *Processor) updateDatabase(
	ctx context.Context,
	userName string,
	email string,
	licenseKey string,
	status models.LicenseStatus,
	productID int,
) error {
	tx, err := p.db.BeginTransaction()
	if err != nil {
		return err
	}
	defer func() {
		_ = p.db.RollbackTransaction(tx)
	}()

	isActive := status == models.LicenseActive
	var activatedAt *time.Time
	if isActive {
		now := p.now()
		activatedAt = &now
	}

	license, err := p.db.UpsertLicenseKey(ctx, &models.LicenseKey{
		Key:            licenseKey,
		IsActive:       isActive,
		ActivatedAt:    activatedAt,
		IsMainKey:      true,
		LemonProductID: productID,
	}, tx)
	if err != nil {
		return err
	}

	user, err := p.db.UpsertUser(ctx, email, userName, tx)
	if err != nil {
		return err
	}

	if err := p.db.LinkUserLicenseKey(ctx, user.ID, license.ID, tx); err != nil {
		return err
	}

	installationStatus := models.InstallationUninstalled
	if isActive {
		installationStatus = models.InstallationInstalled
	}
	if err := p.db.CreateInstallation(ctx, license.ID, installationStatus, tx); err != nil {
		return err
	}

	if err := p.db.EnsureLeaderboardEntry(ctx, user.ID, tx); err != nil {
		return err
	}

	if details, ok := p.catalog.Lookup(productID); ok && details.SubLicenses > 0 {
		if isActive {
			err = p.db.CreateSubLicenses(ctx, subLicensesFor(licenseKey, details.SubLicenses, status), tx)
		} else {
			err = p.db.UpdateSubLicensesStatus(ctx, licenseKey, status, tx)
		}
		if err != nil {
			return err
		}
	}

	return p.db.CommitTransaction(tx)
}

func subLicensesFor(mainKey string, count int, status models.LicenseStatus) []models.SubLicense {
	result := make([]models.SubLicense, count)
	for i := range result {
		result[i] = models.SubLicense{
			Key:            fmt.Sprintf("SUB-%d-%s", i+1, mainKey),
			Status:         status,
			MainLicenseKey: mainKey,
		}
	}

	return result
}

func (p *Processor) handleLicenseKeyRevoked(ctx context.Context, ev *event) {
	licenseKey := ev.attributes.Get("key").String()

	if ev.userEmail() != "" {
		user, err := p.db.FindUserByEmail(ctx, ev.userEmail(), nil)
		switch {
		case errors.Is(err, models.ErrNotFound):
			ev.fail(errDeactivateUserNotFound, err)
		case err != nil:
			ev.fail(errDeactivate, err)
		default:
			if err := p.db.CancelActiveSubscriptions(ctx, user.ID, p.now(), nil); err != nil {
				ev.fail(errDeactivate, err)
			}
		}
	}

	message := fmt.Sprintf("🔑 License key revoked for %s (%s), Key: %s", ev.userName(), ev.userEmail(), licenseKey)
	if err := p.sales.Notify(ctx, message); err != nil {
		ev.fail(errDiscord, err)
	}

	if err := p.updateDatabase(ctx, ev.userName(), ev.userEmail(), licenseKey, models.LicenseInactive, ev.productID()); err != nil {
		ev.fail(errDatabase, err)
	}

	if err := p.db.UpdateSubLicensesStatus(ctx, licenseKey, models.LicenseInactive, nil); err != nil {
		ev.fail(errSubLicenses, err)
	}

	if err := p.mail.SendGoodbye(ctx, firstName(ev.userName()), ev.userEmail()); err != nil {
		ev.fail(errGoodbyeEmail, err)
	}
}

func (p *Processor) handleOrderRefunded(ctx context.Context, ev *event) {
	message := fmt.Sprintf(
		"@everyone %s (%s) refunded $%s %s at %s",
		ev.userName(),
		ev.userEmail(),
		ev.paidAmount(),
		ev.attributes.Get("currency").String(),
		ev.attributes.Get("created_at").String(),
	)
	if err := p.sales.Notify(ctx, message); err != nil {
		ev.fail(errDiscord, err)
	}

	if err := p.mail.SendGoodbye(ctx, firstName(ev.userName()), ev.userEmail()); err != nil {
		ev.fail(errGoodbyeEmail, err)
	}
}
