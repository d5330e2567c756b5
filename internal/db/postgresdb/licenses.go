package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olly-social/olly/internal/models"
)

// FindUserByEmail returns models.ErrNotFound when no user has the email.
func (db *PostgresDB) FindUserByEmail(ctx context.Context, email string, transaction *sql.Tx) (*models.User, error) {
	row := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`SELECT id, email, username FROM users WHERE email = $1`,
		email,
	)

	result := &models.User{}
	err := row.Scan(&result.ID, &result.Email, &result.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return result, nil
}

// UpsertUser creates the user on first sight. An existing user keeps its
// username.
func (db *PostgresDB) UpsertUser(
	ctx context.Context,
	email string,
	username string,
	transaction *sql.Tx,
) (*models.User, error) {
	row := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`
			INSERT INTO users (email, username)
				VALUES ($1, $2)
				ON CONFLICT (email) DO UPDATE
				SET email = EXCLUDED.email
				RETURNING id, email, username
		`,
		email,
		username,
	)

	result := &models.User{}
	err := row.Scan(&result.ID, &result.Email, &result.Username)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// UpsertLicenseKey creates or updates the license by key and returns the
// stored row.
func (db *PostgresDB) UpsertLicenseKey(
	ctx context.Context,
	license *models.LicenseKey,
	transaction *sql.Tx,
) (*models.LicenseKey, error) {
	var activatedAt sql.NullTime
	if license.ActivatedAt != nil {
		activatedAt = sql.NullTime{Time: *license.ActivatedAt, Valid: true}
	}

	row := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`
			INSERT INTO license_keys (key, is_active, activated_at, is_main_key, lemon_product_id)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (key) DO UPDATE
				SET
					is_active = EXCLUDED.is_active,
					activated_at = COALESCE(EXCLUDED.activated_at, license_keys.activated_at),
					is_main_key = EXCLUDED.is_main_key,
					lemon_product_id = EXCLUDED.lemon_product_id
				RETURNING id, key, is_active, activated_at, is_main_key, lemon_product_id
		`,
		license.Key,
		license.IsActive,
		activatedAt,
		license.IsMainKey,
		license.LemonProductID,
	)

	return scanLicenseKey(row)
}

// FindLicenseKeyForUserProduct returns the license of userID bought as productID.
func (db *PostgresDB) FindLicenseKeyForUserProduct(
	ctx context.Context,
	userID string,
	productID int,
	transaction *sql.Tx,
) (*models.LicenseKey, error) {
	row := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`
			SELECT license_keys.id, license_keys.key, license_keys.is_active,
				license_keys.activated_at, license_keys.is_main_key, license_keys.lemon_product_id
				FROM license_keys
					JOIN user_license_keys ON user_license_keys.license_key_id = license_keys.id
				WHERE user_license_keys.user_id = $1
					AND license_keys.lemon_product_id = $2
				LIMIT 1
		`,
		userID,
		productID,
	)

	result, err := scanLicenseKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return result, nil
}

func scanLicenseKey(row *sql.Row) (*models.LicenseKey, error) {
	result := &models.LicenseKey{}
	var activatedAt sql.NullTime
	var productID sql.NullInt64
	err := row.Scan(
		&result.ID,
		&result.Key,
		&result.IsActive,
		&activatedAt,
		&result.IsMainKey,
		&productID,
	)
	if err != nil {
		return nil, err
	}

	if activatedAt.Valid {
		result.ActivatedAt = &activatedAt.Time
	}
	result.LemonProductID = int(productID.Int64)

	return result, nil
}

// LinkUserLicenseKey attaches the license to the user once.
func (db *PostgresDB) LinkUserLicenseKey(
	ctx context.Context,
	userID string,
	licenseKeyID string,
	transaction *sql.Tx,
) error {
	_, err := db.executorFor(transaction).ExecContext(
		ctx,
		`
			INSERT INTO user_license_keys (user_id, license_key_id)
				VALUES ($1, $2)
				ON CONFLICT (user_id, license_key_id) DO NOTHING
		`,
		userID,
		licenseKeyID,
	)

	return err
}

// CreateInstallation appends an installation event for the license.
func (db *PostgresDB) CreateInstallation(
	ctx context.Context,
	licenseKeyID string,
	status string,
	transaction *sql.Tx,
) error {
	_, err := db.executorFor(transaction).ExecContext(
		ctx,
		`INSERT INTO installations (license_key_id, status) VALUES ($1, $2)`,
		licenseKeyID,
		status,
	)

	return err
}

// EnsureLeaderboardEntry creates the leaderboard row of the user when missing.
func (db *PostgresDB) EnsureLeaderboardEntry(ctx context.Context, userID string, transaction *sql.Tx) error {
	_, err := db.executorFor(transaction).ExecContext(
		ctx,
		`INSERT INTO leaderboard (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)

	return err
}

// CreateSubLicenses inserts the sub-licenses. Keys that already exist are
// left untouched so that replayed webhooks do not fail.
func (db *PostgresDB) CreateSubLicenses(
	ctx context.Context,
	subLicenses []models.SubLicense,
	transaction *sql.Tx,
) error {
	if len(subLicenses) == 0 {
		return nil
	}

	placeholders := make([]string, len(subLicenses))
	args := make([]interface{}, 0, len(subLicenses)*3)
	for i, subLicense := range subLicenses {
		placeholders[i] = fmt.Sprintf("($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)
		args = append(args, subLicense.Key, string(subLicense.Status), subLicense.MainLicenseKey)
	}

	_, err := db.executorFor(transaction).ExecContext(
		ctx,
		fmt.Sprintf(
			`INSERT INTO sub_licenses (key, status, main_license_key) VALUES %s ON CONFLICT (key) DO UPDATE SET status = EXCLUDED.status`,
			strings.Join(placeholders, ","),
		),
		args...,
	)

	return err
}

// UpdateSubLicensesStatus sets the status of every sub-license of mainKey.
func (db *PostgresDB) UpdateSubLicensesStatus(
	ctx context.Context,
	mainKey string,
	status models.LicenseStatus,
	transaction *sql.Tx,
) error {
	_, err := db.executorFor(transaction).ExecContext(
		ctx,
		`UPDATE sub_licenses SET status = $1 WHERE main_license_key = $2`,
		string(status),
		mainKey,
	)

	return err
}

// UpsertPlan returns the stored plan for (vendor, product id), creating it
// when missing. Existing plans are not modified.
func (db *PostgresDB) UpsertPlan(ctx context.Context, plan *models.Plan, transaction *sql.Tx) (*models.Plan, error) {
	row := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`
			INSERT INTO plans (vendor, product_id, tier, duration, name, max_users, is_active)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (vendor, product_id) DO UPDATE
				SET vendor = EXCLUDED.vendor
				RETURNING id, vendor, product_id, tier, duration, name, max_users, is_active
		`,
		plan.Vendor,
		plan.ProductID,
		plan.Tier,
		plan.Duration,
		plan.Name,
		plan.MaxUsers,
		plan.IsActive,
	)

	result := &models.Plan{}
	err := row.Scan(
		&result.ID,
		&result.Vendor,
		&result.ProductID,
		&result.Tier,
		&result.Duration,
		&result.Name,
		&result.MaxUsers,
		&result.IsActive,
	)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CancelActiveSubscriptions marks every active subscription of userID as
// cancelled, ending at endDate.
func (db *PostgresDB) CancelActiveSubscriptions(
	ctx context.Context,
	userID string,
	endDate time.Time,
	transaction *sql.Tx,
) error {
	_, err := db.executorFor(transaction).ExecContext(
		ctx,
		`UPDATE user_subscriptions SET status = $1, end_date = $2 WHERE user_id = $3 AND status = $4`,
		models.SubscriptionCancelled,
		endDate,
		userID,
		models.SubscriptionActive,
	)

	return err
}

// ExpireSubscriptions cancels active subscriptions whose end date passed.
func (db *PostgresDB) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.database.ExecContext(
		ctx,
		`UPDATE user_subscriptions SET status = $1 WHERE status = $2 AND end_date IS NOT NULL AND end_date < $3`,
		models.SubscriptionCancelled,
		models.SubscriptionActive,
		now,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

const subscriptionColumns = `id, user_id, plan_id, status, vendor_sub_id, order_id, customer_id, license_key_id,
	next_billing_date, last_billing_date, payment_failed_date, cancelled_at, paused_at, resumed_at, end_date`

// CreateSubscription inserts the subscription and sets its ID.
func (db *PostgresDB) CreateSubscription(
	ctx context.Context,
	subscription *models.Subscription,
	transaction *sql.Tx,
) error {
	return db.queryerFor(transaction).QueryRowContext(
		ctx,
		`
			INSERT INTO user_subscriptions (
				user_id, plan_id, status, vendor_sub_id, order_id, customer_id, license_key_id,
				next_billing_date, last_billing_date, payment_failed_date, cancelled_at, paused_at, resumed_at, end_date
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id
		`,
		subscriptionArgs(subscription)...,
	).Scan(&subscription.ID)
}

// FindSubscriptionByVendorID returns the subscription created for the
// billing provider's subscription id.
func (db *PostgresDB) FindSubscriptionByVendorID(
	ctx context.Context,
	vendorSubID string,
	transaction *sql.Tx,
) (*models.Subscription, error) {
	row := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE vendor_sub_id = $1`,
		vendorSubID,
	)

	result := &models.Subscription{}
	var vendorID, orderID, customerID, licenseKeyID sql.NullString
	err := row.Scan(
		&result.ID,
		&result.UserID,
		&result.PlanID,
		&result.Status,
		&vendorID,
		&orderID,
		&customerID,
		&licenseKeyID,
		&result.NextBillingDate,
		&result.LastBillingDate,
		&result.PaymentFailedDate,
		&result.CancelledAt,
		&result.PausedAt,
		&result.ResumedAt,
		&result.EndDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	result.VendorSubID = vendorID.String
	result.OrderID = orderID.String
	result.CustomerID = customerID.String
	result.LicenseKeyID = licenseKeyID.String

	return result, nil
}

// UpdateSubscription rewrites the mutable columns of the subscription.
func (db *PostgresDB) UpdateSubscription(
	ctx context.Context,
	subscription *models.Subscription,
	transaction *sql.Tx,
) error {
	args := append(subscriptionArgs(subscription), subscription.ID)
	_, err := db.executorFor(transaction).ExecContext(
		ctx,
		`
			UPDATE user_subscriptions SET
				user_id = $1,
				plan_id = $2,
				status = $3,
				vendor_sub_id = $4,
				order_id = $5,
				customer_id = $6,
				license_key_id = $7,
				next_billing_date = $8,
				last_billing_date = $9,
				payment_failed_date = $10,
				cancelled_at = $11,
				paused_at = $12,
				resumed_at = $13,
				end_date = $14
			WHERE id = $15
		`,
		args...,
	)

	return err
}

func subscriptionArgs(subscription *models.Subscription) []interface{} {
	return []interface{}{
		subscription.UserID,
		subscription.PlanID,
		subscription.Status,
		nullableString(subscription.VendorSubID),
		nullableString(subscription.OrderID),
		nullableString(subscription.CustomerID),
		nullableString(subscription.LicenseKeyID),
		subscription.NextBillingDate,
		subscription.LastBillingDate,
		subscription.PaymentFailedDate,
		subscription.CancelledAt,
		subscription.PausedAt,
		subscription.ResumedAt,
		subscription.EndDate,
	}
}

// GetInternalStats aggregates the operator counters.
func (db *PostgresDB) GetInternalStats(ctx context.Context) (*models.InternalStats, error) {
	row := db.database.QueryRowContext(
		ctx,
		`
			SELECT
				(SELECT COUNT(*) FROM users),
				(SELECT COUNT(*) FROM license_keys WHERE is_active = true),
				(SELECT COUNT(*) FROM api_usage),
				(SELECT COUNT(*) FROM instagram_comment_history WHERE response_status = $1)
		`,
		models.ResponseStatusSent,
	)

	result := &models.InternalStats{}
	err := row.Scan(&result.Users, &result.ActiveLicenses, &result.APICalls, &result.RepliesSent)
	if err != nil {
		return nil, err
	}

	return result, nil
}
