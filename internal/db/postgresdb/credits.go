package postgresdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/thoas/go-funk"

	"github.com/olly-social/olly/internal/models"
)

// GetAPIKey looks up an API key by its literal value.
func (db *PostgresDB) GetAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, key, vendor, is_active FROM api_keys WHERE key = $1`,
		key,
	)

	result := &models.APIKey{}
	err := row.Scan(&result.ID, &result.Key, &result.Vendor, &result.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return result, nil
}

// DeductCredits takes amount credits from the first user linked to apiKey and
// records a SPENT transaction. The balance row is locked for the duration of
// the check and the update.
func (db *PostgresDB) DeductCredits(ctx context.Context, apiKey string, amount int, description string) error {
	transaction, err := db.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	err = deductCredits(ctx, transaction, apiKey, amount, description)
	if err != nil {
		err2 := transaction.Rollback()
		if err2 != nil {
			return err2
		}
		return err
	}

	return transaction.Commit()
}

func deductCredits(ctx context.Context, transaction *sql.Tx, apiKey string, amount int, description string) error {
	var userID string
	err := transaction.QueryRowContext(
		ctx,
		`
			SELECT user_api_keys.user_id
				FROM user_api_keys
					JOIN api_keys ON api_keys.id = user_api_keys.api_key_id
				WHERE api_keys.key = $1
				ORDER BY user_api_keys.created_at
				LIMIT 1
		`,
		apiKey,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNoUserForAPIKey
		}
		return err
	}

	var creditID string
	var balance int
	err = transaction.QueryRowContext(
		ctx,
		`SELECT id, balance FROM user_credits WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&creditID, &balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNoCreditAccount
		}
		return err
	}

	if balance < amount {
		return models.ErrInsufficientCredits
	}

	_, err = transaction.ExecContext(
		ctx,
		`UPDATE user_credits SET balance = balance - $1, updated_at = now() WHERE id = $2`,
		amount,
		creditID,
	)
	if err != nil {
		return err
	}

	_, err = transaction.ExecContext(
		ctx,
		`INSERT INTO credit_transactions (user_credit_id, amount, type, description) VALUES ($1, $2, $3, $4)`,
		creditID,
		-amount,
		string(models.TransactionSpent),
		description,
	)

	return err
}

// AddCredits increments the balance of userID, creating the credit row when
// missing, and records a PURCHASED transaction.
func (db *PostgresDB) AddCredits(
	ctx context.Context,
	userID string,
	amount int,
	description string,
	transaction *sql.Tx,
) error {
	var creditID string
	err := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`
			INSERT INTO user_credits (user_id, balance)
				VALUES ($1, $2)
				ON CONFLICT (user_id) DO UPDATE
				SET
					balance = user_credits.balance + EXCLUDED.balance,
					updated_at = now()
				RETURNING id
		`,
		userID,
		amount,
	).Scan(&creditID)
	if err != nil {
		return err
	}

	_, err = db.executorFor(transaction).ExecContext(
		ctx,
		`INSERT INTO credit_transactions (user_credit_id, amount, type, description) VALUES ($1, $2, $3, $4)`,
		creditID,
		amount,
		string(models.TransactionPurchased),
		description,
	)

	return err
}

// WithdrawCredits removes up to amount credits from userID without going
// below zero and returns how many were actually taken.
func (db *PostgresDB) WithdrawCredits(
	ctx context.Context,
	userID string,
	amount int,
	reason string,
	transaction *sql.Tx,
) (int, error) {
	var creditID string
	var balance int
	err := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`SELECT id, balance FROM user_credits WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&creditID, &balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, models.ErrNoCreditAccount
		}
		return 0, err
	}

	withdrawn := min(amount, balance)
	if withdrawn <= 0 {
		return 0, nil
	}

	database := db.executorFor(transaction)
	_, err = database.ExecContext(
		ctx,
		`UPDATE user_credits SET balance = balance - $1, updated_at = now() WHERE id = $2`,
		withdrawn,
		creditID,
	)
	if err != nil {
		return 0, err
	}

	_, err = database.ExecContext(
		ctx,
		`INSERT INTO credit_transactions (user_credit_id, amount, type, description) VALUES ($1, $2, $3, $4)`,
		creditID,
		-withdrawn,
		string(models.TransactionPurchased),
		models.WithdrawalDescription(withdrawn, reason),
	)
	if err != nil {
		return 0, err
	}

	return withdrawn, nil
}

// GetAutoCommenterConfig resolves the first user of licenseKey and returns
// that user's configuration for platform. Platform is matched upper-cased.
func (db *PostgresDB) GetAutoCommenterConfig(
	ctx context.Context,
	licenseKey string,
	platform string,
) (*models.AutoCommenterConfig, error) {
	row := db.database.QueryRowContext(
		ctx,
		`
			SELECT
				auto_commenter_configs.user_id,
				auto_commenter_configs.platform,
				auto_commenter_configs.use_brand_voice,
				auto_commenter_configs.promote_product,
				auto_commenter_configs.product_details,
				auto_commenter_configs.prompt_mode,
				auto_commenter_configs.custom_prompts
			FROM auto_commenter_configs
			WHERE auto_commenter_configs.platform = $2
				AND auto_commenter_configs.user_id = (
					SELECT user_license_keys.user_id
						FROM user_license_keys
							JOIN license_keys ON license_keys.id = user_license_keys.license_key_id
						WHERE license_keys.key = $1
						ORDER BY user_license_keys.created_at
						LIMIT 1
				)
		`,
		licenseKey,
		strings.ToUpper(platform),
	)

	result := &models.AutoCommenterConfig{}
	var customPrompts []byte
	err := row.Scan(
		&result.UserID,
		&result.Platform,
		&result.UseBrandVoice,
		&result.PromoteProduct,
		&result.ProductDetails,
		&result.PromptMode,
		&customPrompts,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	if len(customPrompts) > 0 {
		if err := json.Unmarshal(customPrompts, &result.CustomPrompts); err != nil {
			return nil, fmt.Errorf("decoding custom prompts: %w", err)
		}
	}

	return result, nil
}

// SaveAPIUsages inserts a batch of usage rows in a single statement.
func (db *PostgresDB) SaveAPIUsages(ctx context.Context, usages []models.APIUsage) error {
	if len(usages) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(usages))
	placeholders := make([]string, len(usages))
	for i, usage := range usages {
		rows[i] = []interface{}{usage.APIKey, usage.Content, usage.Prompt, usage.Platform, usage.CreatedAt}
		placeholders[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", i*5+1, i*5+2, i*5+3, i*5+4, i*5+5)
	}

	_, err := db.database.ExecContext(
		ctx,
		fmt.Sprintf(
			`INSERT INTO api_usage (api_key, content, prompt, platform, created_at) VALUES %s`,
			strings.Join(placeholders, ","),
		),
		funk.Flatten(rows).([]interface{})...,
	)

	return err
}
