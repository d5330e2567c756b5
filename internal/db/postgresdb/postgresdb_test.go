package postgresdb

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olly-social/olly/internal/models"
)

func newMockedDB(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()

	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	return NewWithDB(database, time.Second), mock
}

func TestGetAPIKey(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := newMockedDB(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, key, vendor, is_active FROM api_keys WHERE key = $1`)).
			WithArgs("key-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "key", "vendor", "is_active"}).AddRow("id-1", "key-1", "openai", true))

		apiKey, err := db.GetAPIKey(context.Background(), "key-1")

		require.NoError(t, err)
		assert.Equal(t, &models.APIKey{ID: "id-1", Key: "key-1", Vendor: "openai", IsActive: true}, apiKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMockedDB(t)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM api_keys WHERE key = $1`)).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"id", "key", "vendor", "is_active"}))

		_, err := db.GetAPIKey(context.Background(), "nope")

		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestDeductCredits(t *testing.T) {
	const userQuery = `SELECT user_api_keys.user_id`
	const creditQuery = `SELECT id, balance FROM user_credits WHERE user_id = $1 FOR UPDATE`

	t.Run("success", func(t *testing.T) {
		db, mock := newMockedDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(userQuery)).
			WithArgs("key-1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))
		mock.ExpectQuery(regexp.QuoteMeta(creditQuery)).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("credit-1", 5))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE user_credits SET balance = balance - $1`)).
			WithArgs(1, "credit-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO credit_transactions`)).
			WithArgs("credit-1", -1, "SPENT", "API usage - Auto Comment").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := db.DeductCredits(context.Background(), "key-1", 1, "API usage - Auto Comment")

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient", func(t *testing.T) {
		db, mock := newMockedDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(userQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))
		mock.ExpectQuery(regexp.QuoteMeta(creditQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("credit-1", 0))
		mock.ExpectRollback()

		err := db.DeductCredits(context.Background(), "key-1", 1, "API usage - Auto Comment")

		assert.ErrorIs(t, err, models.ErrInsufficientCredits)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no_user", func(t *testing.T) {
		db, mock := newMockedDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(userQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
		mock.ExpectRollback()

		err := db.DeductCredits(context.Background(), "key-1", 1, "x")

		assert.ErrorIs(t, err, models.ErrNoUserForAPIKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no_credit_row", func(t *testing.T) {
		db, mock := newMockedDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(userQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))
		mock.ExpectQuery(regexp.QuoteMeta(creditQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}))
		mock.ExpectRollback()

		err := db.DeductCredits(context.Background(), "key-1", 1, "x")

		assert.ErrorIs(t, err, models.ErrNoCreditAccount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSaveAPIUsages(t *testing.T) {
	db, mock := newMockedDB(t)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO api_usage (api_key, content, prompt, platform, created_at) VALUES ($1, $2, $3, $4, $5),($6, $7, $8, $9, $10)`,
	)).
		WithArgs("k1", "c1", "p1", "reddit", now, "k2", "c2", "p2", "github", now).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := db.SaveAPIUsages(context.Background(), []models.APIUsage{
		{APIKey: "k1", Content: "c1", Prompt: "p1", Platform: "reddit", CreatedAt: now},
		{APIKey: "k2", Content: "c2", Prompt: "p2", Platform: "github", CreatedAt: now},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.NoError(t, db.SaveAPIUsages(context.Background(), nil))
}

func TestGetAutoCommenterConfig(t *testing.T) {
	db, mock := newMockedDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM auto_commenter_configs`)).
		WithArgs("license-1", "LINKEDIN").
		WillReturnRows(
			sqlmock.NewRows([]string{
				"user_id", "platform", "use_brand_voice", "promote_product", "product_details", "prompt_mode", "custom_prompts",
			}).AddRow("user-1", "LINKEDIN", true, false, "", "custom", []byte(`[{"id":"p1","title":"T","text":"Be brief"}]`)),
		)

	cfg, err := db.GetAutoCommenterConfig(context.Background(), "license-1", "linkedin")

	require.NoError(t, err)
	assert.True(t, cfg.UseBrandVoice)
	assert.Equal(t, "custom", cfg.PromptMode)
	require.Len(t, cfg.CustomPrompts, 1)
	assert.Equal(t, "Be brief", cfg.CustomPrompts[0].Text)
}

func TestListActiveOAuthTokens(t *testing.T) {
	db, mock := newMockedDB(t)
	now := time.Now()
	expires := now.Add(48 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM oauth_tokens`)).
		WithArgs(models.PlatformInstagram, now).
		WillReturnRows(
			sqlmock.NewRows([]string{"id", "user_id", "platform", "access_token", "expires_at", "is_valid"}).
				AddRow("t1", "u1", models.PlatformInstagram, "enc", expires, true),
		)

	tokens, err := db.ListActiveOAuthTokens(context.Background(), models.PlatformInstagram, now)

	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "u1", tokens[0].UserID)
	assert.Equal(t, expires, tokens[0].ExpiresAt)
}

func TestAddCreditsWithinTransaction(t *testing.T) {
	db, mock := newMockedDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO user_credits (user_id, balance)`)).
		WithArgs("user-1", 500).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("credit-1"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO credit_transactions`)).
		WithArgs("credit-1", 500, "PURCHASED", "Plan included credits: 500 LLM credits").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, db.AddCredits(context.Background(), "user-1", 500, "Plan included credits: 500 LLM credits", tx))
	require.NoError(t, db.CommitTransaction(tx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSubLicensesStatus(t *testing.T) {
	db, mock := newMockedDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sub_licenses SET status = $1 WHERE main_license_key = $2`)).
		WithArgs("INACTIVE", "MAIN").
		WillReturnResult(sqlmock.NewResult(0, 4))

	err := db.UpdateSubLicensesStatus(context.Background(), "MAIN", models.LicenseInactive, nil)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSubLicensesRestoresStatus(t *testing.T) {
	db, mock := newMockedDB(t)
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO sub_licenses (key, status, main_license_key) VALUES ($1, $2, $3),($4, $5, $6) ON CONFLICT (key) DO UPDATE SET status = EXCLUDED.status`,
	)).
		WithArgs("SUB-1-MAIN", "ACTIVE", "MAIN", "SUB-2-MAIN", "ACTIVE", "MAIN").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := db.CreateSubLicenses(context.Background(), []models.SubLicense{
		{Key: "SUB-1-MAIN", Status: models.LicenseActive, MainLicenseKey: "MAIN"},
		{Key: "SUB-2-MAIN", Status: models.LicenseActive, MainLicenseKey: "MAIN"},
	}, nil)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInternalStats(t *testing.T) {
	db, mock := newMockedDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`(SELECT COUNT(*) FROM users)`)).
		WithArgs(models.ResponseStatusSent).
		WillReturnRows(sqlmock.NewRows([]string{"users", "licenses", "usage", "replies"}).AddRow(3, 2, 10, 4))

	stats, err := db.GetInternalStats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, &models.InternalStats{Users: 3, ActiveLicenses: 2, APICalls: 10, RepliesSent: 4}, stats)
}

func TestPing(t *testing.T) {
	database, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer database.Close()
	mock.ExpectPing()

	db := NewWithDB(database, time.Second)

	assert.NoError(t, db.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
