package postgresdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/olly-social/olly/internal/models"
)

// ListActiveOAuthTokens returns the valid tokens of platform that have not
// expired at now.
func (db *PostgresDB) ListActiveOAuthTokens(
	ctx context.Context,
	platform string,
	now time.Time,
) ([]models.OAuthToken, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, user_id, platform, access_token, expires_at, is_valid
				FROM oauth_tokens
				WHERE platform = $1
					AND is_valid = true
					AND expires_at > $2
		`,
		platform,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.OAuthToken{}
	for rows.Next() {
		var token models.OAuthToken
		err = rows.Scan(
			&token.ID,
			&token.UserID,
			&token.Platform,
			&token.AccessToken,
			&token.ExpiresAt,
			&token.IsValid,
		)
		if err != nil {
			return nil, err
		}

		result = append(result, token)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return result, nil
}

// MarkOAuthTokenInvalid flags the token so later sweeps skip it.
func (db *PostgresDB) MarkOAuthTokenInvalid(ctx context.Context, tokenID string) error {
	_, err := db.database.ExecContext(
		ctx,
		`UPDATE oauth_tokens SET is_valid = false WHERE id = $1`,
		tokenID,
	)

	return err
}

// UpdateOAuthToken stores a refreshed, already encrypted token.
func (db *PostgresDB) UpdateOAuthToken(
	ctx context.Context,
	tokenID string,
	encryptedToken string,
	expiresAt time.Time,
) error {
	_, err := db.database.ExecContext(
		ctx,
		`UPDATE oauth_tokens SET access_token = $1, expires_at = $2, is_valid = true WHERE id = $3`,
		encryptedToken,
		expiresAt,
		tokenID,
	)

	return err
}

// ListEnabledDMAutomations returns the enabled automations of userID.
func (db *PostgresDB) ListEnabledDMAutomations(ctx context.Context, userID string) ([]models.DMAutomation, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, user_id, post_id, is_enabled, dm_rules
				FROM instagram_dm_automations
				WHERE user_id = $1 AND is_enabled = true
		`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.DMAutomation{}
	for rows.Next() {
		var automation models.DMAutomation
		err = rows.Scan(
			&automation.ID,
			&automation.UserID,
			&automation.PostID,
			&automation.IsEnabled,
			&automation.DMRules,
		)
		if err != nil {
			return nil, err
		}

		result = append(result, automation)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListProcessedCommentIDs returns the comment ids already recorded for the
// automation.
func (db *PostgresDB) ListProcessedCommentIDs(ctx context.Context, automationID string) ([]string, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`SELECT DISTINCT comment_id FROM instagram_comment_history WHERE dm_automation_id = $1`,
		automationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var commentID string
		err = rows.Scan(&commentID)
		if err != nil {
			return nil, err
		}

		result = append(result, commentID)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SaveCommentHistory inserts one history row.
func (db *PostgresDB) SaveCommentHistory(ctx context.Context, entry *models.CommentHistory) error {
	var respondedAt sql.NullTime
	if entry.RespondedAt != nil {
		respondedAt = sql.NullTime{Time: *entry.RespondedAt, Valid: true}
	}

	_, err := db.database.ExecContext(
		ctx,
		`
			INSERT INTO instagram_comment_history (
				dm_automation_id,
				user_id,
				post_id,
				comment_id,
				comment_text,
				commenter_name,
				response_type,
				response_text,
				response_status,
				error_message,
				processed,
				matched_rules,
				responded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
		entry.DMAutomationID,
		entry.UserID,
		entry.PostID,
		entry.CommentID,
		nullableString(entry.CommentText),
		nullableString(entry.CommenterName),
		nullableString(entry.ResponseType),
		nullableString(entry.ResponseText),
		nullableString(entry.ResponseStatus),
		nullableString(entry.ErrorMessage),
		entry.Processed,
		entry.MatchedRules,
		respondedAt,
	)

	return err
}
