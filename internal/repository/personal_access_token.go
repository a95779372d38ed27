package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"libcirc/internal/domain"
)

type PersonalAccessTokenRepository struct {
	db *sql.DB
}

func NewPersonalAccessTokenRepository(db *sql.DB) *PersonalAccessTokenRepository {
	return &PersonalAccessTokenRepository{db: db}
}

// FindTokenByPlainToken resolves a bearer token by its sha256. Tokens may
// arrive as "id|secret"; the id prefix is ignored and only the secret is
// hashed.
func (r *PersonalAccessTokenRepository) FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.PersonalAccessToken, error) {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return nil, errors.New("empty token")
	}

	tokenPart := plainToken
	if idx := strings.Index(plainToken, "|"); idx > 0 {
		tokenPart = plainToken[idx+1:]
	}

	sum := sha256.Sum256([]byte(tokenPart))
	hashStr := fmt.Sprintf("%x", sum)

	query := `
		SELECT id, token_hash, user_id, abilities, expires_at
		FROM personal_access_tokens
		WHERE token_hash = $1
		  AND (expires_at IS NULL OR expires_at > $2)
		LIMIT 1
	`

	var pat domain.PersonalAccessToken
	err := r.db.QueryRowContext(ctx, query, hashStr, time.Now()).Scan(
		&pat.ID,
		&pat.TokenHash,
		&pat.UserID,
		&pat.Abilities,
		&pat.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("token not found")
	}
	if err != nil {
		return nil, err
	}
	return &pat, nil
}
