package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectedAccountRecord struct {
	bun.BaseModel `bun:"table:adconnect_connected_accounts,alias:aca"`

	ID                string     `bun:"id,pk"`
	UserID            string     `bun:"user_id,notnull"`
	Platform          string     `bun:"platform,notnull"`
	AccountID         string     `bun:"account_id,notnull"`
	AccountName       string     `bun:"account_name,notnull"`
	AccessToken       []byte     `bun:"access_token,notnull"`
	RefreshToken      []byte     `bun:"refresh_token"`
	TokenType         string     `bun:"token_type,notnull"`
	Scopes            []string   `bun:"scopes,type:jsonb,notnull"`
	TokenExpiresAt    *time.Time `bun:"token_expires_at,nullzero"`
	EncryptionKeyID   string     `bun:"encryption_key_id,notnull"`
	EncryptionVersion int        `bun:"encryption_version,notnull"`
	IsActive          bool       `bun:"is_active,notnull"`
	ConnectedAt       time.Time  `bun:"connected_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DisconnectedAt    *time.Time `bun:"disconnected_at,nullzero"`
}

type oauthStateRecord struct {
	bun.BaseModel `bun:"table:adconnect_oauth_states,alias:aos"`

	UserID    string    `bun:"user_id,pk"`
	Platform  string    `bun:"platform,pk"`
	State     string    `bun:"state,notnull"`
	OwnerHash string    `bun:"owner_hash,notnull"`
	IssuedAt  time.Time `bun:"issued_at,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}
