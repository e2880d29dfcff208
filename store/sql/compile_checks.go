package sqlstore

import "github.com/goliatone/go-adconnect/core"

var (
	_ core.CredentialStore = (*CredentialStore)(nil)
	_ core.StateStore      = (*StateStore)(nil)
)
