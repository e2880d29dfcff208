package query

import "strings"

const (
	TypeListActiveAccounts = "adconnect.query.accounts.list_active"
	TypeConnectionUsage    = "adconnect.query.accounts.usage"
	TypeListPlatforms      = "adconnect.query.platforms.list"
)

type ListActiveAccountsMessage struct {
	UserID string
}

func (ListActiveAccountsMessage) Type() string { return TypeListActiveAccounts }

func (m ListActiveAccountsMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryUnauthenticatedError()
	}
	return nil
}

type ConnectionUsageMessage struct {
	UserID string
}

func (ConnectionUsageMessage) Type() string { return TypeConnectionUsage }

func (m ConnectionUsageMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryUnauthenticatedError()
	}
	return nil
}

// ListPlatformsMessage lists registered platforms. EnabledOnly hides the
// ones switched off in configuration.
type ListPlatformsMessage struct {
	EnabledOnly bool
}

func (ListPlatformsMessage) Type() string { return TypeListPlatforms }

func (ListPlatformsMessage) Validate() error { return nil }
