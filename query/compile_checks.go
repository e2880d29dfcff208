package query

import (
	"github.com/goliatone/go-adconnect/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[ListActiveAccountsMessage, []core.ConnectedAccount] = (*ListActiveAccountsQuery)(nil)
	_ gocmd.Querier[ConnectionUsageMessage, core.ConnectionUsage]       = (*ConnectionUsageQuery)(nil)
	_ gocmd.Querier[ListPlatformsMessage, []core.PlatformConfig]        = (*ListPlatformsQuery)(nil)

	_ PlatformLister = (*core.PlatformRegistry)(nil)
	_ AccountReader  = (*core.Service)(nil)
)
