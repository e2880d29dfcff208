package query

import (
	"context"

	"github.com/goliatone/go-adconnect/core"
)

type AccountReader interface {
	ListActive(ctx context.Context, userID string) ([]core.ConnectedAccount, error)
	Usage(ctx context.Context, userID string) (core.ConnectionUsage, error)
}

type PlatformLister interface {
	List() []core.PlatformConfig
}

type ListActiveAccountsQuery struct {
	reader AccountReader
}

func NewListActiveAccountsQuery(reader AccountReader) *ListActiveAccountsQuery {
	return &ListActiveAccountsQuery{reader: reader}
}

func (q *ListActiveAccountsQuery) Query(ctx context.Context, msg ListActiveAccountsMessage) ([]core.ConnectedAccount, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: account reader is required")
	}
	return q.reader.ListActive(ctx, msg.UserID)
}

type ConnectionUsageQuery struct {
	reader AccountReader
}

func NewConnectionUsageQuery(reader AccountReader) *ConnectionUsageQuery {
	return &ConnectionUsageQuery{reader: reader}
}

func (q *ConnectionUsageQuery) Query(ctx context.Context, msg ConnectionUsageMessage) (core.ConnectionUsage, error) {
	if q == nil || q.reader == nil {
		return core.ConnectionUsage{}, queryDependencyError("query: account reader is required")
	}
	return q.reader.Usage(ctx, msg.UserID)
}

type ListPlatformsQuery struct {
	lister PlatformLister
}

func NewListPlatformsQuery(lister PlatformLister) *ListPlatformsQuery {
	return &ListPlatformsQuery{lister: lister}
}

func (q *ListPlatformsQuery) Query(_ context.Context, msg ListPlatformsMessage) ([]core.PlatformConfig, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: platform registry is required")
	}
	platforms := q.lister.List()
	if !msg.EnabledOnly {
		return platforms, nil
	}
	enabled := make([]core.PlatformConfig, 0, len(platforms))
	for _, platform := range platforms {
		if platform.Enabled {
			enabled = append(enabled, platform)
		}
	}
	return enabled, nil
}
