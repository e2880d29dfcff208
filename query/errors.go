package query

import (
	"net/http"

	"github.com/goliatone/go-adconnect/core"
	goerrors "github.com/goliatone/go-errors"
)

func queryDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

func queryUnauthenticatedError() error {
	return core.NewFailure(core.ReasonUnauthenticated, "query: caller identity is required", nil)
}
