package main

import (
	"context"
	"fmt"

	"github.com/cxoneflow/cxoneflow-go/internal/app"
	"github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/secrets"
)

// newAppClientFactory returns the app.ClientFactory this binary wires in.
// The scanner REST client and the four SCM REST clients are external
// collaborators whose interfaces the system constrains but whose concrete
// implementations it does not ship (scanner.Client and scm.Client are
// declared exactly for this reason). A production deployment supplies its
// own factory — built against its specific scanner tenant and SCM
// instance — by replacing this function; until one is linked in, `serve`
// fails fast at startup with a clear error rather than silently running
// with no route able to do anything, the same "fail fast at config load"
// discipline internal/config.Load already applies to bad YAML.
func newAppClientFactory() app.ClientFactory {
	return func(_ context.Context, route config.RouteConfig, _ *secrets.Chain) (app.ClientSet, error) {
		return app.ClientSet{}, fmt.Errorf(
			"cxoneflow: no scanner/SCM client implementation linked in for route %q; "+
				"build one against your scanner and SCM instances and link it in place of newAppClientFactory",
			route.ServiceName,
		)
	}
}
