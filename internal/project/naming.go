// Package project resolves the scanner-facing canonical project name and
// group memberships for a repo (spec 4.I).
package project

import (
	"context"
	"fmt"
	"time"

	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/sirupsen/logrus"
)

// Namer derives a canonical scanner project name from a scan request. A
// per-service implementation may consult external state (e.g. a
// monorepo-aware naming service); the default below is pure.
type Namer func(ctx context.Context, req model.ScanRequest) (string, error)

// DefaultNamer builds `<organization>/<project-key>/<repo>` (spec 4.I:
// "falls back to a deterministic default name per SCM, e.g.
// collection/project/repo").
func DefaultNamer(_ context.Context, req model.ScanRequest) (string, error) {
	if req.RepoName == "" {
		return "", fmt.Errorf("project: cannot derive default name: empty repo name")
	}
	parts := []string{req.RepoOrganization, req.RepoProjectKey, req.RepoName}
	name := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if name != "" {
			name += "/"
		}
		name += p
	}
	return name, nil
}

// ResolveName runs namer and falls back to DefaultNamer on a nil result or
// error, logging the timing of the attempt either way (spec 4.I: "Timing
// is logged").
func ResolveName(ctx context.Context, namer Namer, req model.ScanRequest, log *logrus.Entry) (string, error) {
	start := time.Now()
	if namer != nil {
		name, err := namer(ctx, req)
		elapsed := time.Since(start)
		if err == nil && name != "" {
			log.WithField("elapsed", elapsed).WithField("name", name).Debug("resolved project name")
			return name, nil
		}
		log.WithError(err).WithField("elapsed", elapsed).Warn("project namer failed, falling back to default naming")
	}
	name, err := DefaultNamer(ctx, req)
	if err != nil {
		return "", err
	}
	log.WithField("name", name).Debug("resolved default project name")
	return name, nil
}
