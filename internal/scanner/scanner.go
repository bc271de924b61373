// Package scanner declares the typed operations this system needs from
// the external static-analysis platform ("the scanner"). Per spec §1 the
// scanner REST client itself is an external collaborator — only the
// interface is constrained here; a concrete client lives outside this
// module's core.
package scanner

import (
	"context"
	"time"

	"github.com/cxoneflow/cxoneflow-go/internal/model"
)

// ScanStatus is the terminal or in-flight state of a submitted scan.
type ScanStatus string

const (
	StatusQueued    ScanStatus = "Queued"
	StatusRunning   ScanStatus = "Running"
	StatusCompleted ScanStatus = "Completed"
	StatusFailed    ScanStatus = "Failed"
	StatusPartial   ScanStatus = "Partial"
)

// Terminal reports whether the scanner considers this status final.
func (s ScanStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartial:
		return true
	default:
		return false
	}
}

func (s ScanStatus) Success() bool {
	return s == StatusCompleted || s == StatusPartial
}

// Scan describes one scanner-side scan record.
type Scan struct {
	ID         string
	ProjectID  string
	Status     ScanStatus
	Tags       map[string]string
	Branch     string
	CreatedAt  time.Time
}

// Client is the set of scanner operations the orchestration pipeline
// needs. Implemented outside this module's core (spec §1 Non-goals).
type Client interface {
	// ResolveProject creates or retrieves the project for canonicalName,
	// returning its current configuration.
	ResolveProject(ctx context.Context, canonicalName string, groupIDs []string) (model.ProjectConfig, error)

	// RenameProject renames a legacy project id to canonicalName.
	RenameProject(ctx context.Context, projectID, canonicalName string) error

	// UpdateProjectGroups reconciles group membership for a project.
	UpdateProjectGroups(ctx context.Context, projectID string, groupIDs []string) error

	// ResolveGroupID maps a single group path to a scanner group id.
	ResolveGroupID(ctx context.Context, groupPath string) (string, error)

	// SubmitScan uploads a zipped code archive and starts a scan.
	SubmitScan(ctx context.Context, projectID string, archive []byte, tags map[string]string, engines map[string]bool) (Scan, error)

	// FindScans returns scans matching the given tag filter, most recent first.
	FindScans(ctx context.Context, projectID string, tagFilter map[string]string) ([]Scan, error)

	// UpdateScanTags patches tags on an existing scan (tag-only update path, spec §4.D).
	UpdateScanTags(ctx context.Context, scanID string, tags map[string]string) error

	// GetScanStatus polls the current status of scanID.
	GetScanStatus(ctx context.Context, scanID string) (ScanStatus, error)

	// FetchEnhancedReport retrieves the aggregated findings document for a completed scan.
	FetchEnhancedReport(ctx context.Context, scanID string) ([]byte, error)

	// FetchSARIF retrieves a SARIF v2.1.0 log for a completed scan.
	FetchSARIF(ctx context.Context, scanID string) ([]byte, error)
}
