// Package command defines the capability that adapter implementations expose to
// the embedding process, and the request used to construct them.
package command

import (
	"context"
	"time"
)

// Command is a version-control command object built by an adapter.
type Command interface {
	// CheckConnection verifies that the repository is reachable with the configured credentials.
	CheckConnection(ctx context.Context) error

	// Checkout brings workDir to the given revision.
	Checkout(ctx context.Context, workDir string, revision string) error

	// LatestModification returns the most recent modification of the repository.
	LatestModification(ctx context.Context, workDir string) ([]Modification, error)

	// ModificationsSince returns every modification after revision, newest first.
	ModificationsSince(ctx context.Context, workDir string, revision string) ([]Modification, error)
}

// Modification describes one changeset reported by an adapter.
type Modification struct {
	Revision     string
	User         string
	Comment      string
	ModifiedTime time.Time
	Files        []string
}

// Constructor is the only constructor shape an adapter symbol may have.
type Constructor func(fingerprint string, url Argument, domain, username, password, workspace, projectPath string) (Command, error)

// Request carries the caller supplied constructor arguments. Values are passed
// to the adapter unchanged.
type Request struct {
	Fingerprint string
	URL         Argument
	Domain      string
	Username    string
	Password    string
	Workspace   string
	ProjectPath string
}

// Args returns the request values in constructor order.
func (r Request) Args() []any {
	return []any{r.Fingerprint, r.URL, r.Domain, r.Username, r.Password, r.Workspace, r.ProjectPath}
}

// Construct invokes c with the request values.
func (r Request) Construct(c Constructor) (Command, error) {
	return c(r.Fingerprint, r.URL, r.Domain, r.Username, r.Password, r.Workspace, r.ProjectPath)
}
