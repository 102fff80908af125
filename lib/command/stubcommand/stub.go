// Package stubcommand provides a recording adapter used by the stub adapter
// executable and by tests.
package stubcommand

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/snowmerak/sdkloader.go/lib/command"
)

// Symbol is the name under which the stub adapter is usually published.
const Symbol = "com.thoughtworks.go.tfssdk.TfsSDKCommandTCLAdapter"

// ErrRejected is returned by New when the username is "reject".
var ErrRejected = errors.New("stub adapter rejected credentials")

// Call records one operation received by a Command.
type Call struct {
	Op       string
	WorkDir  string
	Revision string
}

// Command records its constructor arguments and the operations it receives.
type Command struct {
	Fingerprint string
	URL         command.Argument
	Domain      string
	Username    string
	Password    string
	Workspace   string
	ProjectPath string

	mu    sync.Mutex
	calls []Call
}

var _ command.Command = (*Command)(nil)

// New matches command.Constructor.
func New(fingerprint string, url command.Argument, domain, username, password, workspace, projectPath string) (command.Command, error) {
	if username == "reject" {
		return nil, ErrRejected
	}
	return &Command{
		Fingerprint: fingerprint,
		URL:         url,
		Domain:      domain,
		Username:    username,
		Password:    password,
		Workspace:   workspace,
		ProjectPath: projectPath,
	}, nil
}

// Args returns the recorded constructor arguments in constructor order.
func (c *Command) Args() []any {
	return []any{c.Fingerprint, c.URL, c.Domain, c.Username, c.Password, c.Workspace, c.ProjectPath}
}

// Calls returns a copy of the recorded operations.
func (c *Command) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

func (c *Command) record(call Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *Command) CheckConnection(ctx context.Context) error {
	c.record(Call{Op: "check_connection"})
	if c.URL == nil || c.URL.Original() == "" {
		return fmt.Errorf("no repository url configured")
	}
	return nil
}

func (c *Command) Checkout(ctx context.Context, workDir string, revision string) error {
	c.record(Call{Op: "checkout", WorkDir: workDir, Revision: revision})
	return nil
}

func (c *Command) LatestModification(ctx context.Context, workDir string) ([]command.Modification, error) {
	c.record(Call{Op: "latest_modification", WorkDir: workDir})
	return []command.Modification{c.modification("1")}, nil
}

func (c *Command) ModificationsSince(ctx context.Context, workDir string, revision string) ([]command.Modification, error) {
	c.record(Call{Op: "modifications_since", WorkDir: workDir, Revision: revision})
	return []command.Modification{c.modification(revision + "+1")}, nil
}

func (c *Command) modification(revision string) command.Modification {
	return command.Modification{
		Revision:     revision,
		User:         c.Username,
		Comment:      "stub changeset in " + c.ProjectPath,
		ModifiedTime: time.Unix(0, 0).UTC(),
		Files:        []string{c.ProjectPath + "/README"},
	}
}
