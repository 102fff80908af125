package bridge

import (
	"context"

	"github.com/snowmerak/sdkloader.go/lib/command"
)

// remoteCommand forwards operations to a command instance living in an adapter process.
type remoteCommand struct {
	client   *client
	instance string
}

var _ command.Command = (*remoteCommand)(nil)

func (c *remoteCommand) CheckConnection(ctx context.Context) error {
	_, err := c.client.Call(ctx, ServiceCheckConnection, encodeOperation(c.instance, "", ""))
	return err
}

func (c *remoteCommand) Checkout(ctx context.Context, workDir string, revision string) error {
	_, err := c.client.Call(ctx, ServiceCheckout, encodeOperation(c.instance, workDir, revision))
	return err
}

func (c *remoteCommand) LatestModification(ctx context.Context, workDir string) ([]command.Modification, error) {
	resp, err := c.client.Call(ctx, ServiceLatestModification, encodeOperation(c.instance, workDir, ""))
	if err != nil {
		return nil, err
	}
	return decodeModifications(resp)
}

func (c *remoteCommand) ModificationsSince(ctx context.Context, workDir string, revision string) ([]command.Modification, error) {
	resp, err := c.client.Call(ctx, ServiceModificationsSince, encodeOperation(c.instance, workDir, revision))
	if err != nil {
		return nil, err
	}
	return decodeModifications(resp)
}
