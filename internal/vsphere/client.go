package vsphere

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/vim25/soap"
)

// Client wraps an authenticated vCenter session
type Client struct {
	*govmomi.Client
}

// Connect establishes a vCenter session. The host may be a bare hostname, an
// IP address, or a full SDK URL.
func Connect(ctx context.Context, host, username, password string, insecure bool) (*Client, error) {
	u, err := soap.ParseURL(host)
	if err != nil {
		return nil, fmt.Errorf("invalid vCenter URL %q: %w", host, err)
	}
	u.User = url.UserPassword(username, password)

	c, err := govmomi.NewClient(ctx, u, insecure)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vCenter %s: %w", u.Host, err)
	}
	return &Client{Client: c}, nil
}

// Disconnect terminates the session. Safe to call on a nil client.
func (c *Client) Disconnect(ctx context.Context) {
	if c == nil || c.Client == nil {
		return
	}
	_ = c.Logout(ctx)
}
