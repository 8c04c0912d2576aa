package profileapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a lazily connected client. Extra options are appended after
// the defaults, which lets tests supply a context dialer.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	registerCodec()
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype(codecName)),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) ListProfiles(ctx context.Context) ([]ProfileEntry, error) {
	out := new(ListProfilesResponse)
	if err := c.conn.Invoke(ctx, ListProfilesMethod, &ListProfilesRequest{}, out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) GetProfile(ctx context.Context, sourceIP string) (ProfileEntry, error) {
	out := new(ProfileEntry)
	if err := c.conn.Invoke(ctx, GetProfileMethod, &GetProfileRequest{SourceIP: sourceIP}, out); err != nil {
		return ProfileEntry{}, err
	}
	return *out, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
