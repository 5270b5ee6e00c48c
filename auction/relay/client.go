package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client handles the gRPC connection to a view relay
type Client struct {
	serverAddr string
	dialOpts   []grpc.DialOption
	conn       *grpc.ClientConn
}

// NewClient creates a relay client; extra dial options are appended to the defaults
func NewClient(serverAddr string, opts ...grpc.DialOption) *Client {
	return &Client{
		serverAddr: serverAddr,
		dialOpts:   opts,
	}
}

// Connect prepares the connection to the relay
func (c *Client) Connect() error {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, c.dialOpts...)

	conn, err := grpc.NewClient(c.serverAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	c.conn = conn
	return nil
}

// Close closes the connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Healthy asks the relay's health service whether the view relay is serving
func (c *Client) Healthy(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return fmt.Errorf("relay health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("relay not serving: %s", resp.GetStatus())
	}
	return nil
}

// Current fetches the latest update
func (c *Client) Current(ctx context.Context) (*Update, error) {
	out := new(Update)
	if err := c.conn.Invoke(ctx, currentMethod, &CurrentRequest{}, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, fmt.Errorf("failed to get current view: %w", err)
	}
	return out, nil
}

// Watch streams updates until ctx ends or the relay goes away
func (c *Client) Watch(ctx context.Context, subscriber string) (<-chan *Update, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], watchMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, fmt.Errorf("failed to watch: %w", err)
	}
	if err := stream.SendMsg(&WatchRequest{Subscriber: subscriber}); err != nil {
		return nil, fmt.Errorf("failed to watch: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to watch: %w", err)
	}

	updates := make(chan *Update)
	go func() {
		defer close(updates)
		for {
			update := new(Update)
			if err := stream.RecvMsg(update); err != nil {
				log.Debug().Err(err).Msg("relay stream ended")
				return
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates, nil
}
