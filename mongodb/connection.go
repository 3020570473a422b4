package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crudbooks/config"
	"crudbooks/provision"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const appName = "crudbooks-provision"

// Client is a connected MongoDB client. It implements provision.Server.
type Client struct {
	client    *mongo.Client
	opTimeout time.Duration
	logger    *zap.SugaredLogger
}

// ClientOptions builds driver options from cfg.
func ClientOptions(cfg *config.Config) *options.ClientOptions {
	opts := options.Client().
		ApplyURI(cfg.ConnectionURI()).
		SetAppName(appName).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	if cfg.User != "" {
		opts.SetAuth(options.Credential{
			AuthMechanism: cfg.AuthMechanism,
			AuthSource:    cfg.AuthSource,
			Username:      cfg.User,
			Password:      cfg.Password,
		})
	}
	return opts
}

// Connect opens a client and pings the primary so that unreachable servers
// and bad credentials fail before any declaration is applied.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	opts := ClientOptions(cfg)
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("mongodb: invalid client options: %w", err)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: connecting failed: %w", classify(err))
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: ping failed: %w", connectivity(err))
	}

	logger.Debugw("connected to mongodb", "hosts", opts.Hosts, "authenticated", cfg.User != "")
	return &Client{client: client, opTimeout: cfg.OperationTimeout, logger: logger}, nil
}

// Disconnect closes the underlying client.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *Client) Database(name string) (provision.Target, error) {
	db, err := c.DB(name)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// DB returns the database called name.
func (c *Client) DB(name string) (*Database, error) {
	if name == "" {
		return nil, errors.New("mongodb: database name is empty")
	}
	return &Database{db: c.client.Database(name), opTimeout: c.opTimeout}, nil
}

// connectivity marks err as ErrConnectivity unless it already carries a
// more specific classification.
func connectivity(err error) error {
	err = classify(err)
	if errors.Is(err, provision.ErrConnectivity) {
		return err
	}
	return fmt.Errorf("%w: %w", provision.ErrConnectivity, err)
}
