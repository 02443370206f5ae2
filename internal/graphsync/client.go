package graphsync

import (
	"coexcore/pkg/domain"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config locates the graph database.
type Config struct {
	URI            string
	User           string
	Password       string
	Database       string
	MaxPoolSize    int
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.User) == "" {
		c.User = "neo4j"
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 50
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// Statement is one parameterised Cypher statement.
type Statement struct {
	Cypher string
	Params map[string]any
}

// Counters totals the update counters of a write transaction.
type Counters struct {
	NodesCreated         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
}

func (c *Counters) add(o Counters) {
	c.NodesCreated += o.NodesCreated
	c.RelationshipsCreated += o.RelationshipsCreated
	c.RelationshipsDeleted += o.RelationshipsDeleted
	c.PropertiesSet += o.PropertiesSet
}

// Runner executes Cypher against a graph database.
type Runner interface {
	// Schema runs a schema statement outside a transaction.
	Schema(ctx context.Context, cypher string) error
	// Write runs stmts in order inside one write transaction.
	Write(ctx context.Context, stmts []Statement) (Counters, error)
}

// Client is a Runner over the neo4j driver.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

// Open connects and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("%w: graph uri required", domain.ErrInvalidArgument)
	}
	cfg = cfg.withDefaults()
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.ConnectTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("graphsync: init driver: %w", err)
	}
	vctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graphsync: verify connectivity: %w", err)
	}
	return &Client{driver: driver, database: cfg.Database}, nil
}

func (c *Client) session(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
}

// Schema implements Runner.
func (c *Client) Schema(ctx context.Context, cypher string) error {
	session := c.session(ctx)
	defer func() { _ = session.Close(ctx) }()
	res, err := session.Run(ctx, cypher, nil)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// Write implements Runner.
func (c *Client) Write(ctx context.Context, stmts []Statement) (Counters, error) {
	session := c.session(ctx)
	defer func() { _ = session.Close(ctx) }()
	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var total Counters
		for _, st := range stmts {
			res, err := tx.Run(ctx, st.Cypher, st.Params)
			if err != nil {
				return nil, err
			}
			summary, err := res.Consume(ctx)
			if err != nil {
				return nil, err
			}
			n := summary.Counters()
			total.add(Counters{
				NodesCreated:         n.NodesCreated(),
				RelationshipsCreated: n.RelationshipsCreated(),
				RelationshipsDeleted: n.RelationshipsDeleted(),
				PropertiesSet:        n.PropertiesSet(),
			})
		}
		return total, nil
	})
	if err != nil {
		return Counters{}, err
	}
	return out.(Counters), nil
}

// Close releases the driver.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.driver == nil {
		return nil
	}
	err := c.driver.Close(ctx)
	c.driver = nil
	return err
}
