package snowflake

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

const defaultLoginTimeout = 30 * time.Second

// ConnectConfig holds credentials and defaults for opening a Snowflake
// connection with key-pair authentication.
type ConnectConfig struct {
	Account   string
	User      string
	Warehouse string
	Database  string
	Schema    string
	Role      string

	// PrivateKeyPath points at a PEM-encoded RSA key (PKCS#8 or PKCS#1,
	// unencrypted).
	PrivateKeyPath string

	LoginTimeout time.Duration
}

// ConnectionDetails describes the authenticated connection as reported
// by the engine.
type ConnectionDetails struct {
	User      string `json:"user"`
	Role      string `json:"role"`
	Warehouse string `json:"warehouse"`
	Database  string `json:"database"`
	Schema    string `json:"schema"`
}

// Connector opens authenticated connections to Snowflake. The resulting
// handle is meant to be owned by exactly one Session.
type Connector struct {
	cfg ConnectConfig
}

// NewConnector validates the configuration and creates a connector.
func NewConnector(cfg ConnectConfig) (*Connector, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("snowflake account is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("snowflake user is required")
	}
	if cfg.PrivateKeyPath == "" {
		return nil, fmt.Errorf("snowflake private key path is required")
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	return &Connector{cfg: cfg}, nil
}

// Connect authenticates and returns a connection handle plus the
// engine-reported identity. The handle is capped to a single underlying
// connection so session state (warehouse, role) sticks to it.
func (c *Connector) Connect(ctx context.Context) (Conn, *ConnectionDetails, error) {
	key, err := loadPrivateKey(c.cfg.PrivateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading private key: %w", err)
	}

	sfCfg := &gosnowflake.Config{
		Account:       c.cfg.Account,
		User:          c.cfg.User,
		Warehouse:     c.cfg.Warehouse,
		Database:      c.cfg.Database,
		Schema:        c.cfg.Schema,
		Role:          c.cfg.Role,
		Authenticator: gosnowflake.AuthTypeJwt,
		PrivateKey:    key,
		LoginTimeout:  c.cfg.LoginTimeout,
	}
	dsn, err := gosnowflake.DSN(sfCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("building DSN: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	details, err := currentDetails(ctx, db, c.cfg)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("verifying connection: %w", err)
	}

	slog.Info("snowflake connection established",
		"account", c.cfg.Account,
		"user", details.User,
		"warehouse", details.Warehouse)
	return db, details, nil
}

// currentDetails reads the session identity from the engine.
func currentDetails(ctx context.Context, db *sql.DB, cfg ConnectConfig) (*ConnectionDetails, error) {
	var user, role, warehouse sql.NullString
	row := db.QueryRowContext(ctx, "SELECT CURRENT_USER(), CURRENT_ROLE(), CURRENT_WAREHOUSE()")
	if err := row.Scan(&user, &role, &warehouse); err != nil {
		return nil, err
	}

	details := &ConnectionDetails{
		User:      user.String,
		Role:      role.String,
		Warehouse: warehouse.String,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
	}
	if details.Warehouse == "" {
		details.Warehouse = cfg.Warehouse
	}
	return details, nil
}

// loadPrivateKey reads a PEM-encoded RSA private key. Encrypted keys are
// rejected; decrypt before deployment.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		return rsaKey, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key format (need unencrypted PKCS#8 or PKCS#1)")
}
