package tak

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHeartbeatInterval = 20 * time.Second

	keepAlivePeriod = 60 * time.Second
	writeTimeout    = 10 * time.Second
)

var ErrTLSConfig = errors.New("tak: invalid tls configuration")

// Config of the TAK session. TLS material is only read when UseTLS is set.
type Config struct {
	Host   string
	Port   int
	UseTLS bool

	CertPath string
	KeyPath  string
	CAPath   string

	// UID identifies this client in heartbeat pings.
	UID string

	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return c
}

// TLSConfig builds the client TLS settings from the configured certificate,
// key and CA bundle.
func (c Config) TLSConfig() (*tls.Config, error) {
	if c.CertPath == "" || c.KeyPath == "" {
		return nil, fmt.Errorf("%w: cert and key paths are required", ErrTLSConfig)
	}
	cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load key pair: %v", ErrTLSConfig, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   c.Host,
		MinVersion:   tls.VersionTLS12,
	}

	if c.CAPath != "" {
		pem, err := os.ReadFile(c.CAPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read ca: %v", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, c.CAPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
