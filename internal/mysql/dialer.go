// Copyright (c) 2026, The fleetman Authors

package mysql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/tlsutil"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// Dialer opens sessions to servers.
type Dialer interface {
	Dial(ctx context.Context, d conn.Descriptor) (Server, error)
}

// SQLDialer dials real servers through go-sql-driver/mysql.
type SQLDialer struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func NewSQLDialer() *SQLDialer {
	return &SQLDialer{ConnectTimeout: DefaultConnectTimeout, ReadTimeout: DefaultReadTimeout}
}

func (sd *SQLDialer) Dial(ctx context.Context, d conn.Descriptor) (Server, error) {
	cfg, err := DriverConfig(d, sd.ConnectTimeout, sd.ReadTimeout)
	if err != nil {
		return nil, err
	}
	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid connection parameters for %s", d.Endpoint())
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "cannot connect to %s", d.Endpoint())
	}
	return newSQLServer(db, d.Endpoint()), nil
}

// DriverConfig translates a descriptor into driver configuration. Custom tls
// configs are registered with the driver under a per server name.
func DriverConfig(d conn.Descriptor, connectTimeout, readTimeout time.Duration) (*gomysql.Config, error) {
	cfg := gomysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = d.Endpoint()
	cfg.Timeout = connectTimeout
	cfg.ReadTimeout = readTimeout
	cfg.InterpolateParams = true
	cfg.ParseTime = true

	switch d.SSLMode {
	case conn.SSLModeDisabled:
		cfg.TLSConfig = "false"
	case "", conn.SSLModePreferred:
		cfg.TLSConfig = "preferred"
	default:
		tlsConfig, err := tlsConfigFor(d)
		if err != nil {
			return nil, err
		}
		name := "fleetman-" + d.Key()
		if err := gomysql.RegisterTLSConfig(name, tlsConfig); err != nil {
			return nil, errors.Wrapf(err, "cannot register tls config for %s", d.Endpoint())
		}
		cfg.TLSConfig = name
	}
	return cfg, nil
}

func tlsConfigFor(d conn.Descriptor) (*tls.Config, error) {
	switch d.SSLMode {
	case conn.SSLModeRequired:
		return tlsutil.NewTLSConfig(d.SSLCert, d.SSLKey, "", true)
	case conn.SSLModeVerifyCA:
		tlsConfig, err := tlsutil.NewTLSConfig(d.SSLCert, d.SSLKey, d.SSLCA, true)
		if err != nil {
			return nil, err
		}
		// chain is checked, host name is not
		roots := tlsConfig.RootCAs
		tlsConfig.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyChain(rawCerts, roots)
		}
		return tlsConfig, nil
	case conn.SSLModeVerifyIdentity:
		tlsConfig, err := tlsutil.NewTLSConfig(d.SSLCert, d.SSLKey, d.SSLCA, false)
		if err != nil {
			return nil, err
		}
		tlsConfig.ServerName = d.Host
		return tlsConfig, nil
	}
	return nil, errors.Errorf("unsupported ssl mode '%s'", d.SSLMode)
}

func verifyChain(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return errors.New("server presented no certificate")
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return errors.Wrap(err, "cannot parse server certificate")
		}
		certs = append(certs, cert)
	}
	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates})
	return errors.Wrap(err, "server certificate verification failed")
}
