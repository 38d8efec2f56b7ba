// Copyright (c) 2026, The fleetman Authors

package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

// NewTLSConfig builds client side tls config. Any of the files may be empty:
// no client cert is presented without cert and key, and system roots are used
// without ca file.
func NewTLSConfig(certFile, keyFile, caFile string, insecureSkipVerify bool) (*tls.Config, error) {
	tlsConfig := tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if caFile != "" {
		certpool := x509.NewCertPool()
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read ca file %s", caFile)
		}
		if !certpool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in ca file %s", caFile)
		}
		tlsConfig.RootCAs = certpool
	}

	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return nil, errors.New("both client certificate and key are required")
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, errors.Wrap(err, "cannot load client key pair")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	tlsConfig.InsecureSkipVerify = insecureSkipVerify
	return &tlsConfig, nil
}
