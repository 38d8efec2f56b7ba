// Small wrapper around etcdv3 API: makes it a bit simpler and enforces requests
// timeout.
package store

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/pkg/errors"
	etcdclientv3 "go.etcd.io/etcd/client/v3"

	"fleetman.io/fleetman/internal/tlsutil"
)

const (
	requestTimeout = 5 * time.Second
	dialTimeout    = 5 * time.Second
)

type EtcdV3Store struct {
	c *etcdclientv3.Client
}

func NewEtcdV3Store(c *etcdclientv3.Client) *EtcdV3Store {
	return &EtcdV3Store{c: c}
}

// NewEtcdV3StoreFromConnInfo dials etcd; tls is used as soon as any endpoint
// has https scheme.
func NewEtcdV3StoreFromConnInfo(ci *StoreConnInfo) (*EtcdV3Store, error) {
	endpoints := strings.Split(ci.Endpoints, ",")

	var tlsConfig *tls.Config = nil
	var err error
	for _, endp := range endpoints {
		if strings.HasPrefix(endp, "https") {
			tlsConfig, err = tlsutil.NewTLSConfig(ci.CertFile, ci.Key, ci.CAFile, false)
			if err != nil {
				return nil, errors.Wrap(err, "cannot create store tls config")
			}
			break
		}
	}

	cli, err := etcdclientv3.New(etcdclientv3.Config{
		Endpoints:   endpoints,
		TLS:         tlsConfig,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot connect to store")
	}
	return NewEtcdV3Store(cli), nil
}

func (s *EtcdV3Store) Put(pctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(pctx, requestTimeout)
	_, err := s.c.Put(ctx, key, string(value))
	cancel()
	return err
}

func (s *EtcdV3Store) Get(pctx context.Context, key string) (*KVPair, error) {
	ctx, cancel := context.WithTimeout(pctx, requestTimeout)
	resp, err := s.c.Get(ctx, key)
	cancel()
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	kv := resp.Kvs[0]
	return &KVPair{Key: string(kv.Key), Value: kv.Value,
		LastIndex: uint64(kv.ModRevision)}, nil
}

func (s *EtcdV3Store) Delete(pctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(pctx, requestTimeout)
	_, err := s.c.Delete(ctx, key)
	cancel()
	return err
}

func (s *EtcdV3Store) Close() error {
	return s.c.Close()
}
