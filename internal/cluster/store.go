// Copyright (c) 2026, The fleetman Authors

// retrieving cluster data from the store
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/strategicpatch"

	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/store"
)

const (
	clusterDataKey = "clusterdata"
	// a command normally invalidates long before this
	cacheTTL = 30 * time.Second
)

type ClusterStore struct {
	StorePath   string
	Store       store.Store
	ClusterName string // mainly for logging

	cache *cache.Cache
}

type ClusterStoreConnInfo struct {
	ClusterName   string
	StoreConnInfo store.StoreConnInfo
}

func NewClusterStore(cfg *ClusterStoreConnInfo) (*ClusterStore, error) {
	etcdstore, err := store.NewEtcdV3StoreFromConnInfo(&cfg.StoreConnInfo)
	if err != nil {
		return nil, err
	}
	return NewClusterStoreFromExisting(cfg.ClusterName, etcdstore), nil
}

// use given store
func NewClusterStoreFromExisting(clusterName string, st store.Store) *ClusterStore {
	return &ClusterStore{
		StorePath:   filepath.Join("fleetman", clusterName),
		Store:       st,
		ClusterName: clusterName,
		cache:       cache.New(cacheTTL, 2*cacheTTL),
	}
}

type NotFoundError struct {
	ClusterName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cluster '%s' not found in the store", e.ClusterName)
}

type PrimaryUnavailableError struct {
	ClusterName string
}

func (e *PrimaryUnavailableError) Error() string {
	return fmt.Sprintf("no primary known for cluster '%s'", e.ClusterName)
}

// Get global cluster data; nil if the cluster doesn't exist. Served from
// cache until InvalidateCached.
func (cs *ClusterStore) GetClusterData(ctx context.Context) (*ClusterData, *store.KVPair, error) {
	path := filepath.Join(cs.StorePath, clusterDataKey)
	var pair *store.KVPair
	if cached, ok := cs.cache.Get(path); ok {
		pair = cached.(*store.KVPair)
	} else {
		var err error
		pair, err = cs.Store.Get(ctx, path)
		if err != nil {
			return nil, nil, errors.Wrap(err, "cannot read cluster data")
		}
		if pair == nil {
			return nil, nil, nil
		}
		cs.cache.SetDefault(path, pair)
	}
	// each caller gets its own copy to mess with
	var cldata = &ClusterData{}
	if err := json.Unmarshal(pair.Value, cldata); err != nil {
		return nil, nil, errors.Wrap(err, "cannot decode cluster data")
	}
	return cldata, pair, nil
}

// MustGetClusterData is GetClusterData failing with NotFoundError when the
// cluster doesn't exist.
func (cs *ClusterStore) MustGetClusterData(ctx context.Context) (*ClusterData, error) {
	cldata, _, err := cs.GetClusterData(ctx)
	if err != nil {
		return nil, err
	}
	if cldata == nil {
		return nil, &NotFoundError{ClusterName: cs.ClusterName}
	}
	return cldata, nil
}

// Put global cluster data
func (cs *ClusterStore) PutClusterData(ctx context.Context, cldata *ClusterData) error {
	cldataj, err := json.Marshal(cldata)
	if err != nil {
		return errors.Wrap(err, "cannot encode cluster data")
	}
	path := filepath.Join(cs.StorePath, clusterDataKey)
	cs.cache.Delete(path)
	return errors.Wrap(cs.Store.Put(ctx, path, cldataj), "cannot write cluster data")
}

func (cs *ClusterStore) DeleteClusterData(ctx context.Context) error {
	path := filepath.Join(cs.StorePath, clusterDataKey)
	cs.cache.Delete(path)
	return cs.Store.Delete(ctx, path)
}

// InvalidateCached forces the next read to hit the store.
func (cs *ClusterStore) InvalidateCached() {
	cs.cache.Flush()
}

// PrimaryEndpoint returns the primary as recorded in the metadata.
func (cs *ClusterStore) PrimaryEndpoint(ctx context.Context) (string, error) {
	cldata, err := cs.MustGetClusterData(ctx)
	if err != nil {
		return "", err
	}
	if cldata.Primary == "" {
		return "", &PrimaryUnavailableError{ClusterName: cs.ClusterName}
	}
	return cldata.Primary, nil
}

func (cs *ClusterStore) IsMember(ctx context.Context, endpoint string) (bool, error) {
	cldata, err := cs.MustGetClusterData(ctx)
	if err != nil {
		return false, err
	}
	d, err := conn.ValidateEndpoint(endpoint)
	if err != nil {
		return false, err
	}
	_, ok := cldata.FindMember(d.Endpoint())
	return ok, nil
}

func patchGroupSpec(spec *GroupSpec, patch []byte) (*GroupSpec, error) {
	specj, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal group spec: %v", err)
	}

	newspecj, err := strategicpatch.StrategicMergePatch(specj, patch, &GroupSpec{})
	if err != nil {
		return nil, fmt.Errorf("failed to merge patch group spec: %v", err)
	}
	var newspec *GroupSpec
	if err := json.Unmarshal(newspecj, &newspec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patched group spec: %v", err)
	}
	return newspec, nil
}

// PatchSpec merges a json patch into the stored group spec and returns the
// result.
func (cs *ClusterStore) PatchSpec(ctx context.Context, patch []byte) (*GroupSpec, error) {
	cldata, err := cs.MustGetClusterData(ctx)
	if err != nil {
		return nil, err
	}
	newspec, err := patchGroupSpec(&cldata.Spec, patch)
	if err != nil {
		return nil, err
	}
	cldata.Spec = *newspec
	if err := cs.PutClusterData(ctx, cldata); err != nil {
		return nil, err
	}
	return newspec, nil
}

func (cs *ClusterStore) Close() error {
	return cs.Store.Close()
}
