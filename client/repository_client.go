package client

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"golang.org/x/sync/singleflight"

	"github.com/openindex/indexsync/proto"
)

type RepositoryConfig struct {
	Hosts           []string `json:"hosts"`
	ClientTimeoutMs int64    `json:"client_timeout_ms"`
}

type repositoryClient struct {
	hosts  []string
	cursor uint64
	cli    rpc.Client

	metaFlight singleflight.Group
}

// NewRepositoryClient builds the HTTP repository client. Requests rotate
// over the configured hosts; metadata fetches for the same node are
// de-duplicated in flight.
func NewRepositoryClient(cfg *RepositoryConfig) (Repository, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("no repository hosts configured")
	}
	cli := rpc.NewClient(&rpc.Config{
		ClientTimeoutMs: cfg.ClientTimeoutMs,
	})
	return &repositoryClient{hosts: cfg.Hosts, cli: cli}, nil
}

func (c *repositoryClient) host() string {
	idx := atomic.AddUint64(&c.cursor, 1)
	return c.hosts[idx%uint64(len(c.hosts))]
}

func (c *repositoryClient) Transactions(ctx context.Context, fromCommitTime, minTxID int64, maxResults int) ([]*proto.Transaction, error) {
	url := fmt.Sprintf("%s/api/transactions?fromCommitTime=%d&minTxnId=%d&maxResults=%d",
		c.host(), fromCommitTime, minTxID, maxResults)
	var ret []*proto.Transaction
	if err := c.cli.GetWith(ctx, url, &ret); err != nil {
		return nil, errors.Info(err, "get transactions failed")
	}
	return ret, nil
}

func (c *repositoryClient) Nodes(ctx context.Context, txIDs []int64, maxResults int) ([]*proto.Node, error) {
	args := struct {
		TxIDs      []int64 `json:"tx_ids"`
		MaxResults int     `json:"max_results"`
	}{TxIDs: txIDs, MaxResults: maxResults}

	var ret []*proto.Node
	if err := c.cli.PostWith(ctx, c.host()+"/api/nodes", &ret, args); err != nil {
		return nil, errors.Info(err, "get nodes failed")
	}
	return ret, nil
}

func (c *repositoryClient) NodeMetaData(ctx context.Context, dbID int64) (*proto.NodeMetaData, error) {
	v, err, _ := c.metaFlight.Do(fmt.Sprintf("meta-%d", dbID), func() (interface{}, error) {
		ret := &proto.NodeMetaData{}
		url := fmt.Sprintf("%s/api/metadata?nodeId=%d", c.host(), dbID)
		if err := c.cli.GetWith(ctx, url, ret); err != nil {
			return nil, errors.Info(err, "get node metadata failed")
		}
		return ret, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*proto.NodeMetaData), nil
}

func (c *repositoryClient) AclChangeSets(ctx context.Context, fromCommitTime, minID int64, maxResults int) ([]*proto.AclChangeSet, error) {
	url := fmt.Sprintf("%s/api/aclChangeSets?fromCommitTime=%d&minId=%d&maxResults=%d",
		c.host(), fromCommitTime, minID, maxResults)
	var ret []*proto.AclChangeSet
	if err := c.cli.GetWith(ctx, url, &ret); err != nil {
		return nil, errors.Info(err, "get acl change sets failed")
	}
	return ret, nil
}

func (c *repositoryClient) Acls(ctx context.Context, changeSetIDs []int64) ([]*proto.Acl, error) {
	args := struct {
		ChangeSetIDs []int64 `json:"change_set_ids"`
	}{ChangeSetIDs: changeSetIDs}

	var ret []*proto.Acl
	if err := c.cli.PostWith(ctx, c.host()+"/api/acls", &ret, args); err != nil {
		return nil, errors.Info(err, "get acls failed")
	}
	return ret, nil
}

func (c *repositoryClient) AclReaders(ctx context.Context, aclIDs []int64) ([]*proto.AclReaders, error) {
	args := struct {
		AclIDs []int64 `json:"acl_ids"`
	}{AclIDs: aclIDs}

	var ret []*proto.AclReaders
	if err := c.cli.PostWith(ctx, c.host()+"/api/aclReaders", &ret, args); err != nil {
		return nil, errors.Info(err, "get acl readers failed")
	}
	return ret, nil
}

func (c *repositoryClient) TextContent(ctx context.Context, dbID, contentID int64) (string, error) {
	url := fmt.Sprintf("%s/api/textContent?nodeId=%d&contentId=%d", c.host(), dbID, contentID)
	var ret struct {
		Content string `json:"content"`
	}
	if err := c.cli.GetWith(ctx, url, &ret); err != nil {
		return "", errors.Info(err, "get text content failed")
	}
	return ret.Content, nil
}
