// Copyright 2024 The IndexSync Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package server wires the index core together and exposes the admin
// surface over HTTP.
package server

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/rpc/auditlog"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openindex/indexsync/client"
	"github.com/openindex/indexsync/contentstore"
	"github.com/openindex/indexsync/engine"
	"github.com/openindex/indexsync/index/memindex"
	"github.com/openindex/indexsync/router"
	"github.com/openindex/indexsync/tracker"
)

type Config struct {
	StartRange int64 `json:"start_range"`
	EndRange   int64 `json:"end_range"`

	EngineConfig  engine.Config           `json:"engine_config"`
	TrackerConfig tracker.Config          `json:"tracker_config"`
	StoreConfig   contentstore.Config     `json:"store_config"`
	RepoConfig    client.RepositoryConfig `json:"repo_config"`
	AuditLog      auditlog.Config         `json:"audit_log"`
}

type Server struct {
	cfg *Config

	eng       *engine.Engine
	store     *contentstore.Store
	rng       *router.DBIDRangeRouter
	scheduler *tracker.Scheduler
	registry  *prometheus.Registry

	// serializes EXPAND, which must never race with itself
	expandLock sync.Mutex
}

func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	repo, err := client.NewRepositoryClient(&cfg.RepoConfig)
	if err != nil {
		return nil, err
	}

	store, err := contentstore.NewStore(ctx, &cfg.StoreConfig)
	if err != nil {
		return nil, err
	}

	eng := engine.NewEngine(ctx, &cfg.EngineConfig, memindex.New(), repo, store)

	registry := prometheus.NewRegistry()
	eng.Metrics().Register(registry)

	state, err := tracker.NewSharedState(ctx, eng)
	if err != nil {
		eng.Close()
		return nil, err
	}

	scheduler := tracker.NewScheduler(&cfg.TrackerConfig, eng,
		tracker.NewMetadataTracker(&cfg.TrackerConfig, eng, repo, state),
		tracker.NewAclTracker(&cfg.TrackerConfig, eng, repo, state),
		tracker.NewContentTracker(&cfg.TrackerConfig, eng),
		tracker.NewCascadeTracker(&cfg.TrackerConfig, eng),
	)

	return &Server{
		cfg:       cfg,
		eng:       eng,
		store:     store,
		rng:       router.NewDBIDRangeRouter(cfg.StartRange, cfg.EndRange),
		scheduler: scheduler,
		registry:  registry,
	}, nil
}

func (s *Server) Start(ctx context.Context) {
	s.scheduler.Start(ctx)
	log.Info("trackers started")
}

func (s *Server) Close() {
	s.scheduler.Close()
	s.eng.Close()
	s.store.Close()
}
