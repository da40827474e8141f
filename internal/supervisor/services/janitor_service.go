// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package services

import (
	"context"
	"fmt"
)

// StartStopper is the Start/Stop lifecycle of *store.Janitor.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// JanitorService runs store maintenance (budget enforcement, orphan and
// partial file sweeps, value log GC) under the data layer supervisor.
//
//	tree.AddDataService(services.NewJanitorService(store.NewJanitor(st)))
type JanitorService struct {
	janitor StartStopper
	name    string
}

// NewJanitorService wraps janitor.
func NewJanitorService(janitor StartStopper) *JanitorService {
	return &JanitorService{
		janitor: janitor,
		name:    "store-janitor",
	}
}

// Serve implements suture.Service. Stop waits for a pass in progress.
func (s *JanitorService) Serve(ctx context.Context) error {
	if err := s.janitor.Start(ctx); err != nil {
		return fmt.Errorf("store janitor start failed: %w", err)
	}
	<-ctx.Done()
	s.janitor.Stop()
	return ctx.Err()
}

func (s *JanitorService) String() string {
	return s.name
}
