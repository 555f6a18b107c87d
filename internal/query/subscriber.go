package query

import (
	"context"

	"github.com/google/uuid"

	"github.com/zendbit/StringDB/internal/pipe"
)

// Acceptance a query's verdict on one record.
type Acceptance int

const (
	// Reject skip this record.
	Reject Acceptance = iota
	// Accept consume this record and continue.
	Accept
	// Completed the query is done, stop receiving.
	Completed
)

// Query one user query driven by a subscriber. Process may call
// value.Load to materialize the record's value.
type Query interface {
	Process(ctx context.Context, key []byte, value *ValueRequest) (Acceptance, error)
}

// EndOfScanner is implemented by queries that want to observe scan
// boundaries, for example to stop after exactly one full pass.
type EndOfScanner interface {
	EndOfScan() Acceptance
}

// Subscription one subscriber handle. Records arrive through its pipe once
// the manager processes its Go message.
type Subscription struct {
	id      uuid.UUID
	mgr     *Manager
	records *pipe.Pipe[Record]
}

// Go asks the manager to start broadcasting to this subscriber.
func (s *Subscription) Go(ctx context.Context) error {
	return s.mgr.control.Send(ctx, goCmd{sub: s})
}

// Stop asks the manager to cease broadcasting to this subscriber.
func (s *Subscription) Stop(ctx context.Context) error {
	return s.mgr.control.Send(ctx, stopCmd{sub: s})
}

// Receive dequeues the next broadcast record.
func (s *Subscription) Receive(ctx context.Context) (Record, error) {
	return s.records.Receive(ctx)
}

// Run subscribes, drives q until it completes or ctx is cancelled, then
// unsubscribes.
func (s *Subscription) Run(ctx context.Context, q Query) error {
	if err := s.Go(ctx); err != nil {
		return err
	}
	defer func() {
		// Best effort, the manager may already be gone.
		_ = s.mgr.control.Send(context.Background(), stopCmd{sub: s})
	}()

	for {
		rec, err := s.records.Receive(ctx)
		if err != nil {
			return err
		}

		if rec.EndOfScan {
			if es, ok := q.(EndOfScanner); ok && es.EndOfScan() == Completed {
				return nil
			}
			continue
		}

		acc, err := q.Process(ctx, rec.Key, rec.Value)
		if err != nil {
			return err
		}
		if acc == Completed {
			return nil
		}
	}
}

// Close shuts the delivery pipe; the manager drops the subscriber on its
// next emission. Close is idempotent.
func (s *Subscription) Close() {
	s.records.Close()
}
