// Package query multiplexes one database scan to many concurrent
// subscribers and serializes their value loads against the scan cursor.
package query

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/zendbit/StringDB/internal/pipe"
	"github.com/zendbit/StringDB/internal/stringdb"
)

var ErrUnknownRecord = errors.New("query: no loader for record id")

// Record one broadcast scan record. Value is nil on the end-of-scan marker.
type Record struct {
	Id        uint64
	Key       []byte
	Value     *ValueRequest
	EndOfScan bool
}

// LoadReply the manager's answer to one load request.
type LoadReply struct {
	Id    uint64
	Value []byte
	Err   error
}

type command interface{ isCommand() }

type goCmd struct{ sub *Subscription }
type stopCmd struct{ sub *Subscription }
type loadCmd struct {
	id    uint64
	reply chan<- LoadReply
}

func (goCmd) isCommand()   {}
func (stopCmd) isCommand() {}
func (loadCmd) isCommand() {}

// Manager runs one scan cursor over the database and broadcasts every record
// to the active subscribers. All database access funnels through the worker
// lock, the database itself is not thread safe.
type Manager struct {
	db      stringdb.Databaser
	control *pipe.Pipe[command]
	lock    *pipe.WorkerLock
	ready   *pipe.Waiter

	// subs and loaders are guarded by the worker lock.
	subs    map[uuid.UUID]*Subscription
	loaders map[uint64]stringdb.ValueLoader

	loads singleflight.Group

	sugar *zap.SugaredLogger
}

func NewManager(db stringdb.Databaser, logger *zap.Logger) *Manager {
	return &Manager{
		db:      db,
		control: pipe.New[command](0),
		lock:    pipe.NewWorkerLock(),
		ready:   pipe.NewWaiter(),
		subs:    make(map[uuid.UUID]*Subscription),
		loaders: make(map[uint64]stringdb.ValueLoader),
		sugar:   logger.Sugar(),
	}
}

// Subscribe creates an inactive subscriber handle. It joins the broadcast
// once its Go control message is processed, typically via Run.
func (m *Manager) Subscribe() *Subscription {
	return &Subscription{
		id:      uuid.New(),
		mgr:     m,
		records: pipe.New[Record](0),
	}
}

// Exclusive runs f while holding the scan lock, serializing arbitrary
// database access (such as writes) against the scan and pending loads.
func (m *Manager) Exclusive(ctx context.Context, f func() error) error {
	if err := m.lock.Acquire(ctx); err != nil {
		return err
	}
	defer m.lock.Release()
	return f()
}

// ActiveSubscribers reports how many subscribers joined the broadcast.
func (m *Manager) ActiveSubscribers(ctx context.Context) (int, error) {
	if err := m.lock.Acquire(ctx); err != nil {
		return 0, err
	}
	defer m.lock.Release()
	return len(m.subs), nil
}

// Run drives the listener and scanner until ctx is cancelled. Cancellation
// is a normal termination and reported as nil.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.listen(ctx) })
	g.Go(func() error { return m.scan(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// listen consumes control and load messages.
func (m *Manager) listen(ctx context.Context) error {
	const msg = "listen:"
	for {
		cmd, err := m.control.Receive(ctx)
		if err != nil {
			return err
		}

		switch c := cmd.(type) {
		case goCmd:
			if err := m.lock.Acquire(ctx); err != nil {
				return err
			}
			m.subs[c.sub.id] = c.sub
			m.ready.Set()
			m.lock.Release()
			m.sugar.Debugw(msg+" subscriber joined", "id", c.sub.id)

		case stopCmd:
			if err := m.lock.Acquire(ctx); err != nil {
				return err
			}
			m.dropLocked(c.sub.id)
			m.lock.Release()
			m.sugar.Debugw(msg+" subscriber left", "id", c.sub.id)

		case loadCmd:
			go m.serveLoad(ctx, c)
		}
	}
}

// serveLoad materializes one value under the scan lock and replies to the
// requesting subscriber only. Concurrent loads of the same record id share
// one materialization.
func (m *Manager) serveLoad(ctx context.Context, c loadCmd) {
	value, err, _ := m.loads.Do(strconv.FormatUint(c.id, 10), func() (interface{}, error) {
		if err := m.lock.Acquire(ctx); err != nil {
			return nil, err
		}
		defer m.lock.Release()

		loader, ok := m.loaders[c.id]
		if !ok {
			return nil, ErrUnknownRecord
		}
		return loader.Load()
	})

	reply := LoadReply{Id: c.id, Err: err}
	if err == nil {
		reply.Value = value.([]byte)
	} else {
		m.sugar.Debugw("serveLoad:", "id", c.id, "err", err)
	}
	c.reply <- reply
}

// dropLocked removes a subscriber; the caller holds the worker lock.
func (m *Manager) dropLocked(id uuid.UUID) {
	delete(m.subs, id)
	if len(m.subs) == 0 {
		m.ready.Clear()
	}
}

// scan waits for subscribers and broadcasts pass after pass.
func (m *Manager) scan(ctx context.Context) error {
	for {
		if err := m.ready.Wait(ctx); err != nil {
			return err
		}
		if err := m.runPass(ctx); err != nil {
			return err
		}
	}
}

// runPass broadcasts one full iteration. The scanner holds the worker lock
// between records and relinquishes it after every emission so the listener
// can service loads and membership changes.
func (m *Manager) runPass(ctx context.Context) error {
	const msg = "runPass:"

	if err := m.lock.Acquire(ctx); err != nil {
		return err
	}
	// A failed Relinquish returns without the lock; release only while held.
	held := true
	defer func() {
		if held {
			m.lock.Release()
		}
	}()

	it := m.db.Iterator()

	var id uint64
	for it.Next() {
		// ids restart every pass but the store is append-only, so id i
		// names the same record on every pass; keep cached loaders.
		if _, ok := m.loaders[id]; !ok {
			m.loaders[id] = it.Value()
		}
		m.broadcastLocked(ctx, Record{Id: id, Key: it.Key()})
		id++

		if len(m.subs) == 0 {
			m.sugar.Debugw(msg+" no subscribers left", "records", id)
			return nil
		}
		if err := m.lock.Relinquish(ctx); err != nil {
			held = false
			return err
		}
	}
	if err := it.Err(); err != nil {
		m.sugar.Errorw(msg+" iterator failed", "err", err)
		return err
	}

	m.broadcastLocked(ctx, Record{Id: id, EndOfScan: true})
	m.sugar.Debugw(msg+" pass complete", "records", id)

	// Yield before a potential rescan so control messages drain first.
	if err := m.lock.Relinquish(ctx); err != nil {
		held = false
		return err
	}
	return nil
}

// broadcastLocked delivers rec to every active subscriber; a failing
// subscriber is dropped and does not poison the scan. The caller holds the
// worker lock.
func (m *Manager) broadcastLocked(ctx context.Context, rec Record) {
	for id, sub := range m.subs {
		out := rec
		if !rec.EndOfScan {
			out.Value = &ValueRequest{mgr: m, id: rec.Id}
		}
		if err := sub.records.Send(ctx, out); err != nil {
			m.sugar.Debugw("broadcast: dropping subscriber", "id", id, "err", err)
			m.dropLocked(id)
		}
	}
}

// ValueRequest the per-record load handle delivered with each broadcast.
type ValueRequest struct {
	mgr *Manager
	id  uint64
}

// Id the record id this request belongs to.
func (r *ValueRequest) Id() uint64 {
	return r.id
}

// Load asks the manager to materialize the record's value. The reply is
// addressed to this requester only and carries the record id.
func (r *ValueRequest) Load(ctx context.Context) ([]byte, error) {
	reply := make(chan LoadReply, 1)
	if err := r.mgr.control.Send(ctx, loadCmd{id: r.id, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rep := <-reply:
		return rep.Value, rep.Err
	}
}
