package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/apetrenko/keyfort/internal/common"
	"github.com/apetrenko/keyfort/internal/logging"
)

// Dispatcher serializes queries onto a single worker goroutine that owns
// the Handler, and with it the vault and its database connection. Callers
// from any goroutine use Do; the vault itself never sees concurrency.
type Dispatcher struct {
	log      logging.Logger
	handler  *Handler
	requests chan request
	quit     chan struct{}
	done     chan struct{}
	stop     sync.Once
}

type request struct {
	id    uuid.UUID
	ctx   context.Context
	query Query
	reply chan Reply
}

// NewDispatcher starts the worker. Call Shutdown when done.
func NewDispatcher(log logging.Logger, h *Handler) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		handler:  h,
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		case req := <-d.requests:
			d.log.Debug(req.ctx, "dispatching query", "request_id", req.id)
			req.reply <- d.handler.Handle(req.ctx, req.query)
		}
	}
}

// Do submits one query and waits for its reply. The context bounds the
// wait only; a query already picked up by the worker runs to completion
// and its reply is discarded.
func (d *Dispatcher) Do(ctx context.Context, q Query) (Reply, error) {
	req := request{
		id:    uuid.New(),
		ctx:   ctx,
		query: q,
		reply: make(chan Reply, 1),
	}

	select {
	case d.requests <- req:
	case <-d.quit:
		return nil, fmt.Errorf("%w: dispatcher stopped", common.ErrInternal)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops the worker after the in-flight query, if any, finishes.
// Safe to call more than once.
func (d *Dispatcher) Shutdown() {
	d.stop.Do(func() { close(d.quit) })
	<-d.done
}
