// Package sales tracks the limited genesis license run. All reads and
// writes of the sold count happen on the counter's own goroutine.
package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/logger"
	"github.com/scarlin90/signingroom/internal/storage"
)

// Cap is the number of genesis licenses that will ever be sold.
const Cap = 21

const counterName = "genesis_sold"

// ErrClosed is returned once the counter has been stopped.
var ErrClosed = errors.New("sales counter closed")

// Stock is the public view of the run.
type Stock struct {
	Sold      int `json:"sold"`
	Remaining int `json:"remaining"`
}

// Counter is the single writer of the sold count.
type Counter struct {
	store *storage.Store
	cmds  chan func()
	quit  chan struct{}
	done  chan struct{}
	sold  int
}

// NewCounter loads the persisted count and starts the counter goroutine.
func NewCounter(ctx context.Context, store *storage.Store) (*Counter, error) {
	sold, err := store.Counter(ctx, counterName)
	if err != nil {
		return nil, fmt.Errorf("failed to load sales counter: %w", err)
	}
	c := &Counter{
		store: store,
		cmds:  make(chan func()),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		sold:  sold,
	}
	go c.run()
	return c, nil
}

func (c *Counter) run() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.quit:
			return
		}
	}
}

// Close stops the counter goroutine. The count stays persisted.
func (c *Counter) Close() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
	<-c.done
}

func (c *Counter) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(finished) }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stock reports how many have been sold and how many remain.
func (c *Counter) Stock(ctx context.Context) (Stock, error) {
	var s Stock
	err := c.do(ctx, func() {
		s = Stock{Sold: c.sold, Remaining: Cap - c.sold}
	})
	return s, err
}

// Reserve checks that stock remains before an invoice is issued. It does
// not hold a unit: concurrent buyers can all pass Reserve and the later
// Confirms fail.
func (c *Counter) Reserve(ctx context.Context) error {
	var soldOut bool
	if err := c.do(ctx, func() { soldOut = c.sold >= Cap }); err != nil {
		return err
	}
	if soldOut {
		return apperr.ErrSoldOut
	}
	return nil
}

// Confirm records one paid sale and returns the new count.
func (c *Counter) Confirm(ctx context.Context) (int, error) {
	var (
		sold int
		err  error
	)
	doErr := c.do(ctx, func() {
		if c.sold >= Cap {
			err = apperr.ErrSoldOut
			return
		}
		// Persist before the in-memory count moves so a failed write
		// never sells a unit twice after restart.
		if err = c.store.SetCounter(context.Background(), counterName, c.sold+1); err != nil {
			return
		}
		c.sold++
		sold = c.sold
		logger.Log.WithField("sold", sold).Info("Genesis license sold")
	})
	if doErr != nil {
		return 0, doErr
	}
	return sold, err
}
