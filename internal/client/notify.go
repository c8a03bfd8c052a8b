package client

import (
	"context"
	"log"
	"time"

	"tododapp.mini/tdm/internal/types"
)

// Start loads the view and begins tracking ledger changes until ctx ends.
// It prefers the push feed; if subscribing fails, or the feed later
// closes, it falls back to polling. None of these failures reach the
// caller. An unconfigured controller does nothing.
func (c *Controller) Start(ctx context.Context) {
	if !c.Configured() || !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	go func() {
		c.refreshInBackground()

		if c.opts.Subscriber == nil {
			c.poll(ctx)
			return
		}
		events, err := c.opts.Subscriber.Subscribe(ctx, c.opts.PackageID)
		if err != nil {
			log.Printf("Warning: notification subscription failed, polling every %s: %v", c.opts.PollInterval, err)
			c.poll(ctx)
			return
		}
		c.setMode(ModePush)
		c.consume(ctx, events)
		if ctx.Err() != nil {
			return
		}
		log.Printf("Warning: notification feed closed, polling every %s", c.opts.PollInterval)
		c.poll(ctx)
	}()
}

func (c *Controller) setMode(m NotifyMode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	c.notify()
}

// consume refreshes on every task notification until events closes.
func (c *Controller) consume(ctx context.Context, events <-chan types.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case types.TaskCreated:
				log.Printf("INFO: task %s created, refreshing", e.TaskID)
				c.refreshInBackground()
			case types.TaskCompleted:
				log.Printf("INFO: task %s completed, refreshing", e.TaskID)
				c.refreshInBackground()
			}
		}
	}
}

// poll refreshes every PollInterval. With an event feed, a tick only
// refreshes when new notifications were recorded, or while no list is
// loaded, since list creation emits none.
func (c *Controller) poll(ctx context.Context) {
	c.setMode(ModePolling)
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	var (
		cursor uint64
		primed bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.baseCtx.Done():
			return
		case <-ticker.C:
			if c.opts.Events != nil {
				next, err := c.eventCursor(ctx, cursor)
				if err != nil {
					log.Printf("Warning: events_since failed, refreshing anyway: %v", err)
				} else {
					unchanged := primed && next == cursor
					cursor, primed = next, true
					if unchanged && c.Snapshot().List != nil {
						continue
					}
				}
			}
			c.refreshInBackground()
		}
	}
}

const eventsPage = 100

func (c *Controller) eventCursor(ctx context.Context, cursor uint64) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, next, err := c.opts.Events.EventsSince(ctx, cursor, eventsPage)
	return next, err
}
