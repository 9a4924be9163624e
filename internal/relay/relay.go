package relay

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/parleyhq/parley/internal/config"
)

// Daemon is the main relay process. It connects to a chat platform via an
// Adapter, pumps inbound messages through the Router, and runs the poller
// and digest timers until the context is cancelled.
type Daemon struct {
	cfg      *config.Config
	api      API
	sessions *SessionStore
	adapter  Adapter
	out      io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config   *config.Config
	API      API
	Sessions *SessionStore
	Adapter  Adapter
	Out      io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("relay: config is required")
	}
	if opts.API == nil {
		return nil, fmt.Errorf("relay: api client is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("relay: session store is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		cfg:      opts.Config,
		api:      opts.API,
		sessions: opts.Sessions,
		adapter:  opts.Adapter,
		out:      out,
	}, nil
}

// Run starts the relay daemon. It connects the adapter, builds the Router
// and Poller, and blocks until the context is cancelled. On shutdown it
// closes the adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Relay connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("relay: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	router, err := NewRouter(RouterOpts{
		API:       d.api,
		Sessions:  d.sessions,
		Adapter:   d.adapter,
		BotUserID: botUserID,
		Out:       d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("relay: build router: %w", err)
	}

	poller, err := NewPoller(PollerOpts{
		API:      d.api,
		Sessions: d.sessions,
		Adapter:  d.adapter,
		Interval: time.Duration(d.cfg.Relay.PollIntervalSec) * time.Second,
		Out:      d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("relay: build poller: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("relay: listen: %w", err)
	}

	go poller.Run(ctx)
	go d.runDigestScheduler(ctx)

	fmt.Fprintf(d.out, "Relay online\n")
	if d.cfg.Relay.Channel != "" {
		if err := d.adapter.Send(ctx, OutboundMessage{
			ChannelID: d.cfg.Relay.Channel,
			Text:      "Support relay online. Type !sp help for commands.",
		}); err != nil {
			log.Printf("relay: send online message: %v", err)
		}
	}

	// Main event loop: pump inbound messages until context is cancelled.
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Relay shutting down...\n")
			d.sendShutdown()
			if err := d.adapter.Close(); err != nil {
				log.Printf("relay: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Relay stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Relay inbound channel closed\n")
				return nil
			}
			router.Handle(ctx, msg)
		}
	}
}

// runDigestScheduler fires the pending-queue digest on its cron schedule.
// It returns immediately when the digest is disabled.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	digestCfg := d.cfg.Relay.Digest
	if !digestCfg.Enabled || digestCfg.Cron == "" {
		return
	}

	var timer *time.Timer
	if dur := nextCronDuration(digestCfg.Cron); dur > 0 {
		timer = time.NewTimer(dur)
	}
	if timer == nil {
		return
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.fireDigest(ctx)
			if dur := nextCronDuration(digestCfg.Cron); dur > 0 {
				timer.Reset(dur)
			}
		}
	}
}

// fireDigest builds and sends one pending-queue digest (best-effort).
func (d *Daemon) fireDigest(ctx context.Context) {
	text, err := BuildDigest(ctx, d.api)
	if err != nil {
		log.Printf("relay: digest: %v", err)
		return
	}
	if text == "" {
		// Empty queue, nothing to send.
		return
	}
	if err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID: d.cfg.Relay.Channel,
		Text:      text,
	}); err != nil {
		log.Printf("relay: send digest: %v", err)
	}
}

// sendShutdown posts a shutdown message to the adapter (best-effort).
func (d *Daemon) sendShutdown() {
	if d.cfg.Relay.Channel == "" {
		return
	}
	ctx := context.Background()
	if err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID: d.cfg.Relay.Channel,
		Text:      "Support relay shutting down.",
	}); err != nil {
		log.Printf("relay: send shutdown message: %v", err)
	}
}
