package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const defaultReconnectDelay = 2 * time.Second

type FeedConfig struct {
	URL            string // websocket endpoint of the protocol client's event feed
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Feed consumes the protocol client's event stream over a websocket and hands
// each frame to the adapter. It reconnects forever until ctx is cancelled;
// the protocol client owns the wire session, this side only mirrors it.
type Feed struct {
	url     string
	delay   time.Duration
	adapter *Adapter
	logger  *slog.Logger
}

func NewFeed(adapter *Adapter, cfg FeedConfig) (*Feed, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{url: url, delay: delay, adapter: adapter, logger: logger}, nil
}

func (f *Feed) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			f.logger.Info("feed_stop", "reason", "context_canceled")
			return nil
		}
		dialer := *websocket.DefaultDialer
		conn, _, err := dialer.DialContext(ctx, f.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				f.logger.Info("feed_stop", "reason", "context_canceled")
				return nil
			}
			f.logger.Warn("feed_connect_error", "url", f.url, "error", err.Error())
			if err := sleepWithContext(ctx, f.delay); err != nil {
				return nil
			}
			continue
		}
		f.logger.Info("feed_connected", "url", f.url)

		readErr := f.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			f.logger.Info("feed_stop", "reason", "context_canceled")
			return nil
		}
		f.logger.Warn("feed_read_error", "error", readErr.Error())
		if err := sleepWithContext(ctx, f.delay); err != nil {
			return nil
		}
	}
}

// consume reads frames until the connection breaks. A goroutine closes the
// connection on ctx cancellation to unblock the read.
func (f *Feed) consume(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := f.adapter.HandleFrame(ctx, data); err != nil {
			f.logger.Warn("feed_frame_error", "error", err.Error())
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
