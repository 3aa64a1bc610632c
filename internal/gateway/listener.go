package gateway

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gemscap/quantpipe/internal/metrics"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	pingInterval = 20 * time.Second
	pongWait     = 10 * time.Second
	// A healthy feed delivers frames far more often than this; silence for a
	// full ping cycle plus the pong grace means the connection is dead.
	readWait = pingInterval + pongWait

	handshakeTimeout = 10 * time.Second
	writeWait        = 5 * time.Second
)

// listener owns one symbol's websocket connection. It reconnects forever
// with doubling backoff until the context is cancelled.
type listener struct {
	symbol string
	url    string
	parser TradeParser
	buf    *tickBuffer
}

func (l *listener) run(ctx context.Context) {
	backoff := initialBackoff
	for ctx.Err() == nil {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("symbol", l.symbol).Dur("backoff", backoff).
				Msg("feed session ended, reconnecting")
		}
		if connected {
			backoff = initialBackoff
		}
		metrics.WSReconnects.WithLabelValues(l.symbol).Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session runs one connection until it fails or the context is cancelled.
// connected reports whether the dial succeeded, which resets the backoff.
func (l *listener) session(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return false, err
	}
	log.Info().Str("symbol", l.symbol).Str("url", l.url).Msg("feed connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		tick, ok, perr := l.parser.Parse(data)
		if perr != nil {
			log.Warn().Err(perr).Str("symbol", l.symbol).Msg("skipping unparseable frame")
			continue
		}
		if !ok {
			continue
		}
		l.buf.Add(tick, time.Now())
	}
}
