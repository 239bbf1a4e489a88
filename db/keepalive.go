package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/dabodev/dabo/metrics"
	"github.com/dabodev/dabo/mlog"
)

// keepalive sends the backend keepalive query when the connection has been
// idle for interval. It does not interfere with statements of the owner: it
// skips a round when a statement is running or a transaction is open.
func (c *Connection) keepalive(ctx context.Context, interval time.Duration) {
	defer close(c.keepDone)
	defer func() {
		x := recover()
		if x != nil {
			c.log.Error("unhandled panic in keepalive", slog.Any("err", x))
			metrics.PanicInc("db")
		}
	}()

	tick := interval / 4
	if tick < time.Millisecond {
		tick = interval
	}
	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		last := time.Unix(0, c.lastExecute.Load())
		if c.busy.Load() > 0 || c.inTx.Load() || time.Since(last) < interval {
			continue
		}

		q := c.Backend.KeepaliveQuery()
		qctx, cancel := context.WithTimeout(ctx, interval)
		_, err := c.conn.ExecContext(qctx, q)
		cancel()
		c.lastExecute.Store(time.Now().UnixNano())
		c.keepalives.Add(1)
		metrics.KeepaliveInc(c.Backend.Name(), err)
		if err != nil && ctx.Err() == nil {
			c.log.Errorx("keepalive query", err, slog.String("sql", q))
		} else {
			c.log.Trace(mlog.LevelTrace, "keepalive query", slog.String("sql", q))
		}
	}
}
