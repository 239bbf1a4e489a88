package dabo

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dabodev/dabo/mlog"
)

var cid atomic.Int64

func init() {
	cid.Store(time.Now().UnixMilli())
}

// Cid returns a new unique id to be used for commands and sessions, for
// correlating log lines.
func Cid() int64 {
	return cid.Add(1)
}

// CidContext returns a context derived from ctx carrying a new cid.
func CidContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, mlog.CidKey, Cid())
}
