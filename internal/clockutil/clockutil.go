// Package clockutil wraps github.com/jmhodges/clock, the same
// injectable-clock dependency the teacher's AmqpRPCServer uses for its
// message-lag timing, so relay's reconnect backoff and RPC latency
// measurements can be driven by a fake clock in tests.
package clockutil

import (
	"time"

	"github.com/jmhodges/clock"
)

// Backoff computes the next reconnect delay given a base and max,
// doubling each attempt, matching the teacher's
// amqpConf.ReconnectTimeouts.{Base,Max} fields.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 20 * time.Millisecond
	}
	if max <= 0 {
		max = time.Minute
	}
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Since returns clk.Now().Sub(t), the shape rpc.clk.Now().Sub(msg.Timestamp)
// takes in the teacher's Start loop.
func Since(clk clock.Clock, t time.Time) time.Duration {
	return clk.Now().Sub(t)
}
