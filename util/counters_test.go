package util

import (
	"testing"

	"github.com/facebookgo/stats"
)

func TestCounters(t *testing.T) {
	c := NewCounters()
	stats.BumpSum(c, "files", 1)
	stats.BumpSum(c, "files", 2)
	stats.BumpAvg(c, "size", 10)
	stats.BumpHistogram(c, "size", 20)
	stats.BumpTime(c, "task").End()

	if got := c.Get("files"); got != 3 {
		t.Errorf("files = %v, expected 3", got)
	}
	if got := c.Get("size"); got != 15 {
		t.Errorf("size = %v, expected 15", got)
	}
	keys := c.Keys()
	if len(keys) != 3 || keys[0] != "files" || keys[1] != "size" || keys[2] != "task" {
		t.Errorf("Got keys %v", keys)
	}
	// a nil client is fine
	stats.BumpSum(nil, "files", 1)
}
