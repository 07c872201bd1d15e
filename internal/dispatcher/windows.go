package dispatcher

import "time"

// Per-category batch windows: the minimum dwell time a pending notification
// ages before it becomes eligible for dispatch.
const (
	callWindow    = 30 * time.Second
	emailWindow   = 300 * time.Second
	chatWindow    = 0 // immediate
	defaultWindow = 60 * time.Second
)

var batchWindows = map[string]time.Duration{
	"call":  callWindow,
	"email": emailWindow,
	"chat":  chatWindow,
}

// Window returns the batch window for a communication type.
func Window(communicationType string) time.Duration {
	if w, ok := batchWindows[communicationType]; ok {
		return w
	}
	return defaultWindow
}

// minWindow is the smallest configured window; the shard range queries use it
// as the cutoff and the exact per-type check happens in process.
func minWindow() time.Duration {
	min := defaultWindow
	for _, w := range batchWindows {
		if w < min {
			min = w
		}
	}
	return min
}
