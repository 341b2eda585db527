// Package realtime fans document changes out to subscribers.
//
// A Hub keeps per-topic subscriber channels. Publish never blocks: a
// subscriber whose buffer is full misses the message and is expected to
// refetch. Topics are plain strings such as "collection:customers" or
// "board:main-board".
//
//	ch, cancel := hub.Subscribe("board:main-board")
//	defer cancel()
//	for ev := range ch {
//		// ...
//	}
//
// ServeSSE streams a topic as server-sent events with a heartbeat comment
// every 25 seconds.
//
// # Bridges
//
// With several server instances, a Bridge relays events between hubs:
// RedisBridge over Redis pub/sub and PostgresBridge over LISTEN/NOTIFY.
// Each hub tags events with its instance id and ignores its own echoes.
package realtime
