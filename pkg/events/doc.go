// Package events implements the in-memory broker behind
// subscribe_events: a non-blocking pub/sub bus that fans out
// BlockWritten, BranchChanged, and PeerSetChanged notifications to every
// subscriber.
//
// Publish never blocks on a slow subscriber: each Subscriber is a
// buffered channel, and a full buffer simply skips that subscriber for
// that event rather than backing up the broker. BlockWritten events
// additionally coalesce: Publish drops a new BlockWritten for a locator
// that already has one queued, so a tight loop of writes to the same
// block surfaces as a single notification once a subscriber catches up.
package events
