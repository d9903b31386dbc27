// Package engine implements campaign enqueueing.
//
// The engine turns a recipient candidate list into a campaign row plus one
// queue row per deliverable recipient: it dedupes candidates, partitions
// them into fixed-size chunks, resolves identities through the subscriber
// directory in batch, and bulk-inserts queue rows. Recipients that cannot
// be resolved or that have unsubscribed are dropped silently; queueing must
// never re-contact an unsubscribed person even when a target list still
// carries them.
package engine
