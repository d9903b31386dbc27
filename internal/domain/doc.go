// Package domain defines the core entities shared across the newsletter
// engine: subscribers, lists, campaigns, and queue items.
//
// Domain types carry no behavior beyond simple state predicates. All
// persistence lives in repository implementations; all mutation rules
// (status transitions, attempt counting) are enforced by the engine and
// dispatch packages through status-guarded store operations.
package domain
