// Package consensusengine implements the consensus engine inside the
// team-collaboration context.
//
// The module owns the lifecycle of every group decision: decisions, code
// reviews, phase suggestions inside planning sessions, and two-party
// conversation handoffs. Votes are aggregated by a pure policy evaluator and
// every status change runs in one per-subject critical section guarded by a
// lock and an optimistic version check. Apply effects, status notifications
// and the activity log run only after a change commits.
package consensusengine
