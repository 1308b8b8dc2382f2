// Package workflow provides the business boundary for Warden's alert
// lifecycle. It defines the Service (admission, assignment, review,
// escalation, resolution), the Watchdog (deadline sweeps), the Store
// interface (persistence), and domain models. Every status change is an
// optimistic compare-and-update, so concurrent reviewers and the
// watchdog race safely.
package workflow
