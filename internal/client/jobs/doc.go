// Package jobs keeps the client's view of the user's download jobs.
//
// The Cache has two writers: full snapshots from the API and push updates.
// Every write is stamped with an arrival sequence number. Each snapshot
// remembers the sequence at which its fetch began, so updates that arrived
// while it was in flight are detected and merged instead of overwritten:
// the record further along (status rank, then progress) wins, and a snapshot
// wins ties because it arrived last.
package jobs
