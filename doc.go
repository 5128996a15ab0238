// Package pulse and its sub-packages implement the backend service that tracks on-chain activity volume for
// registered smart contract projects.
/*
pulse provides one microservice:

a tracker microservice (package tracker) that ingests contract events for the projects registered in the remote
datastore, keeps a rolling 24-hour count of unique interacting wallets and total transactions per project, and pushes
notifications to subscribers whenever a project's volume changes beyond their configured percentage threshold.

Architecture

Contract events reach the tracker in one of two ways. For networks configured with a node url, the tracker runs a
chain watcher (package tracker/watcher) that scans mined blocks directly through the blockchain layer (package
lib/chain). For networks without a node, the tracker consumes events published by an external producer to the message
broker (package lib/msg). Either way, each event is recorded in the durable wallet store (package lib/walletstore),
which owns the snapshot file holding every project's wallet set and transaction counter. The snapshot file is the
single source of truth for volume counts; writes to it are atomic and protected by a lock file so several processes
can share it safely.

Per-project aggregates are synced periodically to the remote datastore. Its layered implementation (package lib/store)
provides a database product agnostic interface with MongoDB and PostgreSQL backends. The datastore also holds the
subscriber preferences and push endpoints that drive the notification fan-out, and recomputes project rankings when
the tracker asks for it.

Wallet entries older than the retention window are evicted by an hourly sweep so stale interactions do not inflate
unique-wallet counts. Ranking recomputation requests are debounced so bursts of new-wallet events coalesce into a
single recalculation.

The tracker exposes an HTTP RESTful API for clients to read project stats, save notification preferences and register
push endpoints. It can also be monitored via a Prometheus API by setting the flag "-m" at startup.
*/
package pulse
