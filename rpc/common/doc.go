// Package common provides the types shared by the RPC client, the RPC server
// and the command line tools.
//
// Key Components:
//
//   - Controller: the per-call result sink. Clients read Failed/ErrorText/Err
//     after a call completes. Server handlers call SetFailed to report an
//     application error, which reaches the caller if the server runs with
//     ReportErrors.
//
//   - Errors: sentinel errors for every way a call can fail (queue full, id
//     exhaustion, connection lost, heartbeat timeout, ...). They are
//     delivered through the Controller and can be tested with errors.Is.
//
//   - ServerConfig / ClientConfig: configuration of worker counts, queue
//     capacities, heartbeats, timeouts and socket options, with defaults and
//     a readable String representation for startup logs.
//
//   - Logger: custom formatting for dragonboat's logger facade, which all RPC
//     packages use for their package level loggers.
//
//   - Metrics: VictoriaMetrics counters and histograms updated by the client
//     and server runtimes, exposed in Prometheus format with WriteMetrics.
package common
