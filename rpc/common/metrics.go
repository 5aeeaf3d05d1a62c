package common

import (
	"github.com/VictoriaMetrics/metrics"
	"io"
)

// Client metrics
var (
	ClientCallsStarted       = metrics.NewCounter(`drpc_client_calls_total`)
	ClientCallsFailed        = metrics.NewCounter(`drpc_client_calls_failed_total`)
	ClientResponsesDiscarded = metrics.NewCounter(`drpc_client_responses_discarded_total`)
	ClientHeartbeatsSent     = metrics.NewCounter(`drpc_client_heartbeats_sent_total`)
	ClientConnects           = metrics.NewCounter(`drpc_client_connects_total`)
	ClientConnectionsLost    = metrics.NewCounter(`drpc_client_connections_lost_total`)
)

// Server metrics
var (
	ServerConnectionsAccepted = metrics.NewCounter(`drpc_server_connections_accepted_total`)
	ServerConnectionsClosed   = metrics.NewCounter(`drpc_server_connections_closed_total`)
	ServerRequests            = metrics.NewCounter(`drpc_server_requests_total`)
	ServerRequestsDropped     = metrics.NewCounter(`drpc_server_requests_dropped_total`)
	ServerPongsSent           = metrics.NewCounter(`drpc_server_pongs_sent_total`)
	ServerHandlerDuration     = metrics.NewHistogram(`drpc_server_handler_duration_seconds`)
)

// WriteMetrics writes all metrics in Prometheus text format to w
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
