package jsonrpc2

import "expvar"

var (
	serverMetrics = new(expvar.Map)
	clientMetrics = new(expvar.Map)

	sessionsActiveGauge = new(expvar.Int)
	sessionsTotalCount  = new(expvar.Int)

	clientsActiveGauge = new(expvar.Int)
	rpcCallsCount      = new(expvar.Int)
	rpcReconnectsCount = new(expvar.Int)
)

func init() {
	serverMetrics.Set("sessions_active", sessionsActiveGauge)
	serverMetrics.Set("sessions_total", sessionsTotalCount)
	serverMetrics.Set("rpc_requests", new(expvar.Int))
	serverMetrics.Set("rpc_notifications", new(expvar.Int))
	serverMetrics.Set("rpc_errors", new(expvar.Int))
	serverMetrics.Set("bytes_read", new(expvar.Int))
	serverMetrics.Set("bytes_written", new(expvar.Int))

	clientMetrics.Set("clients_active", clientsActiveGauge)
	clientMetrics.Set("rpc_calls", rpcCallsCount)
	clientMetrics.Set("reconnects", rpcReconnectsCount)
	clientMetrics.Set("rpc_requests", new(expvar.Int))
	clientMetrics.Set("rpc_notifications", new(expvar.Int))
	clientMetrics.Set("rpc_errors", new(expvar.Int))
	clientMetrics.Set("bytes_read", new(expvar.Int))
	clientMetrics.Set("bytes_written", new(expvar.Int))
}

// ServerMetrics returns a map of exported server metrics for use with the
// expvar package. This map is shared among all server instances created by
// NewServer. The caller is free to add or remove metrics in the map, but note
// that such changes will affect all servers.
//
// The caller is responsible for publishing the metrics to the exporter via
// expvar.Publish or similar.
func ServerMetrics() *expvar.Map { return serverMetrics }

// ClientMetrics returns a map of exported client metrics for use with the
// expvar package. This map is shared among all client instances created by
// NewClient, under the same terms as ServerMetrics.
func ClientMetrics() *expvar.Map { return clientMetrics }
