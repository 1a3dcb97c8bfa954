package server

import (
	"github.com/ValentinKolb/dLock/lib/stats"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
)

// NewPingServerAdapter creates the adapter for liveness checks: [api_version, "ping"]
func NewPingServerAdapter(collector *stats.Collector) IRPCServerAdapter {
	return &pingServerAdapter{stats: collector}
}

type pingServerAdapter struct {
	stats *stats.Collector
}

func (adapter *pingServerAdapter) Handle(req serializer.Value, conn *Conn) (serializer.Value, bool) {
	adapter.stats.Ping()
	return common.NewOkResponse(), true
}
