package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "The number of clients streaming the world.",
	})

	wsSentMsgs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_sent_msgs",
		Help: "The number of frames sent to WebSocket connections.",
	})

	wsSentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_sent_bytes",
		Help: "The number of bytes sent to WebSocket connections.",
	})

	wsDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_dropped_frames",
		Help: "The number of frames dropped because a client was too slow.",
	})
)

func instrumentConnect() {
	wsConnectedClients.Inc()
}

func instrumentDisconnect() {
	wsConnectedClients.Dec()
}

func instrumentSend(size int) {
	wsSentMsgs.Inc()
	wsSentBytes.Add(float64(size))
}

func instrumentDroppedFrame() {
	wsDroppedFrames.Inc()
}
