// Package websocket streams the state of a world to WebSocket clients, one
// message per simulation step.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/stagesim/geom"
	"github.com/aukilabs/stagesim/models"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 8
)

// Frame is the message sent to clients after each step.
type Frame struct {
	SimTime time.Duration        `json:"sim_time"`
	Poses   map[uint32]geom.Pose `json:"poses"`
	Modules map[string]any       `json:"modules,omitempty"`
}

// Server returns a WebSocket server streaming the given world until ctx is
// done.
func Server(ctx context.Context, world *models.World) websocket.Server {
	return websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()
			Handle(ctx, conn, world)
		},
	}
}

// Handle streams the world to the given connection. It returns when the
// client disconnects, when sending fails or when ctx is done.
func Handle(ctx context.Context, conn *websocket.Conn, world *models.World) {
	h := handler{
		Conn:  conn,
		World: world,
	}
	h.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The streamed world.
	World *models.World

	sendChan       chan []byte
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	instrumentConnect()
	defer instrumentDisconnect()

	logs.WithTag("world_uuid", h.World.UUID).
		WithTag("remote_addr", h.Conn.Request().RemoteAddr).
		Info("new client is connected")

	h.disconnectChan = make(chan error, 2)
	h.sendChan = make(chan []byte, sendChanSize)

	unsubscribe := h.World.Subscribe(h.handleFrame)
	defer unsubscribe()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()

	case err = <-h.disconnectChan:
	}

	h.Conn.Close()
	cancel()
	wg.Wait()

	logs.WithTag("world_uuid", h.World.UUID).
		WithTag("remote_addr", h.Conn.Request().RemoteAddr).
		WithTag("reason", err.Error()).
		Info("client is disconnected")
}

// handleFrame runs on the world step. Frames are dropped rather than slowing
// the simulation down when the client does not keep up.
func (h *handler) handleFrame(ctx context.Context) error {
	b, err := json.Marshal(Frame{
		SimTime: h.World.SimTime(),
		Poses:   h.World.GlobalPoses(),
		Modules: h.World.ModuleStates(),
	})
	if err != nil {
		return errors.New("encoding world frame failed").Wrap(err)
	}

	select {
	case h.sendChan <- b:
	default:
		instrumentDroppedFrame()
	}
	return nil
}

func (h *handler) startSending(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case b := <-h.sendChan:
			if err := websocket.Message.Send(h.Conn, string(b)); err != nil {
				h.disconnect(errors.New("sending frame failed").Wrap(err))
				return
			}
			instrumentSend(len(b))
		}
	}
}

// startReceiving discards incoming messages. It detects client
// disconnections.
func (h *handler) startReceiving(ctx context.Context) {
	for ctx.Err() == nil {
		var msg []byte
		if err := websocket.Message.Receive(h.Conn, &msg); err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}
