package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tavolo-project/tavolo/internal/protocol"
	"github.com/tavolo-project/tavolo/internal/util"
)

// OutItem is one outbound delivery: a catalog message and an optional
// target player. A nil target means broadcast to every connected client.
type OutItem struct {
	Target *uint32
	Msg    protocol.Message
}

// Dispatcher is the single consumer of the outbound queue. All writes to
// client sockets funnel through it, so no two tasks ever write to the same
// socket concurrently and deliveries happen in submission order. It never
// touches the session registry.
type Dispatcher struct {
	queue   *Queue[OutItem]
	clients *ClientTable
	logger  zerolog.Logger

	done chan struct{}
}

// NewDispatcher creates a dispatcher over the given socket table.
func NewDispatcher(clients *ClientTable) *Dispatcher {
	return &Dispatcher{
		queue:   NewQueue[OutItem](),
		clients: clients,
		logger:  util.ComponentLogger("dispatcher"),
		done:    make(chan struct{}),
	}
}

// Unicast enqueues a message for one player.
func (d *Dispatcher) Unicast(id uint32, m protocol.Message) {
	d.queue.Push(OutItem{Target: &id, Msg: m})
}

// Broadcast enqueues a message for every connected player.
func (d *Dispatcher) Broadcast(m protocol.Message) {
	d.queue.Push(OutItem{Msg: m})
}

// Shutdown enqueues the final broadcast that makes the run loop exit after
// delivery, then stops accepting further items.
func (d *Dispatcher) Shutdown(reason string) {
	d.Broadcast(&protocol.ConnectionEnd{Final: true, Message: reason})
	d.queue.Close()
}

// Done is closed when the run loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Run drains the outbound queue until a broadcast ConnectionEnd is
// delivered or the context is cancelled. Broadcast items are sent to all
// sockets concurrently and joined before the next item, so one slow client
// cannot stall the others but two iterations never interleave.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	defer d.queue.Abort()
	d.logger.Info().Msg("dispatcher started")

	for {
		item, ok := d.queue.Pop(ctx)
		if !ok {
			d.logger.Info().Msg("dispatcher stopping")
			return
		}

		if item.Target != nil {
			d.deliver(*item.Target, item.Msg)
			continue
		}

		d.broadcast(item.Msg)

		// A broadcast connection-end is the server-wide shutdown: finish
		// this delivery, terminate every stream with the server-end
		// signal, then exit.
		if _, isEnd := item.Msg.(*protocol.ConnectionEnd); isEnd {
			d.signalAll(protocol.TypeServerEnd)
			d.logger.Info().Msg("dispatcher delivered shutdown broadcast")
			return
		}
	}
}

// deliver sends a unicast item. Delivering a ConnectionEnd completes the
// shutdown flow for that player, so the socket is dropped from the table.
func (d *Dispatcher) deliver(id uint32, m protocol.Message) {
	conn, ok := d.clients.Get(id)
	if !ok {
		return
	}

	if err := conn.Send(m); err != nil {
		d.logger.Warn().Err(err).Uint32("player_id", id).Msg("unicast failed")
	}

	if _, isEnd := m.(*protocol.ConnectionEnd); isEnd {
		d.clients.Remove(id)
		conn.Close()
	}
}

// signalAll writes a payload-less lifecycle signal to every socket.
func (d *Dispatcher) signalAll(t protocol.PacketType) {
	snapshot := d.clients.Snapshot()

	var wg sync.WaitGroup
	for id, conn := range snapshot {
		id, conn := id, conn
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.SendSignal(t); err != nil {
				d.logger.Debug().Err(err).Uint32("player_id", id).Msg("signal delivery failed")
			}
		}()
	}
	wg.Wait()
}

// broadcast fans a message out to every connected socket. Per-socket errors
// are logged and never block delivery to the other clients.
func (d *Dispatcher) broadcast(m protocol.Message) {
	snapshot := d.clients.Snapshot()

	var wg sync.WaitGroup
	for id, conn := range snapshot {
		id, conn := id, conn
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Send(m); err != nil {
				d.logger.Warn().Err(err).Uint32("player_id", id).Msg("broadcast delivery failed")
			}
		}()
	}
	wg.Wait()
}
