// Package netsim is a small datagram substrate for nodes that move: endpoints,
// addresses and a single shared channel with distance dependent delay.
package netsim

// portal.go holds the boundary between the application layer (the packet
// exchange) and the simulated channel.  Nodes own endpoints; an endpoint bound
// to a (node, port) address receives the packets sent to that address, and an
// endpoint connected to a remote address sends to it.  Sends are turned into
// arrival events on the shared scheduler, with the delay computed by the
// channel model in channel.go.

import (
	"errors"
	"fmt"

	"github.com/iti/rngstream"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/spatial/r2"
)

var (
	// ErrAddrInUse is returned when binding an address that already has an endpoint.
	ErrAddrInUse = errors.New("address already in use")
	// ErrNotConnected is returned by Send on an endpoint with no remote address.
	ErrNotConnected = errors.New("endpoint not connected")
)

// ephemeralBase is the first port handed to endpoints that connect without
// binding first.
const ephemeralBase uint16 = 49152

// Scheduler is the part of the event engine the network needs.
type Scheduler interface {
	ScheduleAt(at float64, fn func())
	Now() float64
}

// PositionSource reports where a node currently is.
type PositionSource interface {
	Position(node int) r2.Vec
}

// Address names an endpoint as a node and a port on that node.
type Address struct {
	Node int
	Port uint16
}

func (addr Address) String() string {
	return fmt.Sprintf("%d:%d", addr.Node, addr.Port)
}

// Packet is one delivered datagram.
type Packet struct {
	Data   []byte
	From   Address
	SentAt float64
}

// Network is the collection of all endpoints that share one channel.
type Network struct {
	eng Scheduler
	pos PositionSource
	ch  ChannelConfig
	log zerolog.Logger

	rng   *rngstream.RngStream
	bound map[Address]*Endpoint

	// next ephemeral port, by node
	ephemeral map[int]uint16

	sent        int
	delivered   int
	undelivered int
}

// CreateNetwork is a constructor.  Positions are read from pos at the moment
// of each send.
func CreateNetwork(eng Scheduler, pos PositionSource, cfg ChannelConfig, log zerolog.Logger) *Network {
	nw := new(Network)
	nw.eng = eng
	nw.pos = pos
	nw.ch = cfg.withDefaults()
	nw.log = log.With().Str("component", "netsim").Logger()
	nw.rng = rngstream.New(nw.ch.StreamName)
	nw.bound = make(map[Address]*Endpoint)
	nw.ephemeral = make(map[int]uint16)
	return nw
}

// Sent is the number of packets handed to the channel.
func (nw *Network) Sent() int { return nw.sent }

// Delivered is the number of packets that reached a bound endpoint.
func (nw *Network) Delivered() int { return nw.delivered }

// Undelivered counts arrivals for which no endpoint was bound.
func (nw *Network) Undelivered() int { return nw.undelivered }

// CreateEndpoint makes an unbound, unconnected endpoint on node.
func (nw *Network) CreateEndpoint(node int) *Endpoint {
	return &Endpoint{nw: nw, node: node}
}

func (nw *Network) nextEphemeral(node int) uint16 {
	port, present := nw.ephemeral[node]
	if !present {
		port = ephemeralBase
	}
	for {
		if _, inUse := nw.bound[Address{Node: node, Port: port}]; !inUse {
			break
		}
		port++
	}
	nw.ephemeral[node] = port + 1
	return port
}

// transmit schedules the arrival of data at remote
func (nw *Network) transmit(from Address, remote Address, data []byte) {
	now := nw.eng.Now()
	delay := nw.transitDelay(from.Node, remote.Node, len(data))
	pkt := &Packet{Data: data, From: from, SentAt: now}
	nw.sent++

	nw.eng.ScheduleAt(now+delay, func() {
		dst, present := nw.bound[remote]
		if !present {
			nw.undelivered++
			nw.log.Debug().Stringer("to", remote).Stringer("from", from).Msg("no endpoint bound, packet dropped")
			return
		}
		nw.delivered++
		dst.enqueue(pkt)
	})
}

// Endpoint is one socket-like attachment point on a node.
type Endpoint struct {
	nw   *Network
	node int

	local  Address
	bound  bool
	remote *Address

	queue  []*Packet
	recvFn func(*Endpoint)
}

// Node is the node the endpoint lives on.
func (ep *Endpoint) Node() int {
	return ep.node
}

// LocalAddr is the bound address; the zero Address when unbound.
func (ep *Endpoint) LocalAddr() Address {
	return ep.local
}

// Bind attaches the endpoint to port on its node.
func (ep *Endpoint) Bind(port uint16) error {
	addr := Address{Node: ep.node, Port: port}
	if _, present := ep.nw.bound[addr]; present {
		return fmt.Errorf("bind %s: %w", addr, ErrAddrInUse)
	}
	if ep.bound {
		delete(ep.nw.bound, ep.local)
	}
	ep.local = addr
	ep.bound = true
	ep.nw.bound[addr] = ep
	return nil
}

// Connect sets the destination of later sends.  An unbound endpoint is first
// bound to an ephemeral port so that receivers see a source address.
func (ep *Endpoint) Connect(remote Address) error {
	if !ep.bound {
		if err := ep.Bind(ep.nw.nextEphemeral(ep.node)); err != nil {
			return err
		}
	}
	r := remote
	ep.remote = &r
	return nil
}

// Send transmits a copy of data to the connected address.
func (ep *Endpoint) Send(data []byte) error {
	if ep.remote == nil {
		return ErrNotConnected
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	ep.nw.transmit(ep.local, *ep.remote, buf)
	return nil
}

// SetRecvCallback registers fn to be called each time a packet arrives.
// The callback is expected to drain the queue with Recv.
func (ep *Endpoint) SetRecvCallback(fn func(*Endpoint)) {
	ep.recvFn = fn
}

// Recv pops the oldest pending packet, or returns nil when none is queued.
func (ep *Endpoint) Recv() *Packet {
	if len(ep.queue) == 0 {
		return nil
	}
	pkt := ep.queue[0]
	ep.queue[0] = nil
	ep.queue = ep.queue[1:]
	return pkt
}

// Pending is the number of queued packets.
func (ep *Endpoint) Pending() int {
	return len(ep.queue)
}

func (ep *Endpoint) enqueue(pkt *Packet) {
	ep.queue = append(ep.queue, pkt)
	if ep.recvFn != nil {
		ep.recvFn(ep)
	}
}
