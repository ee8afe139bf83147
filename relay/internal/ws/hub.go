package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans broadcast frames out to every registered WebSocket and SSE client.
// All bookkeeping happens on the run loop goroutine.
type Hub struct {
	clients   map[Subscriber]struct{}
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan []byte
	count     chan chan int
	done      chan struct{}
	once      sync.Once
}

// NewHub creates an initialized Hub and starts its run loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[Subscriber]struct{}),
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan []byte),
		count:     make(chan chan int),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				c.Close()
			}
			h.clients = nil
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unreg:
			delete(h.clients, c)
		case payload := <-h.broadcast:
			for c := range h.clients {
				if err := c.Send(payload); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Register adds a client to the broadcast set.
func (h *Hub) Register(client Subscriber) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(client Subscriber) {
	select {
	case h.unreg <- client:
	case <-h.done:
	}
}

// Broadcast sends payload to all clients. Clients whose send fails are closed
// and dropped.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close stops the run loop and closes every client.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}
