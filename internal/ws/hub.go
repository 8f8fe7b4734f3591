package ws

import "sync"

// outboxSize bounds the events queued for one subscriber. A subscriber that
// falls this far behind is dropped.
const outboxSize = 64

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans deployment events out to subscribers keyed by deployment ID.
// Each subscriber is fed by its own writer goroutine, so a slow peer never
// holds up the dispatch loop or other deployments.
type Hub struct {
	clients   map[int64]map[Subscriber]*outbox
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan chan int
	done      chan struct{}
	stopOnce  sync.Once
}

type message struct {
	deploymentID int64
	payload      []byte
}

type subscription struct {
	deploymentID int64
	client       Subscriber
}

type outbox struct {
	hub          *Hub
	deploymentID int64
	client       Subscriber
	queue        chan []byte
	stop         chan struct{}
}

// NewHub creates a Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[int64]map[Subscriber]*outbox),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
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
			for _, clients := range h.clients {
				for _, box := range clients {
					box.shutdown(true)
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			clients, ok := h.clients[sub.deploymentID]
			if !ok {
				clients = make(map[Subscriber]*outbox)
				h.clients[sub.deploymentID] = clients
			}
			if _, dup := clients[sub.client]; dup {
				continue
			}
			box := &outbox{
				hub:          h,
				deploymentID: sub.deploymentID,
				client:       sub.client,
				queue:        make(chan []byte, outboxSize),
				stop:         make(chan struct{}),
			}
			clients[sub.client] = box
			go box.pump()
		case sub := <-h.unreg:
			h.remove(sub.deploymentID, sub.client, false)
		case msg := <-h.broadcast:
			for c, box := range h.clients[msg.deploymentID] {
				select {
				case box.queue <- msg.payload:
				default:
					h.remove(msg.deploymentID, c, true)
				}
			}
		case reply := <-h.count:
			n := 0
			for _, clients := range h.clients {
				n += len(clients)
			}
			reply <- n
		}
	}
}

// remove runs on the dispatch loop only.
func (h *Hub) remove(deploymentID int64, client Subscriber, closeClient bool) {
	clients, ok := h.clients[deploymentID]
	if !ok {
		return
	}
	if box, ok := clients[client]; ok {
		box.shutdown(closeClient)
		delete(clients, client)
	}
	if len(clients) == 0 {
		delete(h.clients, deploymentID)
	}
}

// shutdown stops the writer. Closing the client runs on its own goroutine
// since a stalled Send may still hold the connection.
func (b *outbox) shutdown(closeClient bool) {
	close(b.stop)
	if closeClient {
		go b.client.Close()
	}
}

// pump delivers queued payloads in order until the outbox is shut down or a
// send fails.
func (b *outbox) pump() {
	for {
		select {
		case <-b.stop:
			return
		case payload := <-b.queue:
			if err := b.client.Send(payload); err != nil {
				b.client.Close()
				b.hub.Unregister(b.deploymentID, b.client)
				return
			}
		}
	}
}

// Register adds a client to a deployment stream.
func (h *Hub) Register(deploymentID int64, client Subscriber) {
	select {
	case h.register <- subscription{deploymentID: deploymentID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client without closing it.
func (h *Hub) Unregister(deploymentID int64, client Subscriber) {
	select {
	case h.unreg <- subscription{deploymentID: deploymentID, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for every subscriber of the deployment. It never
// waits on a subscriber's connection.
func (h *Hub) Broadcast(deploymentID int64, payload []byte) {
	select {
	case h.broadcast <- message{deploymentID: deploymentID, payload: payload}:
	case <-h.done:
	}
}

// Subscribers returns the number of registered clients.
func (h *Hub) Subscribers() int {
	select {
	case <-h.done:
		return 0
	default:
	}
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Stop closes every subscriber and ends the dispatch loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}
