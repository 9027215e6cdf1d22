package bus

import "sync"

// TopicRequest identifies one consumer's interest in a topic on a
// channel. A topic is an opaque descriptor; the Bus and TopicRegistry
// never interpret its contents.
type TopicRequest struct {
	Channel string
	Topic   string
	Client  string
}

// Provider is implemented by a producer worker that wants on-demand
// activation: it only does work while at least one subscriber has an
// accepted request outstanding for one of its topics.
type Provider interface {
	// IsRequestAccepted decides whether to begin producing for req.
	IsRequestAccepted(req TopicRequest) bool
	// OnAccept is called once producing should start for req.
	OnAccept(req TopicRequest)
	// OnRelease is called once the last client for (channel, topic) has
	// released it.
	OnRelease(req TopicRequest)
}

// TopicRegistry negotiates provider/subscriber activation on top of a
// Bus: the first accepted request for a (channel, topic) pair starts
// production; the last release stops it.
type TopicRegistry struct {
	mu        sync.Mutex
	providers map[string][]Provider          // channel -> providers
	clients   map[string]map[string]struct{} // "channel\x00topic" -> client set

	// Notify, if set, is called on the first accepted request for a
	// (channel, topic) pair ("accepted") and on its last release
	// ("released"). The owning System uses this to surface topic
	// activation as CloudEvents to registered observers.
	Notify func(event string, req TopicRequest)
}

// NewTopicRegistry returns an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		providers: make(map[string][]Provider),
		clients:   make(map[string]map[string]struct{}),
	}
}

// RegisterProvider advertises that p can provide topics on channel.
func (r *TopicRegistry) RegisterProvider(channel string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[channel] = append(r.providers[channel], p)
}

func topicKey(channel, topic string) string { return channel + "\x00" + topic }

// Request asks every registered provider on req.Channel whether it
// accepts req. Returns true if at least one provider accepted. On the
// first accepted request for (channel, topic), accepting providers are
// told to start via OnAccept.
func (r *TopicRegistry) Request(req TopicRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := topicKey(req.Channel, req.Topic)
	clients := r.clients[key]
	firstRequest := len(clients) == 0
	if clients == nil {
		clients = make(map[string]struct{})
		r.clients[key] = clients
	}

	accepted := false
	for _, p := range r.providers[req.Channel] {
		if !p.IsRequestAccepted(req) {
			continue
		}
		accepted = true
		if firstRequest {
			p.OnAccept(req)
		}
	}
	if accepted {
		clients[req.Client] = struct{}{}
		if firstRequest && r.Notify != nil {
			r.Notify("accepted", req)
		}
	}
	return accepted
}

// Release removes req.Client's interest in (req.Channel, req.Topic). Once
// the last client releases, every provider on the channel is notified via
// OnRelease so it may stop producing.
func (r *TopicRegistry) Release(req TopicRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := topicKey(req.Channel, req.Topic)
	clients, ok := r.clients[key]
	if !ok {
		return
	}
	delete(clients, req.Client)
	if len(clients) > 0 {
		return
	}
	delete(r.clients, key)
	for _, p := range r.providers[req.Channel] {
		p.OnRelease(req)
	}
	if r.Notify != nil {
		r.Notify("released", req)
	}
}
