// Package router fans inbound PUBLISH packets out to handlers selected by
// topic filter, QoS, retain flag and payload.
package router

import (
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/mqttv3"
)

// Handler processes an inbound PUBLISH.
type Handler func(msg *mqttv3.PublishPacket)

// Condition is the set of checks a message must pass to reach a handler.
type Condition struct {
	filter string
	checks []func(*mqttv3.PublishPacket) bool
	err    error
}

// ConditionOption adds a check to a Condition.
type ConditionOption func(*Condition)

func (c *Condition) require(check func(*mqttv3.PublishPacket) bool) {
	c.checks = append(c.checks, check)
}

func (c *Condition) matches(msg *mqttv3.PublishPacket) bool {
	for _, check := range c.checks {
		if !check(msg) {
			return false
		}
	}
	return true
}

// WithTopic matches messages whose topic fits filter. Wildcards follow
// subscription rules; an invalid filter makes Handle fail. The filter is
// also reported by Filters.
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) {
		m, err := mqttv3.NewTopicMatcher(filter)
		if err != nil {
			c.err = err
			return
		}
		c.filter = filter
		c.require(m.MatchesMessage)
	}
}

func WithQoS(qos mqttv3.QoS) ConditionOption {
	return func(c *Condition) {
		c.require(func(msg *mqttv3.PublishPacket) bool { return msg.QoS == qos })
	}
}

func WithRetain(retain bool) ConditionOption {
	return func(c *Condition) {
		c.require(func(msg *mqttv3.PublishPacket) bool { return msg.Retain == retain })
	}
}

// WithPayload matches messages whose payload matches pattern.
func WithPayload(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.require(func(msg *mqttv3.PublishPacket) bool { return pattern.Match(msg.Payload) })
	}
}

type route struct {
	cond    Condition
	handler Handler
}

// Router runs every handler whose condition a message satisfies, in
// registration order. It is safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	routes []route
}

func New() *Router { return &Router{} }

// Handle registers handler behind the given conditions. With no conditions
// the handler sees every message. An invalid WithTopic filter returns
// *mqttv3.InvalidTopicMatcherError and registers nothing.
//
//	r.Handle(h, WithTopic("sensors/+/temp"), WithQoS(mqttv3.QoS1))
//	r.Handle(h, WithTopic("alerts/#"), WithPayload(regexp.MustCompile(`^CRIT`)))
func (r *Router) Handle(handler Handler, opts ...ConditionOption) error {
	var cond Condition
	for _, opt := range opts {
		opt(&cond)
		if cond.err != nil {
			return cond.err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{cond: cond, handler: handler})
	return nil
}

// Route delivers msg and reports whether any handler ran. Handlers are
// called without the router lock held, so they may register more routes.
func (r *Router) Route(msg *mqttv3.PublishPacket) bool {
	if msg == nil {
		return false
	}

	var hit []Handler
	r.mu.RLock()
	for _, rt := range r.routes {
		if rt.cond.matches(msg) {
			hit = append(hit, rt.handler)
		}
	}
	r.mu.RUnlock()

	for _, h := range hit {
		h(msg)
	}
	return len(hit) > 0
}

// OnMessage lets a Router serve as mqttv3.HandlerFuncs.Message.
func (r *Router) OnMessage(msg *mqttv3.PublishPacket) { r.Route(msg) }

// Filters lists the distinct WithTopic filters in sorted order.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, rt := range r.routes {
		if rt.cond.filter != "" {
			out = append(out, rt.cond.filter)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Subscriber is satisfied by *mqttv3.Client.
type Subscriber interface {
	Subscribe(filter string, qos mqttv3.QoS) (*mqttv3.TopicMatcher, uint16, error)
}

// SubscribeAll subscribes to each of Filters at qos. It stops at the first
// failure and returns the packet identifiers sent so far.
func (r *Router) SubscribeAll(client Subscriber, qos mqttv3.QoS) ([]uint16, error) {
	var ids []uint16
	for _, filter := range r.Filters() {
		_, id, err := client.Subscribe(filter, qos)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Clear drops every route.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = nil
}
