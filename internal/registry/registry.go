// Package registry implements the agent registry and inbox dispatcher:
// a (project_id, agent_id) -> inbox map enforcing project-level
// isolation. Per spec.md's design notes, the map is owned by a single
// goroutine reached only through request channels rather than guarded
// by a reentrant mutex — a tool handler that enqueues a delegation
// message from inside another registry call never needs to re-acquire
// anything, it just sends a request and waits for the reply.
package registry

import (
	"context"
	"fmt"
	"sort"
)

// Key identifies one agent within one project.
type Key struct {
	ProjectID string
	AgentID   string
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.ProjectID, k.AgentID) }

// AgentInfo is the registry's record of a registered agent, independent
// of the inbox plumbing.
type AgentInfo struct {
	Key     Key
	Tags    []string
	Live    bool
}

type opKind int

const (
	opRegister opKind = iota
	opDeregister
	opLookup
	opSend
	opList
)

type request struct {
	op     opKind
	key    Key
	info   AgentInfo
	msg    Message
	respCh chan response
}

type response struct {
	inbox  *Inbox
	info   AgentInfo
	ok     bool
	list   []AgentInfo
}

// Registry owns the (project, agent) -> Inbox map. Start it with Run in
// its own goroutine before use; cancelling Run's context stops it and
// closes every live inbox.
type Registry struct {
	reqCh   chan request
	metrics *Metrics
}

// New creates a registry. metrics may be nil to disable instrumentation.
func New(metrics *Metrics) *Registry {
	return &Registry{
		reqCh:   make(chan request),
		metrics: metrics,
	}
}

// Run drives the registry's owning goroutine until ctx is cancelled.
// Call it once, typically with `go r.Run(ctx)`.
func (r *Registry) Run(ctx context.Context) {
	entries := make(map[Key]*Inbox)
	infos := make(map[Key]AgentInfo)

	for {
		select {
		case <-ctx.Done():
			for _, ib := range entries {
				ib.Close()
			}
			return

		case req := <-r.reqCh:
			switch req.op {
			case opRegister:
				ib, exists := entries[req.key]
				if !exists {
					ib = newInbox()
					entries[req.key] = ib
					infos[req.key] = req.info
					if r.metrics != nil {
						r.metrics.SetRegisteredAgents(len(entries))
					}
				}
				req.respCh <- response{inbox: ib, ok: !exists}

			case opDeregister:
				if ib, ok := entries[req.key]; ok {
					ib.Close()
					delete(entries, req.key)
					delete(infos, req.key)
					if r.metrics != nil {
						r.metrics.SetRegisteredAgents(len(entries))
					}
				}
				req.respCh <- response{}

			case opLookup:
				ib, ok := entries[req.key]
				req.respCh <- response{inbox: ib, info: infos[req.key], ok: ok}

			case opSend:
				ib, ok := entries[req.key]
				if ok {
					ib.Enqueue(req.msg)
					if r.metrics != nil {
						r.metrics.IncInboxMessages(req.key.ProjectID, req.key.AgentID)
					}
				}
				req.respCh <- response{ok: ok}

			case opList:
				var list []AgentInfo
				for k, info := range infos {
					if req.key.ProjectID == "" || k.ProjectID == req.key.ProjectID {
						list = append(list, info)
					}
				}
				sort.Slice(list, func(i, j int) bool {
					if list[i].Key.ProjectID != list[j].Key.ProjectID {
						return list[i].Key.ProjectID < list[j].Key.ProjectID
					}
					return list[i].Key.AgentID < list[j].Key.AgentID
				})
				req.respCh <- response{list: list}
			}
		}
	}
}

func (r *Registry) call(req request) response {
	req.respCh = make(chan response, 1)
	r.reqCh <- req
	return <-req.respCh
}

// Register adds (project_id, agent_id) to the registry and returns its
// inbox. Idempotent: a second call for the same key returns the
// existing inbox and alreadyExisted=true.
func (r *Registry) Register(key Key, info AgentInfo) (inbox *Inbox, alreadyExisted bool) {
	info.Key = key
	resp := r.call(request{op: opRegister, key: key, info: info})
	return resp.inbox, !resp.ok
}

// Deregister removes an agent and closes its inbox. A no-op if the key
// is not registered.
func (r *Registry) Deregister(key Key) {
	r.call(request{op: opDeregister, key: key})
}

// Lookup returns the agent's info and inbox, if registered.
func (r *Registry) Lookup(key Key) (AgentInfo, *Inbox, bool) {
	resp := r.call(request{op: opLookup, key: key})
	return resp.info, resp.inbox, resp.ok
}

// Send enqueues a message into target's inbox. Returns false ("agent
// not found") if target is not registered — callers surface that as a
// tool error to the AI rather than treating it as a panic-worthy bug.
func (r *Registry) Send(target Key, msg Message) bool {
	resp := r.call(request{op: opSend, key: target, msg: msg})
	return resp.ok
}

// List returns every registered agent, optionally filtered to one
// project (empty projectID means all projects).
func (r *Registry) List(projectID string) []AgentInfo {
	resp := r.call(request{op: opList, key: Key{ProjectID: projectID}})
	return resp.list
}
