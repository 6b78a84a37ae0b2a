// Package store holds the session state that both the transfer goroutine
// and an out-of-band cancel need: the network name, the acquired network
// resource and the open stream. Every access is a short lock; nothing
// blocks while holding it.
package store

import (
	"io"
	"sync"

	"flyingcarpet/internal/network"
)

type State struct {
	mu          sync.Mutex
	networkName string
	resource    *network.Resource
	stream      io.Closer
}

func (s *State) SetNetworkName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkName = name
}

func (s *State) NetworkName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networkName
}

// SetResource records the acquired resource. A session holds at most one,
// so a second call replaces nothing and reports false.
func (s *State) SetResource(res *network.Resource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resource != nil {
		return false
	}
	s.resource = res
	return true
}

func (s *State) SetStream(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = c
}

// Take empties the state and returns what was in it. Whoever takes a
// resource or stream is the one who releases it.
func (s *State) Take() (stream io.Closer, res *network.Resource, networkName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, res, networkName = s.stream, s.resource, s.networkName
	s.stream, s.resource, s.networkName = nil, nil, ""
	return stream, res, networkName
}

// Active reports whether anything still needs tearing down.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil || s.resource != nil || s.networkName != ""
}
