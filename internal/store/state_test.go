package store

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"flyingcarpet/internal/network"
	"flyingcarpet/internal/peer"
)

type closer struct{ closed int }

func (c *closer) Close() error { c.closed++; return nil }

func TestTakeEmptiesState(t *testing.T) {
	var s State
	assert.False(t, s.Active())

	s.SetNetworkName("flyingCarpet_937e")
	res := &network.Resource{Role: peer.Host}
	assert.True(t, s.SetResource(res))
	assert.False(t, s.SetResource(&network.Resource{}))
	c := &closer{}
	s.SetStream(c)
	assert.True(t, s.Active())
	assert.Equal(t, "flyingCarpet_937e", s.NetworkName())

	stream, gotRes, name := s.Take()
	assert.Same(t, c, stream.(*closer))
	assert.Same(t, res, gotRes)
	assert.Equal(t, "flyingCarpet_937e", name)
	assert.False(t, s.Active())

	stream, gotRes, name = s.Take()
	assert.Nil(t, stream)
	assert.Nil(t, gotRes)
	assert.Empty(t, name)
}

func TestTakeOnlyOnceUnderContention(t *testing.T) {
	var s State
	s.SetResource(&network.Resource{})
	s.SetStream(io.NopCloser(nil))

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, res, _ := s.Take(); res != nil {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, taken)
}
