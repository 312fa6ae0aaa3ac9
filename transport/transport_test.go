package transport

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/notargets/CPTrack/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exchangeAll sends one packet from every rank to every rank and checks
// that each rank receives one packet from everybody
func exchangeAll(t *testing.T, eps []Transport) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, ep := range eps {
		wg.Add(1)
		go func(ep Transport) {
			defer wg.Done()
			for to := 0; to < ep.Size(); to++ {
				p := protocol.Packet{Kind: protocol.Data, Round: 7, Count: ep.Rank(),
					Messages: []protocol.Message{{Kind: protocol.Union, Target: "2:1,1,1:1,2", Ref: "2:0,1,1:1,2"}}}
				assert.NoError(t, ep.Send(ctx, to, p))
			}
			var from []int
			for i := 0; i < ep.Size(); i++ {
				p, err := ep.Recv(ctx)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, p.From, p.Count)
				assert.Equal(t, 7, p.Round)
				if assert.Len(t, p.Messages, 1) {
					assert.Equal(t, protocol.Union, p.Messages[0].Kind)
				}
				from = append(from, p.From)
			}
			sort.Ints(from)
			want := make([]int, ep.Size())
			for i := range want {
				want[i] = i
			}
			assert.Equal(t, want, from)
		}(ep)
	}
	wg.Wait()
}

func TestNetwork(t *testing.T) {
	n := NewNetwork(4)
	eps := make([]Transport, 4)
	for i := range eps {
		eps[i] = n.Endpoint(i)
	}
	exchangeAll(t, eps)

	_, ok := eps[0].TryRecv()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eps[0].Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Error(t, eps[0].Send(context.Background(), 9, protocol.Packet{}))

	// queued packets survive close
	require.NoError(t, eps[1].Send(context.Background(), 2, protocol.Packet{Round: 3}))
	n.Close()
	p, err := eps[2].Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, p.Round)
	_, err = eps[2].Recv(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
	assert.ErrorIs(t, eps[0].Send(context.Background(), 1, protocol.Packet{}), ErrClosed)
}

func TestNetworkFIFO(t *testing.T) {
	n := NewNetwork(2)
	a, b := n.Endpoint(0), n.Endpoint(1)
	for i := 0; i < 100; i++ {
		require.NoError(t, a.Send(context.Background(), 1, protocol.Packet{Round: i}))
	}
	for i := 0; i < 100; i++ {
		p, ok := b.TryRecv()
		require.True(t, ok)
		assert.Equal(t, i, p.Round)
		assert.Equal(t, 0, p.From)
	}
}

func TestWebsocket(t *testing.T) {
	const size = 3
	listeners := make([]net.Listener, size)
	peers := make([]string, size)
	for i := range listeners {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners[i] = ln
		peers[i] = ln.Addr().String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eps := make([]Transport, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := NewWebsocket(ctx, listeners[i], i, peers, nil)
			errs[i] = err
			if err == nil {
				eps[i] = ws
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}
	defer func() {
		for _, ep := range eps {
			ep.Close()
		}
	}()

	exchangeAll(t, eps)
	exchangeAll(t, eps)
}

func TestWebsocketSingleRank(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ws, err := NewWebsocket(context.Background(), ln, 0, []string{ln.Addr().String()}, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.Send(context.Background(), 0, protocol.Packet{Kind: protocol.Blob, Blob: []byte("x")}))
	p, ok := ws.TryRecv()
	require.True(t, ok)
	assert.Equal(t, []byte("x"), p.Blob)

	_, err = NewWebsocket(context.Background(), ln, 2, []string{"a"}, nil)
	assert.Error(t, err)
}
