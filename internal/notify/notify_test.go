package notify

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncAndNop(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	n := Func(func(_ context.Context, e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	n.Publish(context.Background(), Event{Kind: UnitStarted, Engine: "tide"})
	Nop{}.Publish(context.Background(), Event{Kind: UnitFailed})

	require.Len(t, got, 1)
	assert.Equal(t, UnitStarted, got[0].Kind)
	assert.Equal(t, "tide", got[0].Engine)
}

func TestMulti(t *testing.T) {
	var a, b []Kind
	m := Multi{
		Func(func(_ context.Context, e Event) { a = append(a, e.Kind) }),
		Nop{},
		Func(func(_ context.Context, e Event) { b = append(b, e.Kind) }),
	}
	m.Publish(context.Background(), Event{Kind: StepStarted})
	m.Publish(context.Background(), Event{Kind: StepFinished})

	assert.Equal(t, []Kind{StepStarted, StepFinished}, a)
	assert.Equal(t, a, b)
}

func TestStamp(t *testing.T) {
	e := Stamp(Event{Kind: RunStarted})
	assert.False(t, e.Time.IsZero())

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, fixed, Stamp(Event{Time: fixed}).Time)
}

func TestDialSocketIOFailures(t *testing.T) {
	_, err := DialSocketIO(context.Background(), SocketIOOptions{URL: "not a url"})
	assert.Error(t, err)

	// A port nobody listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = DialSocketIO(context.Background(), SocketIOOptions{
		URL:     "http://" + addr,
		Timeout: 500 * time.Millisecond,
	})
	assert.Error(t, err)
}
