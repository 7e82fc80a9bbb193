package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/etrivia/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber should only receive the events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						namedEvent("game.ended"),
						namedEvent("score.updated"),
					},
					subscribers: []subscriber{
						{name: "leaderboard", subscribeTo: []string{"game.ended"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{namedEvent("game.ended")}, out.received["leaderboard"])
			},
		},

		"an event should be dispatched to every subscriber": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						namedEvent("score.updated"),
						namedEvent("score.updated"),
					},
					subscribers: []subscriber{
						{name: "leaderboard", subscribeTo: []string{"score.updated"}},
						{name: "api", subscribeTo: []string{"score.updated", "leaderboard.updated"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["leaderboard"], 2)
				assert.Len(t, out.received["api"], 2)
			},
		},

		"events nobody subscribed to are ignored": {
			arrange: func() inputs {
				return inputs{
					published:   []event.Event{namedEvent("unknown")},
					subscribers: []subscriber{{name: "api", subscribeTo: []string{"leaderboard.updated"}}},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Empty(t, out.received["api"])
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestOn_TypedHandler(t *testing.T) {
	b := event.NewBus()

	var got atomic.Value
	event.On(b, func(_ context.Context, e roundEvent) error {
		got.Store(e.round)
		return nil
	})

	b.Publish(context.Background(), roundEvent{round: 3})
	b.Stop()

	require.Equal(t, 3, got.Load())
}

func TestBus_HandlerFailuresDoNotStopOthers(t *testing.T) {
	b := event.NewBus(event.WithPoolSize(2), event.WithTimeout(time.Second))

	var calls atomic.Int32
	b.Subscribe("e", func(context.Context, event.Event) error {
		calls.Add(1)
		panic("handler bug")
	})
	b.Subscribe("e", func(context.Context, event.Event) error {
		calls.Add(1)
		return errors.New("storage down")
	})
	b.Subscribe("e", func(context.Context, event.Event) error {
		calls.Add(1)
		return nil
	})

	b.Publish(context.Background(), namedEvent("e"))
	b.Stop()

	require.Equal(t, int32(3), calls.Load())
}

func TestBus_ChainedPublishIsDrained(t *testing.T) {
	b := event.NewBus()

	var second atomic.Bool
	b.Subscribe("first", func(ctx context.Context, _ event.Event) error {
		b.Publish(ctx, namedEvent("second"))
		return nil
	})
	b.Subscribe("second", func(context.Context, event.Event) error {
		second.Store(true)
		return nil
	})

	b.Publish(context.Background(), namedEvent("first"))
	b.Drain()
	require.True(t, second.Load())

	b.Stop()
	b.Publish(context.Background(), namedEvent("first"))
	b.Drain()
}

type namedEvent string

func (e namedEvent) Name() string {
	return string(e)
}

type roundEvent struct {
	round int
}

func (roundEvent) Name() string { return "round" }

type subscriber struct {
	name        string
	subscribeTo []string
}
