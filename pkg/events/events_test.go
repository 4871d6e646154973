package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDispatchesToSubscribers(t *testing.T) {
	b := NewBroker(nil)
	ctx := context.Background()

	ch1, cancel1 := b.Subscribe(ctx, GlobalRunsChannel)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(ctx, GlobalRunsChannel)
	defer cancel2()
	other, cancelOther := b.Subscribe(ctx, RunChannel("r1"))
	defer cancelOther()

	b.Dispatch(GlobalRunsChannel, []byte(`{"type":"run.status"}`))

	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case got := <-ch:
			assert.JSONEq(t, `{"type":"run.status"}`, string(got))
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
	select {
	case <-other:
		t.Fatal("event leaked to another channel")
	default:
	}
}

func TestBrokerCancelRemovesSubscriber(t *testing.T) {
	b := NewBroker(nil)
	_, cancel := b.Subscribe(context.Background(), "runs")
	assert.Equal(t, 1, b.SubscriberCount("runs"))
	cancel()
	assert.Equal(t, 0, b.SubscriberCount("runs"))
}

type fakeRemote struct {
	listens   []string
	unlistens []string
}

func (f *fakeRemote) Subscribe(_ context.Context, channel string) error {
	f.listens = append(f.listens, channel)
	return nil
}

func (f *fakeRemote) Unsubscribe(_ context.Context, channel string) error {
	f.unlistens = append(f.unlistens, channel)
	return nil
}

func TestBrokerDrivesRemoteListenOnFirstAndLast(t *testing.T) {
	b := NewBroker(nil)
	remote := &fakeRemote{}
	b.SetListener(remote)
	ctx := context.Background()

	_, cancel1 := b.Subscribe(ctx, "runs")
	_, cancel2 := b.Subscribe(ctx, "runs")
	assert.Equal(t, []string{"runs"}, remote.listens) // only the first subscriber LISTENs

	cancel1()
	assert.Empty(t, remote.unlistens)
	cancel2()
	assert.Equal(t, []string{"runs"}, remote.unlistens)
}

func TestLocalPublisherMarshalsOnce(t *testing.T) {
	b := NewBroker(nil)
	pub := NewLocalPublisher(b)
	ch, cancel := b.Subscribe(context.Background(), GlobalRunsChannel)
	defer cancel()

	payload := RunStatusPayload{
		Type: EventTypeRunStatus, RunID: "r1", TenantID: "acme",
		Mode: "pull", Status: "completed", Documents: 3,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	require.NoError(t, pub.Publish(context.Background(), GlobalRunsChannel, payload))

	select {
	case got := <-ch:
		var decoded RunStatusPayload
		require.NoError(t, json.Unmarshal(got, &decoded))
		assert.Equal(t, payload, decoded)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestNotifyBodyInjectsEventID(t *testing.T) {
	body, err := notifyBody([]byte(`{"type":"run.status","run_id":"r1"}`), 42)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	assert.Equal(t, float64(42), m["db_event_id"])
	assert.Equal(t, "r1", m["run_id"])
}

func TestNotifyBodyTruncatesOversizedPayloads(t *testing.T) {
	big := `{"type":"run.status","run_id":"r1","error":"` + strings.Repeat("x", 9000) + `"}`
	body, err := notifyBody([]byte(big), 7)
	require.NoError(t, err)
	assert.Less(t, len(body), notifyLimit)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	assert.Equal(t, true, m["truncated"])
	assert.Equal(t, float64(7), m["db_event_id"])
	assert.Equal(t, "run.status", m["type"])
}

func TestRunChannelName(t *testing.T) {
	assert.Equal(t, "run:abc-123", RunChannel("abc-123"))
}
