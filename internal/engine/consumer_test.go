package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnssnd/snd/internal/dns"
)

func TestConsumerRecordsHeaderOnlyResponses(t *testing.T) {
	events := make(chan Event, 4)
	store := NewStatusStore()
	c := NewConsumer(events, store, 0, nil)
	go c.Run()

	events <- Event{Kind: EventHeader, Header: dns.Header{Flags: 0x8180}, Elapsed: 0.01}
	events <- Event{Kind: EventHeader, Header: dns.Header{Flags: 0x8183}, Elapsed: 0} // unsampled
	events <- Event{Kind: EventEnd}
	close(events)

	<-c.Done()
	assert.Equal(t, uint64(2), store.ReceiveTotal)
	assert.Equal(t, uint64(1), store.ReplyCode[0])
	assert.Equal(t, uint64(1), store.ReplyCode[3])
	require.NotNil(t, store.Histogram)
	assert.Equal(t, int64(1), store.Histogram.Count, "the unsampled (elapsed=0) response must not reach the histogram")
}

func TestConsumerRecordsFullMessageResponses(t *testing.T) {
	events := make(chan Event, 2)
	store := NewStatusStore()
	c := NewConsumer(events, store, 0, nil)
	go c.Run()

	msg := dns.Packet{
		Header:      dns.Header{Flags: 0x8180},
		Questions:   []dns.Question{{Name: "example.com", Type: 1}},
		Answers:     []dns.Record{{Type: 1}},
		Authorities: []dns.Record{{Type: 2}},
		Additionals: []dns.Record{{Type: 41}},
	}
	events <- Event{Kind: EventMessage, Message: msg, Elapsed: 0.005}
	events <- Event{Kind: EventEnd}
	close(events)

	<-c.Done()
	assert.Equal(t, uint64(1), store.ResponseQueryType[1])
	assert.Equal(t, uint64(1), store.AnswerType[1])
	assert.Equal(t, uint64(1), store.AuthorityType[2])
	assert.Equal(t, uint64(1), store.AdditionalType[41])
}

func TestConsumerEndFreezesEmptyHistogram(t *testing.T) {
	events := make(chan Event, 1)
	store := NewStatusStore()
	c := NewConsumer(events, store, 0, nil)
	go c.Run()

	events <- Event{Kind: EventEnd}
	close(events)

	<-c.Done()
	require.NotNil(t, store.Histogram)
	assert.Equal(t, int64(0), store.Histogram.Count)
}

func TestConsumerPublishesIntervalSnapshots(t *testing.T) {
	events := make(chan Event)
	store := NewStatusStore()
	snapshotCh := make(chan *StatusStore, 4)
	c := NewConsumer(events, store, 5*time.Millisecond, snapshotCh)
	go c.Run()

	select {
	case snap := <-snapshotCh:
		require.NotNil(t, snap)
		assert.Equal(t, uint64(0), snap.QueryTotal)
	case <-time.After(time.Second):
		t.Fatal("expected at least one interval snapshot before the timeout")
	}

	close(events)
}
