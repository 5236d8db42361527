package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobd/jobd/internal/manifest"
)

func TestNotifierDeliversToSubscriber(t *testing.T) {
	n := NewNotifier()
	ch, unsubscribe := n.Subscribe()
	defer unsubscribe()

	n.Publish(Notification{Label: "a", State: "Running"})

	select {
	case note := <-ch:
		assert.Equal(t, Notification{Label: "a", State: "Running"}, note)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestNotifierSkipsUnsubscribed(t *testing.T) {
	n := NewNotifier()
	ch, unsubscribe := n.Subscribe()
	unsubscribe()

	n.Publish(Notification{Label: "a", State: "Running"})

	select {
	case note := <-ch:
		t.Fatalf("unsubscribed listener received %+v", note)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnablePublishesStateChange(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.reg.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true"})
	require.NoError(t, err)

	ch, unsubscribe := d.notifier.Subscribe()
	defer unsubscribe()

	_, err = d.enable(rawParams(t, labelParams{Label: "a"}))
	require.NoError(t, err)

	select {
	case note := <-ch:
		assert.Equal(t, "a", note.Label)
		assert.Equal(t, "Running", note.State)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for enable notification")
	}
}
