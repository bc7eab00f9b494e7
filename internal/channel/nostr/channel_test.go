package nostr

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"agentcore/internal/store"
	"agentcore/pkg/channel"
)

// testPrivKey is an arbitrary 32-byte hex string usable as a secp256k1
// scalar for these tests; it is not tied to any real identity.
const testPrivKey = "5ee1c8000ab28edd64d74a7d951ac2dd559814887b1b9e1cb6d37a3fcde7cb10"

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	c, err := New(Config{Relays: []string{"wss://relay.test"}, PrivateKey: testPrivKey}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestChannel_ID(t *testing.T) {
	c := newTestChannel(t)
	if c.ID() != channel.ChannelTypeNostr {
		t.Errorf("ID() = %v, want %v", c.ID(), channel.ChannelTypeNostr)
	}
}

func TestChannel_InitialState(t *testing.T) {
	c := newTestChannel(t)
	if c.State() != channel.StateDisabled {
		t.Errorf("State() = %v, want disabled", c.State())
	}
}

func TestNormalizePubkey(t *testing.T) {
	c := newTestChannel(t)
	if got := normalizePubkey(c.pubkeyHex); got != c.pubkeyHex {
		t.Errorf("normalizePubkey(hex) = %q, want unchanged %q", got, c.pubkeyHex)
	}
}

func TestHandleEvent_DecryptsAndDispatches(t *testing.T) {
	senderSk := testPrivKey[1:] + "0" // distinct arbitrary scalar
	senderPk, err := nostr.GetPublicKey(senderSk)
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}

	c := newTestChannel(t)
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	c.kv = db // seen event ids are recorded here

	shared, err := nip04.ComputeSharedSecret(c.pubkeyHex, senderSk)
	if err != nil {
		t.Fatalf("ComputeSharedSecret() error = %v", err)
	}
	ciphertext, err := nip04.Encrypt("hello agent", shared)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	var received *channel.InboundMessage
	c.OnMessage(func(ctx context.Context, msg channel.InboundMessage) error {
		received = &msg
		return nil
	})

	ev := &nostr.Event{
		ID:        "evt1",
		PubKey:    senderPk,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      nostr.KindEncryptedDirectMessage,
		Content:   ciphertext,
	}
	c.handleEvent(context.Background(), ev)

	if received == nil {
		t.Fatal("expected handler to fire")
	}
	if received.Content != "hello agent" {
		t.Errorf("Content = %q, want %q", received.Content, "hello agent")
	}

	// A replayed event with the same id is suppressed.
	received = nil
	c.handleEvent(context.Background(), ev)
	if received != nil {
		t.Error("duplicate event id should not be redelivered")
	}
}

func TestHandleEvent_OwnerGating(t *testing.T) {
	senderSk := testPrivKey[1:] + "0"
	senderPk, err := nostr.GetPublicKey(senderSk)
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}

	c := newTestChannel(t)
	c.config.OwnerPubkeys = []string{"someone-else"}

	shared, _ := nip04.ComputeSharedSecret(c.pubkeyHex, senderSk)
	ciphertext, _ := nip04.Encrypt("hi", shared)

	var received *channel.InboundMessage
	c.OnMessage(func(ctx context.Context, msg channel.InboundMessage) error {
		received = &msg
		return nil
	})

	ev := &nostr.Event{
		ID:      "evt2",
		PubKey:  senderPk,
		Kind:    nostr.KindEncryptedDirectMessage,
		Content: ciphertext,
	}
	c.handleEvent(context.Background(), ev)
	if received != nil {
		t.Error("handler should not fire for a non-owner pubkey")
	}
}
