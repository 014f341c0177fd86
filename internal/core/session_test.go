package core_test

import (
	"testing"
	"time"

	"tinred-agent/internal/core"
)

func TestSessionStore_PhoneNormalization(t *testing.T) {
	store := core.NewSessionStore(0)

	session, release := store.Acquire("51999888777@s.whatsapp.net")
	session.Slots.IdentityNumber = "12345678"
	release()

	// Same phone through a different transport spelling maps to the same
	// session.
	session, release = store.Acquire("51 999-888-777")
	defer release()

	if session.Slots.IdentityNumber != "12345678" {
		t.Errorf("normalized phones did not share a session")
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d sessions, want 1", store.Len())
	}
}

func TestSessionStore_FreshSessionIsIdle(t *testing.T) {
	store := core.NewSessionStore(0)
	session, release := store.Acquire("51999888777")
	defer release()

	if session.State != core.StateIdle {
		t.Errorf("fresh session state = %s, want IDLE", session.State)
	}
	if session.HasEmissionData() {
		t.Error("fresh session carries emission data")
	}
}

func TestSessionStore_ExpiryResetsSession(t *testing.T) {
	store := core.NewSessionStore(time.Minute)

	session, release := store.Acquire("51999888777")
	session.State = core.StateAwaitingConfirmation
	session.Slots.IdentityNumber = "12345678"
	session.LastActivity = time.Now().Add(-2 * time.Minute)
	release()

	session, release = store.Acquire("51999888777")
	defer release()

	if session.State != core.StateIdle || session.HasEmissionData() {
		t.Errorf("expired session not reset: state=%s", session.State)
	}
	if !session.PriorExpired {
		t.Error("reset after expiry did not mark PriorExpired")
	}
}

func TestSessionStore_ExpiryWithoutDataIsSilent(t *testing.T) {
	store := core.NewSessionStore(time.Minute)

	session, release := store.Acquire("51999888777")
	session.LastActivity = time.Now().Add(-2 * time.Minute)
	release()

	session, release = store.Acquire("51999888777")
	defer release()

	if session.PriorExpired {
		t.Error("empty expired session flagged PriorExpired")
	}
}

func TestSessionStore_SerializesSamePhone(t *testing.T) {
	store := core.NewSessionStore(0)

	_, release := store.Acquire("51999888777")

	acquired := make(chan struct{})
	go func() {
		_, r := store.Acquire("51999888777")
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second turn proceeded while the first held the session")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never acquired after release")
	}
}

func TestSessionStore_DifferentPhonesDoNotBlock(t *testing.T) {
	store := core.NewSessionStore(0)

	_, release := store.Acquire("51999888777")
	defer release()

	done := make(chan struct{})
	go func() {
		_, r := store.Acquire("51111222333")
		r()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated phone blocked behind another session's turn")
	}
}

func TestSessionStore_Sweep(t *testing.T) {
	store := core.NewSessionStore(time.Minute)

	session, release := store.Acquire("51999888777")
	session.LastActivity = time.Now().Add(-2 * time.Minute)
	release()

	if evicted := store.Sweep(time.Now()); evicted != 1 {
		t.Errorf("swept %d sessions, want 1", evicted)
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d sessions after sweep, want 0", store.Len())
	}
}

func TestSessionStore_SweepSkipsHeldSessions(t *testing.T) {
	store := core.NewSessionStore(time.Minute)

	session, release := store.Acquire("51999888777")
	session.LastActivity = time.Now().Add(-2 * time.Minute)
	defer release()

	if evicted := store.Sweep(time.Now()); evicted != 0 {
		t.Errorf("swept %d sessions while a turn was in flight", evicted)
	}
}
