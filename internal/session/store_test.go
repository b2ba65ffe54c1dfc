package session

import (
	"ask4rent/internal/model"
	"ask4rent/internal/store"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestStoreReadMissing(t *testing.T) {
	st := NewStore(store.NewMemory(), clock.NewMock(), time.Minute)
	if _, err := st.Read(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("want ErrNoSession, got %v", err)
	}
}

func TestStoreExpiredRecordIsDeleted(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	clk := clock.NewMock()
	st := NewStore(kv, clk, time.Minute)
	if _, err := st.Create(ctx, "abc"); err != nil {
		t.Fatalf("create: %v", err)
	}
	clk.Add(time.Minute)
	if _, err := st.Read(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("want ErrNoSession at exactly ttl, got %v", err)
	}
	if _, err := kv.Get(ctx, SessionKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expired record should be removed, got %v", err)
	}
}

func TestStoreCorruptRecord(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	_ = kv.Set(ctx, SessionKey, []byte("{not json"))
	st := NewStore(kv, clock.NewMock(), time.Minute)
	if _, err := st.Read(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("want ErrNoSession, got %v", err)
	}
	if _, err := kv.Get(ctx, SessionKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("corrupt record should be removed")
	}
}

func TestStoreTouchSlides(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	st := NewStore(store.NewMemory(), clk, time.Minute)
	created, _ := st.Create(ctx, "abc")
	clk.Add(40 * time.Second)
	s, err := st.Touch(ctx)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !s.LastActivityAt.After(created.LastActivityAt) {
		t.Fatalf("last activity not advanced")
	}
	clk.Add(40 * time.Second)
	got, err := st.Read(ctx)
	if err != nil || got.Token != "abc" {
		t.Fatalf("session should survive past original ttl: %+v %v", got, err)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at changed")
	}
}

func TestStoreUser(t *testing.T) {
	ctx := context.Background()
	st := NewStore(store.NewMemory(), clock.NewMock(), time.Minute)
	if _, ok, err := st.LoadUser(ctx); ok || err != nil {
		t.Fatalf("expected no user, ok=%v err=%v", ok, err)
	}
	if err := st.SaveUser(ctx, model.User{Username: "ana", AccessToken: "jwt"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	u, ok, _ := st.LoadUser(ctx)
	if !ok || u.AccessToken != "jwt" {
		t.Fatalf("unexpected user %+v", u)
	}
	_ = st.ClearUser(ctx)
	if _, ok, _ := st.LoadUser(ctx); ok {
		t.Fatalf("user should be cleared")
	}
}
