package ratelimit

import (
	"errors"
	"testing"
	"time"

	"topicgate/internal/policy"
)

func TestResourceGroup_NotifiesRegisteredTopics(t *testing.T) {
	g := NewResourceGroup("gold", policy.PublishRate{MessagesPerSecond: 5})
	defer g.close()

	fired := make(chan string, 4)
	g.RegisterCallback("t1", func() { fired <- "t1" })
	g.RegisterCallback("t2", func() { fired <- "t2" })
	t3 := g.RegisterCallback("t3", func() { fired <- "t3" })
	g.UnregisterCallback(t3)

	if !g.TryAcquire(5, 0) {
		t.Fatal("first batch refused")
	}
	if g.TryAcquire(1, 0) {
		t.Fatal("over budget batch admitted")
	}
	if !g.IsPublishRateExceeded() {
		t.Error("IsPublishRateExceeded = false after refusal")
	}

	got := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case id := <-fired:
			got[id] = true
		case <-deadline:
			t.Fatalf("callbacks fired for %v, want t1 and t2", got)
		}
	}
	if got["t3"] {
		t.Error("unregistered callback fired")
	}
}

func TestResourceGroupManager_Lifecycle(t *testing.T) {
	m := NewResourceGroupManager(nil)

	g, err := m.Upsert("silver", policy.PublishRate{MessagesPerSecond: 100})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := m.Upsert("", policy.PublishRate{}); err == nil {
		t.Error("Upsert with empty name should fail")
	}

	again, _ := m.Upsert("silver", policy.PublishRate{MessagesPerSecond: 200})
	if again != g {
		t.Error("Upsert on an existing name should update in place")
	}
	if g.Rate().MessagesPerSecond != 200 {
		t.Errorf("rate = %v, want 200 msgs", g.Rate())
	}

	reg := g.RegisterCallback("persistent://a/b/c", func() {})
	if err := m.Delete("silver"); !errors.Is(err, ErrResourceGroupInUse) {
		t.Errorf("Delete in use = %v, want ErrResourceGroupInUse", err)
	}

	list := m.List()
	if len(list) != 1 || list[0].Name != "silver" || len(list[0].Topics) != 1 {
		t.Errorf("List = %+v", list)
	}

	g.UnregisterCallback(reg)
	if err := m.Delete("silver"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := m.Get("silver"); ok {
		t.Error("group still present after Delete")
	}
	if err := m.Delete("silver"); !errors.Is(err, ErrResourceGroupNotFound) {
		t.Errorf("second Delete = %v, want ErrResourceGroupNotFound", err)
	}
}

func TestResourceGroup_StaleUnregisterKeepsReplacement(t *testing.T) {
	g := NewResourceGroup("gold", policy.PublishRate{MessagesPerSecond: 1})
	defer g.close()

	const id = "persistent://a/b/c"
	old := g.RegisterCallback(id, func() {})
	current := g.RegisterCallback(id, func() {})
	if old.ID() != id || current.ID() != id {
		t.Fatalf("registration ids = %q, %q", old.ID(), current.ID())
	}

	g.UnregisterCallback(old)
	if members := g.Members(); len(members) != 1 || members[0] != id {
		t.Fatalf("replaced registration removed the current one: members = %v", members)
	}

	g.UnregisterCallback(current)
	if members := g.Members(); len(members) != 0 {
		t.Errorf("members after unregister = %v", members)
	}
	g.UnregisterCallback(nil)
}
