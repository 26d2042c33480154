package portforward

import (
	"errors"
	"sync"
	"testing"
)

func newTestTable(t *testing.T, cfg Config) *Table {
	t.Helper()
	tbl, err := NewTable(cfg, nil, nil)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	return tbl
}

func sampleRule() Rule {
	return Rule{
		Name:     "ssh",
		SrcAddr:  "0.0.0.0",
		SrcPort:  2222,
		DstAddr:  "192.168.1.10",
		DstPort:  22,
		Protocol: TCP,
		Flags:    FlagEnabled,
	}
}

func TestAddGetRemoveRule(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{})
	id, err := tbl.AddRule(sampleRule())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id == 0 {
		t.Fatal("rule id zero")
	}

	got, err := tbl.GetRule(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "ssh" || got.DstPort != 22 {
		t.Fatalf("rule mismatch: %+v", got)
	}

	if err := tbl.RemoveRule(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := tbl.GetRule(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after remove: got %v, want %v", err, ErrNotFound)
	}
	if err := tbl.RemoveRule(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double remove: got %v, want %v", err, ErrNotFound)
	}
}

func TestAddRuleValidation(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{})
	if _, err := tbl.AddRule(Rule{Name: "no dst"}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("add invalid rule: got %v, want %v", err, ErrInvalidRule)
	}
}

func TestRuleLimit(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{MaxRules: 2})
	for i := 0; i < 2; i++ {
		if _, err := tbl.AddRule(sampleRule()); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if _, err := tbl.AddRule(sampleRule()); !errors.Is(err, ErrLimit) {
		t.Fatalf("add past limit: got %v, want %v", err, ErrLimit)
	}
}

func TestUpdatePreservesCounters(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{})
	id, err := tbl.AddRule(sampleRule())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tbl.ForwardPacket(id, make([]byte, 100)); err != nil {
		t.Fatalf("forward: %v", err)
	}

	updated := sampleRule()
	updated.DstPort = 2200
	if err := tbl.UpdateRule(id, updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := tbl.GetRule(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DstPort != 2200 {
		t.Fatalf("dst port not updated: %d", got.DstPort)
	}
	if got.PacketsForwarded != 1 || got.BytesForwarded != 100 {
		t.Fatalf("counters lost on update: %+v", got)
	}
}

func TestForwardPacketCounting(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{})
	id, err := tbl.AddRule(sampleRule())
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := tbl.ForwardPacket(id, make([]byte, 64)); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := tbl.ForwardPacket(id, make([]byte, 36)); err != nil {
		t.Fatalf("forward: %v", err)
	}

	s := tbl.Stats()
	if s.TotalPackets != 2 || s.TotalBytes != 100 {
		t.Fatalf("stats: %+v", s)
	}

	got, _ := tbl.GetRule(id)
	if got.PacketsForwarded != 2 || got.BytesForwarded != 100 {
		t.Fatalf("rule counters: %+v", got)
	}
	if got.LastActivity == 0 {
		t.Fatal("last activity not stamped")
	}
}

func TestForwardPacketDisabledRule(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{})
	id, err := tbl.AddRule(sampleRule())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tbl.DisableRule(id); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := tbl.ForwardPacket(id, []byte("x")); !errors.Is(err, ErrDisabled) {
		t.Fatalf("forward on disabled rule: got %v, want %v", err, ErrDisabled)
	}

	if err := tbl.EnableRule(id); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := tbl.ForwardPacket(id, []byte("x")); err != nil {
		t.Fatalf("forward after enable: %v", err)
	}
}

func TestPacketCallbackDrops(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{})
	id, err := tbl.AddRule(sampleRule())
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	dropErr := errors.New("blocked")
	tbl.RegisterPacketCallback(func(packet []byte) error {
		if len(packet) > 10 {
			return dropErr
		}
		return nil
	})

	if err := tbl.ForwardPacket(id, make([]byte, 64)); !errors.Is(err, dropErr) {
		t.Fatalf("oversized packet: got %v, want %v", err, dropErr)
	}
	if err := tbl.ForwardPacket(id, make([]byte, 4)); err != nil {
		t.Fatalf("small packet: %v", err)
	}

	s := tbl.Stats()
	if s.DroppedPackets != 1 {
		t.Fatalf("dropped packets: got %d, want 1", s.DroppedPackets)
	}
	// A dropped packet still counts as seen but not as forwarded by the rule.
	got, _ := tbl.GetRule(id)
	if got.PacketsForwarded != 1 {
		t.Fatalf("rule counted dropped packet: %+v", got)
	}
}

func TestEventCallback(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{})

	var mu sync.Mutex
	var events []string
	tbl.RegisterEventCallback(func(ruleID uint32, event string) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	id, err := tbl.AddRule(sampleRule())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tbl.DisableRule(id); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := tbl.RemoveRule(id); err != nil {
		t.Fatalf("remove: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"added", "disabled", "removed"}
	if len(events) != len(want) {
		t.Fatalf("events: got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events: got %v, want %v", events, want)
		}
	}
}

func TestTranslatePort(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{})
	pat := sampleRule()
	pat.Flags = FlagEnabled | FlagPAT
	pat.SrcPort = 8080
	pat.DstPort = 80
	if _, err := tbl.AddRule(pat); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := tbl.TranslatePort(8080)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got != 80 {
		t.Fatalf("translated port: got %d, want 80", got)
	}

	if _, err := tbl.TranslatePort(9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("translate unmapped port: got %v, want %v", err, ErrNotFound)
	}

	// A zero source port acts as a wildcard.
	wild := sampleRule()
	wild.Flags = FlagEnabled | FlagPAT
	wild.SrcPort = 0
	wild.DstPort = 443
	if _, err := tbl.AddRule(wild); err != nil {
		t.Fatalf("add wildcard: %v", err)
	}
	got, err = tbl.TranslatePort(9999)
	if err != nil {
		t.Fatalf("translate via wildcard: %v", err)
	}
	if got != 443 {
		t.Fatalf("wildcard translated port: got %d, want 443", got)
	}
}

func TestUPnPMappings(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{UPnPEnabled: true})
	id, err := tbl.AddUPnPMapping(6000, 6001, UDP, 0)
	if err != nil {
		t.Fatalf("add mapping: %v", err)
	}

	got, err := tbl.GetRule(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Flags&FlagUPnP == 0 || got.Flags&FlagEnabled == 0 {
		t.Fatalf("mapping flags: %#x", got.Flags)
	}
	if got.Flags&FlagPersistent == 0 {
		t.Fatal("zero duration mapping not persistent")
	}

	if err := tbl.RemoveUPnPMapping(6000, UDP); err != nil {
		t.Fatalf("remove mapping: %v", err)
	}
	if _, err := tbl.GetRule(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mapping survives removal: %v", err)
	}
}

func TestUPnPDisabled(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{})
	if _, err := tbl.AddUPnPMapping(6000, 6001, TCP, 0); !errors.Is(err, ErrDisabled) {
		t.Fatalf("mapping with upnp disabled: got %v, want %v", err, ErrDisabled)
	}
}

func TestResetStats(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(t, Config{})
	id, err := tbl.AddRule(sampleRule())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tbl.ForwardPacket(id, make([]byte, 10)); err != nil {
		t.Fatalf("forward: %v", err)
	}

	tbl.ResetStats()
	s := tbl.Stats()
	if s.TotalPackets != 0 || s.TotalBytes != 0 {
		t.Fatalf("counters survived reset: %+v", s)
	}
	if s.TotalRules != 1 {
		t.Fatalf("rule count reset: %+v", s)
	}
}
