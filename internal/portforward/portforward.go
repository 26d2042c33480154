// Package portforward keeps the port-forwarding rule table the bridged
// drivers consult. Rules, counters and callbacks are real; no packets are
// ever rewritten, that belongs to the kernel side.
package portforward

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samcharles93/nanobridge/internal/logger"
)

var (
	ErrInvalidRule = errors.New("portforward: invalid rule")
	ErrNotFound    = errors.New("portforward: rule not found")
	ErrLimit       = errors.New("portforward: rule limit reached")
	ErrDisabled    = errors.New("portforward: subsystem disabled")
)

// Protocol selects which transport a rule applies to.
type Protocol uint32

const (
	TCP Protocol = iota
	UDP
	AnyProtocol
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return "any"
	}
}

// Rule flags.
const (
	FlagEnabled       = 0x0001
	FlagPersistent    = 0x0002
	FlagNAT           = 0x0004
	FlagPAT           = 0x0008
	FlagUPnP          = 0x0010
	FlagBidirectional = 0x0020
)

// Rule is one forwarding entry. A zero SrcPort or a "0.0.0.0" SrcAddr
// matches any source.
type Rule struct {
	ID       uint32   `json:"id"`
	Name     string   `json:"name"`
	SrcAddr  string   `json:"src_addr"`
	SrcPort  uint16   `json:"src_port"`
	DstAddr  string   `json:"dst_addr"`
	DstPort  uint16   `json:"dst_port"`
	Protocol Protocol `json:"protocol"`
	Flags    uint32   `json:"flags"`

	PacketsForwarded uint64 `json:"packets_forwarded"`
	BytesForwarded   uint64 `json:"bytes_forwarded"`
	LastActivity     int64  `json:"last_activity"`
}

// Stats aggregates table-wide counters.
type Stats struct {
	TotalRules     uint64 `json:"total_rules"`
	TotalPackets   uint64 `json:"total_packets"`
	TotalBytes     uint64 `json:"total_bytes"`
	DroppedPackets uint64 `json:"dropped_packets"`
	Errors         uint64 `json:"errors"`
}

// PacketFunc inspects a packet before it is counted as forwarded. A non-nil
// error drops the packet: the dropped counter is bumped and processing of
// that packet stops.
type PacketFunc func(packet []byte) error

// EventFunc observes rule lifecycle events ("added", "removed", "updated",
// "enabled", "disabled").
type EventFunc func(ruleID uint32, event string)

// Config bounds the table.
type Config struct {
	MaxRules    int
	UPnPEnabled bool
}

// Table is the rule table. All operations are safe for concurrent use.
type Table struct {
	mu       sync.Mutex
	cfg      Config
	rules    []*Rule // insertion order preserved for listing
	nextID   uint32
	stats    Stats
	packetCB PacketFunc
	eventCB  EventFunc
	store    *Store
	log      logger.Logger
}

// NewTable creates a rule table. A non-nil store is loaded immediately and
// kept in sync on every mutation.
func NewTable(cfg Config, store *Store, log logger.Logger) (*Table, error) {
	if cfg.MaxRules <= 0 {
		cfg.MaxRules = 256
	}
	if log == nil {
		log = logger.Default()
	}

	t := &Table{
		cfg:    cfg,
		nextID: 1,
		store:  store,
		log:    log.With("component", "portforward"),
	}

	if store != nil {
		rules, err := store.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, r := range rules {
			rule := r
			t.rules = append(t.rules, &rule)
			if rule.ID >= t.nextID {
				t.nextID = rule.ID + 1
			}
		}
		t.stats.TotalRules = uint64(len(t.rules))
	}
	return t, nil
}

// AddRule validates and inserts a rule, assigning its id. The input value is
// not retained.
func (t *Table) AddRule(r Rule) (uint32, error) {
	if err := validateRule(&r); err != nil {
		return 0, err
	}

	t.mu.Lock()
	if len(t.rules) >= t.cfg.MaxRules {
		t.mu.Unlock()
		return 0, ErrLimit
	}

	r.ID = t.nextID
	t.nextID++
	rule := r
	t.rules = append(t.rules, &rule)
	t.stats.TotalRules++

	if err := t.persistLocked(&rule); err != nil {
		t.mu.Unlock()
		return rule.ID, err
	}
	cb := t.eventCB
	t.mu.Unlock()

	t.log.Info("rule added", "id", rule.ID, "name", rule.Name)
	if cb != nil {
		cb(rule.ID, "added")
	}
	return rule.ID, nil
}

// RemoveRule deletes a rule by id.
func (t *Table) RemoveRule(id uint32) error {
	t.mu.Lock()
	idx := t.indexLocked(id)
	if idx < 0 {
		t.mu.Unlock()
		return ErrNotFound
	}
	t.rules = append(t.rules[:idx], t.rules[idx+1:]...)
	t.stats.TotalRules--
	if t.store != nil {
		if err := t.store.Delete(id); err != nil {
			t.mu.Unlock()
			return err
		}
	}
	cb := t.eventCB
	t.mu.Unlock()

	t.log.Info("rule removed", "id", id)
	if cb != nil {
		cb(id, "removed")
	}
	return nil
}

// UpdateRule replaces the configuration of an existing rule, preserving its
// id and counters.
func (t *Table) UpdateRule(id uint32, r Rule) error {
	if err := validateRule(&r); err != nil {
		return err
	}

	t.mu.Lock()
	idx := t.indexLocked(id)
	if idx < 0 {
		t.mu.Unlock()
		return ErrNotFound
	}
	old := t.rules[idx]
	r.ID = id
	r.PacketsForwarded = old.PacketsForwarded
	r.BytesForwarded = old.BytesForwarded
	r.LastActivity = old.LastActivity
	*old = r

	if err := t.persistLocked(old); err != nil {
		t.mu.Unlock()
		return err
	}
	cb := t.eventCB
	t.mu.Unlock()

	if cb != nil {
		cb(id, "updated")
	}
	return nil
}

// GetRule returns a copy of the rule with the given id.
func (t *Table) GetRule(id uint32) (Rule, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexLocked(id)
	if idx < 0 {
		return Rule{}, ErrNotFound
	}
	return *t.rules[idx], nil
}

// ListRules returns copies of all rules in insertion order.
func (t *Table) ListRules() []Rule {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		out[i] = *r
	}
	return out
}

// EnableRule sets the enabled flag on a rule.
func (t *Table) EnableRule(id uint32) error {
	return t.setEnabled(id, true)
}

// DisableRule clears the enabled flag on a rule.
func (t *Table) DisableRule(id uint32) error {
	return t.setEnabled(id, false)
}

func (t *Table) setEnabled(id uint32, enabled bool) error {
	t.mu.Lock()
	idx := t.indexLocked(id)
	if idx < 0 {
		t.mu.Unlock()
		return ErrNotFound
	}
	r := t.rules[idx]
	if enabled {
		r.Flags |= FlagEnabled
	} else {
		r.Flags &^= FlagEnabled
	}
	if err := t.persistLocked(r); err != nil {
		t.mu.Unlock()
		return err
	}
	cb := t.eventCB
	t.mu.Unlock()

	event := "disabled"
	if enabled {
		event = "enabled"
	}
	if cb != nil {
		cb(id, event)
	}
	return nil
}

// Stats returns the current table counters.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// ResetStats zeroes both the table-wide and the per-rule counters. The live
// rule count survives the reset.
func (t *Table) ResetStats() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = Stats{TotalRules: uint64(len(t.rules))}
	for _, r := range t.rules {
		r.PacketsForwarded = 0
		r.BytesForwarded = 0
	}
}

// RegisterPacketCallback installs the packet inspection hook.
func (t *Table) RegisterPacketCallback(cb PacketFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packetCB = cb
}

// RegisterEventCallback installs the rule lifecycle hook.
func (t *Table) RegisterEventCallback(cb EventFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eventCB = cb
}

// ForwardPacket accounts one packet against the rule with the given id. The
// packet callback, if registered, runs first; a callback error drops the
// packet and is returned to the caller.
func (t *Table) ForwardPacket(ruleID uint32, packet []byte) error {
	if len(packet) == 0 {
		return ErrInvalidRule
	}

	t.mu.Lock()
	idx := t.indexLocked(ruleID)
	if idx < 0 {
		t.mu.Unlock()
		return ErrNotFound
	}
	r := t.rules[idx]
	if r.Flags&FlagEnabled == 0 {
		t.mu.Unlock()
		return ErrDisabled
	}

	t.stats.TotalPackets++
	t.stats.TotalBytes += uint64(len(packet))

	if t.packetCB != nil {
		if err := t.packetCB(packet); err != nil {
			t.stats.DroppedPackets++
			t.mu.Unlock()
			return err
		}
	}

	r.PacketsForwarded++
	r.BytesForwarded += uint64(len(packet))
	r.LastActivity = time.Now().Unix()
	t.mu.Unlock()
	return nil
}

// TranslatePort resolves a source port through the first enabled PAT rule,
// returning the mapped destination port. Port zero on a rule matches any
// source port.
func (t *Table) TranslatePort(srcPort uint16) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.rules {
		if r.Flags&FlagEnabled == 0 || r.Flags&FlagPAT == 0 {
			continue
		}
		if r.SrcPort == srcPort || r.SrcPort == 0 {
			return r.DstPort, nil
		}
	}
	return 0, ErrNotFound
}

// AddUPnPMapping creates a UPnP-flagged rule mapping an external port onto a
// local one. A zero duration marks the mapping persistent.
func (t *Table) AddUPnPMapping(externalPort, internalPort uint16, proto Protocol, duration uint32) (uint32, error) {
	if !t.cfg.UPnPEnabled {
		return 0, ErrDisabled
	}
	r := Rule{
		Name:     fmt.Sprintf("upnp_%d_%d", externalPort, internalPort),
		SrcAddr:  "0.0.0.0",
		SrcPort:  externalPort,
		DstAddr:  "127.0.0.1",
		DstPort:  internalPort,
		Protocol: proto,
		Flags:    FlagEnabled | FlagUPnP,
	}
	if duration == 0 {
		r.Flags |= FlagPersistent
	}
	return t.AddRule(r)
}

// RemoveUPnPMapping removes the UPnP rule for an external port and protocol.
func (t *Table) RemoveUPnPMapping(externalPort uint16, proto Protocol) error {
	if !t.cfg.UPnPEnabled {
		return ErrDisabled
	}

	t.mu.Lock()
	var id uint32
	found := false
	for _, r := range t.rules {
		if r.Flags&FlagUPnP != 0 && r.SrcPort == externalPort && r.Protocol == proto {
			id = r.ID
			found = true
			break
		}
	}
	t.mu.Unlock()

	if !found {
		return ErrNotFound
	}
	return t.RemoveRule(id)
}

// Close releases the backing store, if any.
func (t *Table) Close() error {
	if t.store != nil {
		return t.store.Close()
	}
	return nil
}

func (t *Table) indexLocked(id uint32) int {
	for i, r := range t.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (t *Table) persistLocked(r *Rule) error {
	if t.store == nil {
		return nil
	}
	return t.store.Upsert(*r)
}

func validateRule(r *Rule) error {
	if r == nil || r.DstAddr == "" || r.DstPort == 0 {
		return ErrInvalidRule
	}
	if r.Protocol > AnyProtocol {
		return ErrInvalidRule
	}
	return nil
}
