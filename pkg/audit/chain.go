// Package audit implements the tamper-evident audit hash chain: each
// entry's signature covers its predecessor's signature, so altering or
// removing a historical entry breaks verification for every entry after
// it. Grounded on internal/app/httpapi/audit.go's
// (sink interface, file/Postgres sinks, bounded in-memory ring),
// generalized from a best-effort HTTP access log into a signed chain.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const genesisEventType = "chain.genesis"

// securityCriticalEventTypes additionally emit an alert through Alerter
// when appended (e.g. repeated auth failures, privilege escalation,
// sensitive deletion).
var securityCriticalEventTypes = map[string]bool{
	"auth.failure.threshold":    true,
	"auth.privilege_escalate":   true,
	"resource.delete.sensitive": true,
}

// Alerter receives a notification when a security-critical event is
// appended to the chain. Satisfied by pkg/telemetry's Bus.
type Alerter interface {
	Emit(eventName string, measurements map[string]float64, metadata map[string]any)
}

type noopAlerter struct{}

func (noopAlerter) Emit(string, map[string]float64, map[string]any) {}

// VerifyResult is the outcome of VerifyIntegrity.
type VerifyResult struct {
	VerifiedEntries int
	ChainIntact     bool
	InvalidEntryID  int64
}

// Chain is a single-writer actor over an append-only signed log. All
// mutation happens under mu, so Append/Rotate never interleave with each
// other or with a concurrent VerifyIntegrity scan.
type Chain struct {
	mu sync.Mutex

	signingKey []byte
	sink       Sink
	alerter    Alerter

	entries  []Entry
	nextID   int64
	lastHash string
}

// Config configures a new Chain.
type Config struct {
	SigningKey []byte
	Sink       Sink
	Alerter    Alerter
}

// New creates a Chain and writes its genesis entry. SigningKey must be
// non-empty; it is never logged or included in any entry payload.
func New(cfg Config) (*Chain, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("audit: signing key is required")
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NewMemorySink()
	}
	alerter := cfg.Alerter
	if alerter == nil {
		alerter = noopAlerter{}
	}

	c := &Chain{
		signingKey: cfg.SigningKey,
		sink:       sink,
		alerter:    alerter,
	}

	genesis := Entry{
		ID:           0,
		Timestamp:    time.Now().UTC(),
		EventType:    genesisEventType,
		Actor:        "system",
		EventData:    map[string]any{},
		PreviousHash: "",
	}
	signed, err := c.sign(genesis)
	if err != nil {
		return nil, err
	}
	c.entries = append(c.entries, signed)
	c.nextID = 1
	c.lastHash = signed.Signature
	return c, nil
}

// Append adds a new entry to the chain, sanitizing eventData first, and
// persists it to the configured sink. Security-critical event types also
// emit an alert.
func (c *Chain) Append(ctx context.Context, eventType, actor, tenantID string, eventData map[string]any) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{
		ID:           c.nextID,
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		Actor:        actor,
		TenantID:     tenantID,
		EventData:    sanitizeEventData(eventData),
		PreviousHash: c.lastHash,
	}
	signed, err := c.sign(entry)
	if err != nil {
		return Entry{}, err
	}

	if err := c.sink.Write(ctx, signed); err != nil {
		return Entry{}, fmt.Errorf("audit: write sink: %w", err)
	}

	c.entries = append(c.entries, signed)
	c.nextID++
	c.lastHash = signed.Signature

	if securityCriticalEventTypes[eventType] {
		c.alerter.Emit("audit.security_critical", map[string]float64{"count": 1}, map[string]any{
			"event_type": eventType,
			"actor":      actor,
			"tenant_id":  tenantID,
		})
	}

	return signed, nil
}

// VerifyIntegrity re-derives signatures for entries in [from, to]
// (inclusive, nil means unbounded) in timestamp order, halting at the
// first signature mismatch or broken previous_hash link.
func (c *Chain) VerifyIntegrity(from, to *time.Time) VerifyResult {
	c.mu.Lock()
	entries := make([]Entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	verified := 0
	for i, entry := range entries {
		if from != nil && entry.Timestamp.Before(*from) {
			continue
		}
		if to != nil && entry.Timestamp.After(*to) {
			break
		}

		if i > 0 && entry.PreviousHash != entries[i-1].Signature {
			return VerifyResult{VerifiedEntries: verified, ChainIntact: false, InvalidEntryID: entry.ID}
		}

		expected, err := c.computeSignature(entry)
		if err != nil || expected != entry.Signature {
			return VerifyResult{VerifiedEntries: verified, ChainIntact: false, InvalidEntryID: entry.ID}
		}
		verified++
	}

	return VerifyResult{VerifiedEntries: verified, ChainIntact: true}
}

// Rotate archives every entry currently held (via the sink's own
// mechanism, e.g. a file sink dumping JSONL) and starts a fresh in-memory
// window whose first entry bridges to the archived head.
func (c *Chain) Rotate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bridge := Entry{
		ID:           c.nextID,
		Timestamp:    time.Now().UTC(),
		EventType:    "chain.rotate",
		Actor:        "system",
		EventData:    map[string]any{"archived_entries": len(c.entries)},
		PreviousHash: c.lastHash,
	}
	signed, err := c.sign(bridge)
	if err != nil {
		return err
	}
	if err := c.sink.Write(ctx, signed); err != nil {
		return fmt.Errorf("audit: write rotation bridge: %w", err)
	}

	c.entries = []Entry{signed}
	c.nextID++
	c.lastHash = signed.Signature
	return nil
}

func (c *Chain) sign(entry Entry) (Entry, error) {
	sig, err := c.computeSignature(entry)
	if err != nil {
		return Entry{}, err
	}
	entry.Signature = sig
	return entry, nil
}

func (c *Chain) computeSignature(entry Entry) (string, error) {
	entry.Signature = ""
	payload, err := canonicalJSON(entry)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize entry: %w", err)
	}
	mac := hmac.New(sha256.New, c.signingKey)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
