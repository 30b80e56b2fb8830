// Package tracer is a small tracing facade over OpenTelemetry so pipeline
// code can emit spans without importing otel everywhere.
//
// Implementations:
//   - NoopTracer for tests and when tracing is off
//   - OTelTracer for production
//   - Recorder for tests that assert on spans
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Span is an active span. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashAddress returns a short stable digest of a wallet address so traces can
// be correlated without carrying the address itself.
func HashAddress(address string) string {
	if address == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToLower(address)))
	return hex.EncodeToString(sum[:8])
}

// Span names.
const (
	SpanVerify         = "iam.verify"
	SpanVerifyGroup    = "iam.verify.group"
	SpanVerifyProvider = "iam.verify.provider"
	SpanIssue          = "iam.issue"
	SpanBanCheck       = "iam.bans.check"
)

// Attribute keys.
const (
	AttrAddressHash  = "address_hash"
	AttrProviderType = "provider.type"
	AttrPlatform     = "platform"
	AttrGroupSize    = "group.size"
	AttrGroupCount   = "group.count"
	AttrOutcome      = "outcome"
	AttrTimedOut     = "timed_out"
	AttrSignature    = "signature_type"
	AttrBatchSize    = "batch.size"
	AttrBanned       = "banned.count"
)
