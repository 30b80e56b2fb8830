// Package keys selects the issuer key material used for hashing and signing.
//
// Ed25519 issuance uses one static key. EIP-712 issuance rotates through
// numbered key versions, each with a start time; the current set is the
// newest NumConcurrent versions that have already started, oldest first.
package keys

import (
	"errors"
	"fmt"
	"time"

	"iam/internal/platform/config"
	dErrors "iam/pkg/domain-errors"
)

var ErrNoValidKeys = errors.New("No valid keys configured")

// Key is one EIP-712 key version.
type Key struct {
	Version   int
	Material  string
	StartTime time.Time
}

// Secret is the key material as used for hashing.
func (k Key) Secret() []byte {
	return []byte(k.Material)
}

// Manager holds the validated key configuration.
type Manager struct {
	ed25519       string
	eip712        []Key
	numConcurrent int
	now           func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager validates cfg. The EIP-712 run starts at the lowest configured
// version and ends at the first gap; start times inside the run must parse
// and strictly increase.
func NewManager(cfg config.Keys, opts ...Option) (*Manager, error) {
	m := &Manager{
		ed25519:       cfg.Ed25519JWK,
		numConcurrent: max(cfg.NumConcurrent, 1),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	run, err := contiguousRun(cfg.EIP712)
	if err != nil {
		return nil, dErrors.Wrapf(err, dErrors.CodeMisconfigured, "invalid EIP-712 key configuration: %v", err)
	}
	m.eip712 = run
	return m, nil
}

func contiguousRun(entries []config.EIP712Key) ([]Key, error) {
	var run []Key
	for _, e := range entries {
		if len(run) > 0 && e.Version != run[len(run)-1].Version+1 {
			break
		}
		start, err := parseStartTime(e.StartTime)
		if err != nil {
			return nil, fmt.Errorf("Invalid start time for key version %d", e.Version)
		}
		if len(run) > 0 {
			prev := run[len(run)-1]
			if !start.After(prev.StartTime) {
				return nil, fmt.Errorf("Key version %d start time %s must be after previous version %d start time %s",
					e.Version, start.Format(time.RFC3339), prev.Version, prev.StartTime.Format(time.RFC3339))
			}
		}
		run = append(run, Key{Version: e.Version, Material: e.Key, StartTime: start})
	}
	return run, nil
}

func parseStartTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable start time %q", raw)
}

// Ed25519 returns the static Ed25519 key material.
func (m *Manager) Ed25519() string {
	return m.ed25519
}

// CurrentEIP712 returns the keys valid right now, oldest first. A key whose
// start time is in the future ends the run, along with every later version.
func (m *Manager) CurrentEIP712() ([]Key, error) {
	now := m.now()
	started := 0
	for _, k := range m.eip712 {
		if k.StartTime.After(now) {
			break
		}
		started++
	}
	if started == 0 {
		return nil, ErrNoValidKeys
	}
	from := max(started-m.numConcurrent, 0)
	out := make([]Key, started-from)
	copy(out, m.eip712[from:started])
	return out, nil
}

// PrimaryEIP712 is the key EIP-712 credentials are signed and hashed with:
// the oldest of the current keys.
func (m *Manager) PrimaryEIP712() (Key, error) {
	current, err := m.CurrentEIP712()
	if err != nil {
		return Key{}, err
	}
	return current[0], nil
}
