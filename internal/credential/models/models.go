// Package models defines the fact records hashed into credentials and the
// verifiable credential documents returned to clients.
package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// HashVersion tags the hashing scheme (algorithm and canonical content).
const HashVersion = "v0.0.0"

// RecordVersion is the version field written into every fact record.
const RecordVersion = "0.0.0"

// TimeFormat renders timestamps with millisecond precision in UTC.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Record keys with special meaning.
const (
	FieldType    = "type"
	FieldVersion = "version"
	FieldPII     = "pii"
)

// FactRecord is the set of facts a credential attests to. It always carries
// a type and a version; provider record fields are merged over them.
type FactRecord map[string]string

// NewFactRecord builds the record for a verified label. When the provider
// reported a pii field the type becomes "<label>#<pii>" so credentials for
// different sub-claims of one provider do not collide.
func NewFactRecord(label string, record map[string]string) FactRecord {
	t := label
	if pii := record[FieldPII]; pii != "" {
		t = label + "#" + pii
	}
	out := make(FactRecord, len(record)+2)
	out[FieldType] = t
	out[FieldVersion] = RecordVersion
	maps.Copy(out, record)
	return out
}

func (r FactRecord) Type() string {
	return r[FieldType]
}

// SortedPairs returns [key, value] pairs ordered by key.
func (r FactRecord) SortedPairs() [][]string {
	keys := slices.Sorted(maps.Keys(r))
	pairs := make([][]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, []string{k, r[k]})
	}
	return pairs
}

// CanonicalJSON is the JSON array of SortedPairs, without HTML escaping, so
// equal records always serialize to equal bytes.
func (r FactRecord) CanonicalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.SortedPairs()); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Digest is base64(SHA-256(secret || CanonicalJSON)).
func (r FactRecord) Digest(secret []byte) (string, error) {
	canonical, err := r.CanonicalJSON()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(secret)
	h.Write(canonical)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// Hash is Digest prefixed with HashVersion, the credentialSubject.hash value.
func (r FactRecord) Hash(secret []byte) (string, error) {
	d, err := r.Digest(secret)
	if err != nil {
		return "", err
	}
	return HashVersion + ":" + d, nil
}

// Credential is a W3C verifiable credential as issued by this service.
type Credential struct {
	Context           []string          `json:"@context"`
	Type              []string          `json:"type"`
	Issuer            string            `json:"issuer"`
	IssuanceDate      string            `json:"issuanceDate"`
	ExpirationDate    string            `json:"expirationDate"`
	CredentialSubject CredentialSubject `json:"credentialSubject"`
	Proof             *Proof            `json:"proof,omitempty"`
}

// Expired reports whether the credential is past its expirationDate at now.
// Unparseable dates count as expired.
func (c Credential) Expired(now time.Time) bool {
	exp, err := time.Parse(time.RFC3339Nano, c.ExpirationDate)
	if err != nil {
		return true
	}
	return !exp.After(now)
}

// CredentialSubject is what the credential says about the address. Context
// is an object for EIP-712 credentials and an array for Ed25519 ones.
type CredentialSubject struct {
	Context    any      `json:"@context"`
	ID         string   `json:"id"`
	Provider   string   `json:"provider"`
	Hash       string   `json:"hash,omitempty"`
	Nullifiers []string `json:"nullifiers,omitempty"`
	Challenge  string   `json:"challenge,omitempty"`
	Address    string   `json:"address,omitempty"`
}

// BanKeys are the values checked against the ban registry: the nullifiers,
// or the hash for credentials issued without them.
func (s CredentialSubject) BanKeys() []string {
	if len(s.Nullifiers) > 0 {
		return s.Nullifiers
	}
	if s.Hash == "" {
		return nil
	}
	return []string{s.Hash}
}

// Proof is the signature block attached by a signer.
type Proof struct {
	Type               string          `json:"type"`
	Created            string          `json:"created"`
	ProofPurpose       string          `json:"proofPurpose"`
	VerificationMethod string          `json:"verificationMethod"`
	JWS                string          `json:"jws,omitempty"`
	ProofValue         string          `json:"proofValue,omitempty"`
	EIP712             json.RawMessage `json:"eip712,omitempty"`
}

// CredentialResponseBody is the per-type result returned to the caller:
// either a record and credential, or a code and error.
type CredentialResponseBody struct {
	Record     FactRecord  `json:"record,omitempty"`
	Credential *Credential `json:"credential,omitempty"`
	Code       int         `json:"code,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func (b CredentialResponseBody) HasCredential() bool {
	return b.Credential != nil
}

// Failed reports a body carrying an error code.
func (b CredentialResponseBody) Failed() bool {
	return b.Code != 0 && b.Error != ""
}

// FormatTime renders t in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
