// Package payload builds and encodes the per-host instruction set handed to
// the remote segment-control program.
//
// One Payload is produced per host per dispatch wave. Records are keyed by
// port because that is what distinguishes co-located instances on a host.
// The encoded form is versioned JSON wrapped in unpadded base64url so it can
// travel as a single shell argument or HTTP field.
package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Version is the payload schema version written by Encode.
const Version = 1

// Start methods recorded in the payload envelope.
const (
	MethodPrimaryOrMirror = "primary-or-mirror"
	MethodMirrorless      = "mirrorless"
)

// Target modes a segment can be asked to transition into.
const (
	ModePrimary    = "primary"
	ModeMirror     = "mirror"
	ModeMirrorless = "mirrorless"
)

var (
	// ErrUnsupportedVersion is returned by Decode for payloads written by a
	// newer or unknown encoder.
	ErrUnsupportedVersion = errors.New("unsupported payload version")

	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

// TransitionRecord is the instruction for one segment.
type TransitionRecord struct {
	CurrentMode    string `json:"currentMode"`
	TargetMode     string `json:"targetMode"`
	HostName       string `json:"hostName"`
	DataDirectory  string `json:"dataDirectory"`
	PeerAddress    string `json:"peerAddress,omitempty"`
	DbID           int    `json:"dbid"`
	Port           int    `json:"port"`
	PeerPort       int    `json:"peerPort,omitempty"`
	PeerPMPort     int    `json:"peerPMPort,omitempty"`
	FullResyncFlag bool   `json:"fullResyncFlag"`
}

// Payload is everything one host needs to start its requested segments.
type Payload struct {
	Records        map[int]TransitionRecord `json:"records"`
	DispatchID     string                   `json:"dispatchId"`
	Era            string                   `json:"era,omitempty"`
	StartMethod    string                   `json:"startMethod"`
	HostName       string                   `json:"hostName"`
	Version        int                      `json:"version"`
	TimeoutSeconds int                      `json:"timeoutSeconds,omitempty"`
}

// Timeout returns the per-segment start timeout, or def when unset.
func (p *Payload) Timeout(def time.Duration) time.Duration {
	if p.TimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Encode serializes p for transport.
func Encode(p *Payload) (string, error) {
	if p == nil {
		return "", errors.New("nil payload")
	}
	if p.Version == 0 {
		p.Version = Version
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode reverses Encode.
func Decode(encoded string) (*Payload, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	for port, rec := range p.Records {
		if rec.Port != port {
			return nil, fmt.Errorf("payload record for port %d describes port %d", port, rec.Port)
		}
	}
	return &p, nil
}
