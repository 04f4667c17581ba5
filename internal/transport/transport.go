// Package transport defines the peer-transport primitive the relay core
// consumes: link negotiation with a nearby device, group membership and
// peer rediscovery. The platform implementation lives outside this module;
// LAN and Fake are the two implementations shipped here.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Code is a platform failure code returned by peer-transport calls.
type Code int

const (
	CodeInternalError     Code = 0
	CodeUnsupported       Code = 1
	CodeBusy              Code = 2
	CodeNoServiceRequests Code = 3
)

func (c Code) String() string {
	switch c {
	case CodeInternalError:
		return "ERROR"
	case CodeUnsupported:
		return "P2P_UNSUPPORTED"
	case CodeBusy:
		return "BUSY"
	case CodeNoServiceRequests:
		return "NO_SERVICE_REQUESTS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(c))
	}
}

// Error is the uniform failure of every transport operation.
type Error struct {
	Op   string
	Code Code
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Code)
}

// IsTransient reports whether the platform is mid-transition and the call
// is worth retrying.
func (e *Error) IsTransient() bool {
	return e.Code == CodeBusy || e.Code == CodeInternalError
}

// CodeOf extracts the transport code from err.
func CodeOf(err error) (Code, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Code, true
	}
	return 0, false
}

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.IsTransient()
}

// Negotiation role hints passed to Connect. 0 asks to be the subordinate
// side of the link, 15 asks to become the group authority.
const (
	IntentSubordinate = 0
	IntentAuthority   = 15
)

// LinkInfo describes a formed (or forming) link.
type LinkInfo struct {
	Formed bool
	// IsGroupOwner is true when the local node became the negotiation authority.
	IsGroupOwner bool
	// OwnerAddress is the authority's network address, which is the peer's
	// address whenever the local node is not the authority.
	OwnerAddress string
}

// Device is a group member as reported by the transport.
type Device struct {
	Name string
	// HardwareAddress is the transport-level identifier. Platforms may
	// randomize it so it does not necessarily match the ARP table.
	HardwareAddress string
}

// PeerTransport is the platform link-negotiation API. Calls resolve with a
// value or an *Error; a nil LinkInfo or nil member slice means the
// platform has nothing to report yet.
type PeerTransport interface {
	Connect(ctx context.Context, address string, intent int) error
	Disconnect(ctx context.Context) error
	LinkInfo(ctx context.Context) (*LinkInfo, error)
	GroupMembers(ctx context.Context) ([]Device, error)
	DiscoverPeers(ctx context.Context) error
}
