// Package types defines the core ledger types shared by the block metadata
// service.
//
// These types follow Solana conventions so that responses are wire-compatible
// with existing Solana RPC clients.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Slot is the ordinal identifier of a block in the ledger.
type Slot = uint64

// UnixTimestamp is a block production time in seconds since the Unix epoch.
type UnixTimestamp = int64

// ErrInvalidCommitment is returned when a commitment string is not recognized.
var ErrInvalidCommitment = errors.New("invalid commitment")

// Commitment is the caller-specified confidence threshold for a query.
type Commitment string

const (
	// CommitmentProcessed is the most recent block seen by the node.
	CommitmentProcessed Commitment = "processed"

	// CommitmentConfirmed is a block voted on by a supermajority of the cluster.
	CommitmentConfirmed Commitment = "confirmed"

	// CommitmentFinalized is a confirmed block with enough descendants to be
	// irreversible.
	CommitmentFinalized Commitment = "finalized"
)

// DefaultCommitment is applied when a request carries no commitment.
const DefaultCommitment = CommitmentFinalized

// ParseCommitment maps a commitment string to its canonical level. Legacy
// names still sent by older clients are accepted. The empty string yields the
// default commitment.
func ParseCommitment(s string) (Commitment, error) {
	switch s {
	case "":
		return DefaultCommitment, nil
	case "processed", "recent":
		return CommitmentProcessed, nil
	case "confirmed", "single", "singleGossip":
		return CommitmentConfirmed, nil
	case "finalized", "root", "max":
		return CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCommitment, s)
	}
}

// IsAtLeastConfirmed reports whether c is confirmed or finalized.
func (c Commitment) IsAtLeastConfirmed() bool {
	return c == CommitmentConfirmed || c == CommitmentFinalized
}

// String returns the canonical commitment name.
func (c Commitment) String() string {
	if c == "" {
		return string(DefaultCommitment)
	}
	return string(c)
}

// UnmarshalJSON decodes and canonicalizes a commitment string.
func (c *Commitment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCommitment(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
