// Package registry abstracts the external "is this node/sender currently
// authorized?" collaborator. The core only ever talks to the Registry
// interface; everything behind it is substitutable (static config today,
// a networked registry service tomorrow).
package registry

import (
	"context"
	"errors"
	"sync"
)

// Registry is the external-collaborator contract the core admits stores
// and inbound replication against.
type Registry interface {
	// IsNodeActive reports whether nodeID is currently a registered,
	// active node. A non-nil error is a registration-check failure,
	// distinct from a definite false.
	IsNodeActive(ctx context.Context, nodeID string) (bool, error)

	// IsSenderAuthorized reports whether sender is permitted to write on
	// behalf of appID.
	IsSenderAuthorized(ctx context.Context, appID, sender string) (bool, error)

	// MinVersion returns the minimum node software version the registry
	// currently requires, or "" if it imposes none.
	MinVersion(ctx context.Context) (string, error)
}

// Static is an in-memory Registry backed by fixed membership and
// authorization tables, suitable for single-node or fixed-cluster
// deployments and for tests. It never errors.
type Static struct {
	mu                sync.RWMutex
	activeNodes       map[string]bool
	authorizedSenders map[string]bool // key: appID + "\x00" + sender
	minVersion        string
}

// NewStatic builds a Static registry from the given active node set and
// authorized (appID, sender) pairs.
func NewStatic(activeNodes []string, authorizedPairs [][2]string, minVersion string) *Static {
	s := &Static{
		activeNodes:       make(map[string]bool, len(activeNodes)),
		authorizedSenders: make(map[string]bool, len(authorizedPairs)),
		minVersion:        minVersion,
	}
	for _, n := range activeNodes {
		s.activeNodes[n] = true
	}
	for _, p := range authorizedPairs {
		s.authorizedSenders[p[0]+"\x00"+p[1]] = true
	}
	return s
}

// IsNodeActive reports whether nodeID is in the active set.
func (s *Static) IsNodeActive(_ context.Context, nodeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeNodes[nodeID], nil
}

// IsSenderAuthorized reports whether (appID, sender) is in the authorized
// set.
func (s *Static) IsSenderAuthorized(_ context.Context, appID, sender string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorizedSenders[appID+"\x00"+sender], nil
}

// MinVersion returns the configured minimum version.
func (s *Static) MinVersion(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minVersion, nil
}

// SetActive marks nodeID active, or removes it when active is false.
func (s *Static) SetActive(nodeID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active {
		s.activeNodes[nodeID] = true
	} else {
		delete(s.activeNodes, nodeID)
	}
}

// Authorize grants (appID, sender) write access, or removes it when
// allowed is false.
func (s *Static) Authorize(appID, sender string, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := appID + "\x00" + sender
	if allowed {
		s.authorizedSenders[key] = true
	} else {
		delete(s.authorizedSenders, key)
	}
}

// ErrUnconfigured describes a node with no publicKey configured. The
// admission path reports that case as AdmissionNodeNotConfigured (and
// node.Admit as vaulterr.KindNodeNotConfigured); it does not return this
// value.
var ErrUnconfigured = errors.New("registry: node has no public key configured")

// AdmissionOutcome is the result of the §4.11 admission decision tree,
// returned alongside the vaulterr.Kind the HTTP layer should surface.
type AdmissionOutcome int

const (
	AdmissionAllowed AdmissionOutcome = iota
	AdmissionNodeNotConfigured
	AdmissionNodeNotRegistered
	AdmissionRegistrationCheckFailed
	AdmissionForbidden
)

// CheckAdmission runs the §4.11 admission policy: unset publicKey first,
// then node-active, then (if required) sender authorization.
func CheckAdmission(ctx context.Context, reg Registry, publicKeySet bool, nodeID, appID, sender string, requireAppRegistry bool) AdmissionOutcome {
	if !publicKeySet {
		return AdmissionNodeNotConfigured
	}

	active, err := reg.IsNodeActive(ctx, nodeID)
	if err != nil {
		return AdmissionRegistrationCheckFailed
	}
	if !active {
		return AdmissionNodeNotRegistered
	}

	if requireAppRegistry {
		authorized, err := reg.IsSenderAuthorized(ctx, appID, sender)
		if err != nil || !authorized {
			return AdmissionForbidden
		}
	}

	return AdmissionAllowed
}
