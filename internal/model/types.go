package model

import (
	"time"
)

// Verification is one attempt to link a chat identity to a wallet address
type Verification struct {
	ID               int64      `json:"id"`
	ExternalIdentity string     `json:"externalIdentity"`
	WalletAddress    string     `json:"walletAddress"`
	Verified         bool       `json:"verified"`
	VerifiedAt       *time.Time `json:"verifiedAt"`
	Challenge        string     `json:"challenge"`
	ChallengeExpiry  time.Time  `json:"challengeExpiry"`
	PrivilegeGranted bool       `json:"privilegeGranted"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Expired reports whether the challenge window has passed at now.
// The boundary instant itself is still inside the window.
func (v Verification) Expired(now time.Time) bool {
	return now.After(v.ChallengeExpiry)
}

// NewVerification holds the fields of a Verification that are supplied at creation.
// The ID is assigned by the store.
type NewVerification struct {
	ExternalIdentity string
	WalletAddress    string
	Verified         bool
	Challenge        string
	ChallengeExpiry  time.Time
	CreatedAt        time.Time
}

// VerificationPatch lists the mutable fields of a Verification; nil fields are left unchanged.
type VerificationPatch struct {
	WalletAddress    *string
	Verified         *bool
	VerifiedAt       *time.Time
	PrivilegeGranted *bool
}

// Apply merges the non-nil fields of p into v.
func (p VerificationPatch) Apply(v *Verification) {
	if p.WalletAddress != nil {
		v.WalletAddress = *p.WalletAddress
	}
	if p.Verified != nil {
		v.Verified = *p.Verified
	}
	if p.VerifiedAt != nil {
		at := *p.VerifiedAt
		v.VerifiedAt = &at
	}
	if p.PrivilegeGranted != nil {
		v.PrivilegeGranted = *p.PrivilegeGranted
	}
}

// Member is a community member as seen by the messaging platform
type Member struct {
	ID      string
	Tag     string
	RoleIDs []string
}

// HasRole reports whether the member already holds roleID.
func (m Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
