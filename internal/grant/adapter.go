// Package grant assigns the community role to a verified identity through
// the messaging platform. Failures are reported to the caller, never retried
// and never propagated as errors.
package grant

import (
	"context"
	"errors"
	"log/slog"

	"github.com/walletgate/server/internal/interaction"
	"github.com/walletgate/server/internal/model"
)

var (
	ErrNotReady          = errors.New("messenger not ready")
	ErrCommunityNotFound = errors.New("community not found")
	ErrMemberNotFound    = errors.New("member not found")
	ErrPermissionDenied  = errors.New("permission denied")
)

const (
	ReasonNotReady          = "not-ready"
	ReasonCommunityNotFound = "community-not-found"
	ReasonMemberNotFound    = "member-not-found"
	ReasonPermissionDenied  = "permission-denied"
	ReasonCollaborator      = "collaborator-error"
)

// Messenger is the messaging platform as seen by the grant step.
// FetchMember resolves the configured community before the member and
// reports ErrCommunityNotFound / ErrMemberNotFound / ErrPermissionDenied
// (possibly wrapped) for the corresponding failures.
type Messenger interface {
	IsReady() bool
	FetchMember(ctx context.Context, identity string) (model.Member, error)
	AddRole(ctx context.Context, identity string) error
	SendSuccessNotice(ctx context.Context, ref interaction.Ref) error
}

// Result is the outcome of one grant attempt
type Result struct {
	Granted bool
	Reason  string
	Err     error
}

// Adapter grants the verified role and sends the one-time success notice
type Adapter struct {
	messenger    Messenger
	interactions *interaction.Registry
	logger       *slog.Logger
}

// NewAdapter creates a grant adapter. A nil messenger makes every grant report not-ready.
func NewAdapter(messenger Messenger, interactions *interaction.Registry, logger *slog.Logger) *Adapter {
	return &Adapter{
		messenger:    messenger,
		interactions: interactions,
		logger:       logger,
	}
}

// Grant assigns the role to identity. It blocks on the platform calls and
// relies on the platform client's own request timeout.
func (a *Adapter) Grant(ctx context.Context, identity string) Result {
	if a.messenger == nil || !a.messenger.IsReady() {
		a.logger.Warn("grant skipped: messenger not ready", "identity", identity)
		return Result{Reason: ReasonNotReady, Err: ErrNotReady}
	}

	member, err := a.messenger.FetchMember(ctx, identity)
	if err != nil {
		a.logger.Warn("grant: member lookup failed", "identity", identity, "error", err)
		return failure(err)
	}
	a.logger.Debug("grant: found member", "identity", identity, "tag", member.Tag)

	if err := a.messenger.AddRole(ctx, identity); err != nil {
		a.logger.Warn("grant: add role failed", "identity", identity, "error", err)
		return failure(err)
	}
	a.logger.Info("role assigned", "identity", identity)

	a.notify(ctx, identity)
	return Result{Granted: true}
}

// notify edits the stored interaction reply, if the user started from one
func (a *Adapter) notify(ctx context.Context, identity string) {
	if a.interactions == nil {
		return
	}
	ref, ok := a.interactions.Claim(identity)
	if !ok {
		a.logger.Debug("no stored interaction for identity", "identity", identity)
		return
	}
	if err := a.messenger.SendSuccessNotice(ctx, ref); err != nil {
		a.logger.Warn("success notice failed", "identity", identity, "error", err)
	}
}

func failure(err error) Result {
	return Result{Reason: Reason(err), Err: err}
}

// Reason maps a messenger error to its short reason code
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotReady):
		return ReasonNotReady
	case errors.Is(err, ErrCommunityNotFound):
		return ReasonCommunityNotFound
	case errors.Is(err, ErrMemberNotFound):
		return ReasonMemberNotFound
	case errors.Is(err, ErrPermissionDenied):
		return ReasonPermissionDenied
	default:
		return ReasonCollaborator
	}
}
