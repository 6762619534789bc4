package grant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/walletgate/server/internal/clock"
	"github.com/walletgate/server/internal/interaction"
	"github.com/walletgate/server/internal/model"
)

type fakeMessenger struct {
	ready     bool
	memberErr error
	roleErr   error
	noticeErr error

	roleCalls int
	notices   []interaction.Ref
}

func (f *fakeMessenger) IsReady() bool { return f.ready }

func (f *fakeMessenger) FetchMember(ctx context.Context, identity string) (model.Member, error) {
	if f.memberErr != nil {
		return model.Member{}, f.memberErr
	}
	return model.Member{ID: identity, Tag: identity + "#0001"}, nil
}

func (f *fakeMessenger) AddRole(ctx context.Context, identity string) error {
	f.roleCalls++
	return f.roleErr
}

func (f *fakeMessenger) SendSuccessNotice(ctx context.Context, ref interaction.Ref) error {
	f.notices = append(f.notices, ref)
	return f.noticeErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGrant_success(t *testing.T) {
	m := &fakeMessenger{ready: true}
	reg := interaction.NewRegistry(clock.Real(), 0)
	reg.Register("user123", interaction.Ref{Token: "tok"})
	a := NewAdapter(m, reg, testLogger())

	res := a.Grant(context.Background(), "user123")
	assert.True(t, res.Granted)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 1, m.roleCalls)
	assert.Equal(t, []interaction.Ref{{Token: "tok"}}, m.notices)

	// the notice is sent at most once
	res = a.Grant(context.Background(), "user123")
	assert.True(t, res.Granted)
	assert.Len(t, m.notices, 1)
}

func TestGrant_noStoredInteraction(t *testing.T) {
	m := &fakeMessenger{ready: true}
	a := NewAdapter(m, interaction.NewRegistry(clock.Real(), 0), testLogger())

	res := a.Grant(context.Background(), "user123")
	assert.True(t, res.Granted)
	assert.Empty(t, m.notices)
}

func TestGrant_noticeFailureStillGranted(t *testing.T) {
	m := &fakeMessenger{ready: true, noticeErr: errors.New("interaction expired")}
	reg := interaction.NewRegistry(clock.Real(), 0)
	reg.Register("user123", interaction.Ref{Token: "tok"})

	res := NewAdapter(m, reg, testLogger()).Grant(context.Background(), "user123")
	assert.True(t, res.Granted)
}

func TestGrant_failures(t *testing.T) {
	tests := []struct {
		name      string
		messenger Messenger
		reason    string
	}{
		{"nil messenger", nil, ReasonNotReady},
		{"not ready", &fakeMessenger{ready: false}, ReasonNotReady},
		{"community missing", &fakeMessenger{ready: true, memberErr: fmt.Errorf("fetch guild: %w", ErrCommunityNotFound)}, ReasonCommunityNotFound},
		{"member missing", &fakeMessenger{ready: true, memberErr: ErrMemberNotFound}, ReasonMemberNotFound},
		{"role forbidden", &fakeMessenger{ready: true, roleErr: fmt.Errorf("add role: %w", ErrPermissionDenied)}, ReasonPermissionDenied},
		{"transient", &fakeMessenger{ready: true, roleErr: errors.New("502 bad gateway")}, ReasonCollaborator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := interaction.NewRegistry(clock.Real(), 0)
			reg.Register("user123", interaction.Ref{Token: "tok"})

			res := NewAdapter(tt.messenger, reg, testLogger()).Grant(context.Background(), "user123")
			assert.False(t, res.Granted)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Error(t, res.Err)
			assert.Equal(t, 1, reg.Len(), "a failed grant must not consume the interaction")
		})
	}
}

func TestGrant_noRetry(t *testing.T) {
	m := &fakeMessenger{ready: true, roleErr: errors.New("timeout")}
	NewAdapter(m, nil, testLogger()).Grant(context.Background(), "user123")
	assert.Equal(t, 1, m.roleCalls)
}
