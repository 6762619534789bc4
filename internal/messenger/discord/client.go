// Package discord connects the grant step to a Discord guild: it looks up
// members, adds the verified role and edits the button interaction that
// started the verification.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/walletgate/server/internal/clock"
	"github.com/walletgate/server/internal/grant"
	"github.com/walletgate/server/internal/interaction"
	"github.com/walletgate/server/internal/messenger"
	"github.com/walletgate/server/internal/model"
)

// Config configures the Discord client
type Config struct {
	Token              string
	GuildID            string
	RoleID             string
	ChannelID          string
	Announce           bool
	VerificationServer string
}

// Client implements grant.Messenger on top of a discordgo session
type Client struct {
	session      *discordgo.Session
	cfg          Config
	interactions *interaction.Registry
	clock        clock.Clock
	logger       *slog.Logger
	ready        atomic.Bool
	announced    sync.Once
}

var _ messenger.Platform = (*Client)(nil)

// New creates a client. The gateway is not connected until Open.
func New(cfg Config, interactions *interaction.Registry, clk clock.Clock, logger *slog.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	c := &Client{
		session:      session,
		cfg:          cfg,
		interactions: interactions,
		clock:        clk,
		logger:       logger.With("messenger", "discord"),
	}
	session.AddHandler(c.onReady)
	session.AddHandler(c.onResumed)
	session.AddHandler(c.onDisconnect)
	session.AddHandler(c.onInteraction)
	return c, nil
}

// Open connects to the gateway. IsReady turns true once Discord sends READY.
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway
func (c *Client) Close() error {
	c.ready.Store(false)
	return c.session.Close()
}

// IsReady reports whether the gateway session is up
func (c *Client) IsReady() bool {
	return c.ready.Load()
}

// FetchMember resolves the configured guild, then the member
func (c *Client) FetchMember(ctx context.Context, identity string) (model.Member, error) {
	if _, err := c.session.Guild(c.cfg.GuildID, discordgo.WithContext(ctx)); err != nil {
		return model.Member{}, classify(fmt.Errorf("fetch guild %s: %w", c.cfg.GuildID, err))
	}
	m, err := c.session.GuildMember(c.cfg.GuildID, identity, discordgo.WithContext(ctx))
	if err != nil {
		return model.Member{}, classify(fmt.Errorf("fetch member %s: %w", identity, err))
	}
	return toMember(m), nil
}

// AddRole adds the verified role to identity. Adding a role the member already has is a no-op on Discord's side.
func (c *Client) AddRole(ctx context.Context, identity string) error {
	if err := c.session.GuildMemberRoleAdd(c.cfg.GuildID, identity, c.cfg.RoleID, discordgo.WithContext(ctx)); err != nil {
		return classify(fmt.Errorf("add role %s to %s: %w", c.cfg.RoleID, identity, err))
	}
	return nil
}

// SendSuccessNotice replaces the stored ephemeral reply with the success embed
func (c *Client) SendSuccessNotice(ctx context.Context, ref interaction.Ref) error {
	embeds := []*discordgo.MessageEmbed{successEmbed(c.clock.Now())}
	components := []discordgo.MessageComponent{}
	_, err := c.session.InteractionResponseEdit(
		&discordgo.Interaction{AppID: ref.AppID, Token: ref.Token},
		&discordgo.WebhookEdit{Embeds: &embeds, Components: &components},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("edit interaction reply: %w", err)
	}
	return nil
}

// CheckSetup confirms the bot token, guild, announcement channel and role are reachable
func (c *Client) CheckSetup(ctx context.Context) []messenger.Check {
	var checks []messenger.Check

	me, err := c.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return append(checks, messenger.Check{Name: "bot login", Err: err})
	}
	checks = append(checks, messenger.Check{Name: "bot login", Detail: me.String()})

	guild, err := c.session.Guild(c.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return append(checks, messenger.Check{Name: "guild " + c.cfg.GuildID, Err: err})
	}
	checks = append(checks, messenger.Check{Name: "guild " + c.cfg.GuildID, Detail: guild.Name})

	if c.cfg.ChannelID != "" {
		check := messenger.Check{Name: "channel " + c.cfg.ChannelID}
		if ch, err := c.session.Channel(c.cfg.ChannelID, discordgo.WithContext(ctx)); err != nil {
			check.Err = err
		} else {
			check.Detail = "#" + ch.Name
		}
		checks = append(checks, check)
	}

	check := messenger.Check{Name: "role " + c.cfg.RoleID}
	roles, err := c.session.GuildRoles(c.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		check.Err = err
	} else if role := findRole(roles, c.cfg.RoleID); role == nil {
		check.Err = errors.New("role not found in guild")
	} else {
		check.Detail = role.Name
	}
	return append(checks, check)
}

func findRole(roles []*discordgo.Role, id string) *discordgo.Role {
	for _, r := range roles {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func toMember(m *discordgo.Member) model.Member {
	out := model.Member{RoleIDs: m.Roles}
	if m.User != nil {
		out.ID = m.User.ID
		out.Tag = m.User.String()
	}
	return out
}

// classify tags Discord API errors with the grant sentinel they correspond to
func classify(err error) error {
	switch apiCode(err) {
	case discordgo.ErrCodeUnknownGuild:
		return fmt.Errorf("%w: %v", grant.ErrCommunityNotFound, err)
	case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
		return fmt.Errorf("%w: %v", grant.ErrMemberNotFound, err)
	case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
		return fmt.Errorf("%w: %v", grant.ErrPermissionDenied, err)
	}
	return err
}

func apiCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code
	}
	return 0
}

// isStaleInteraction reports errors meaning the interaction can no longer be answered
func isStaleInteraction(err error) bool {
	code := apiCode(err)
	return code == discordgo.ErrCodeInteractionHasAlreadyBeenAcknowledged || code == discordgo.ErrCodeUnknownInteraction
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
