// Package telegram connects the grant step to a Telegram group. Verified
// members get their send permissions back in the configured chat; the
// /verify command hands out the wallet link.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/walletgate/server/internal/grant"
	"github.com/walletgate/server/internal/interaction"
	"github.com/walletgate/server/internal/messenger"
	"github.com/walletgate/server/internal/model"
)

// Config configures the Telegram client
type Config struct {
	Token              string
	ChatID             int64
	VerificationServer string
}

// botAPI is the part of *tb.Bot the client calls
type botAPI interface {
	ChatByID(id string) (*tb.Chat, error)
	ChatMemberOf(chat *tb.Chat, user *tb.User) (*tb.ChatMember, error)
	Restrict(chat *tb.Chat, member *tb.ChatMember) error
	Reply(to *tb.Message, what interface{}, options ...interface{}) (*tb.Message, error)
	Edit(msg tb.Editable, what interface{}, options ...interface{}) (*tb.Message, error)
}

// Client implements grant.Messenger on top of a long-polling telebot
type Client struct {
	bot          *tb.Bot
	api          botAPI
	me           *tb.User
	cfg          Config
	interactions *interaction.Registry
	logger       *slog.Logger
	ready        atomic.Bool
}

var _ messenger.Platform = (*Client)(nil)

// New logs the bot in. Updates are not polled until Open.
func New(cfg Config, interactions *interaction.Registry, logger *slog.Logger) (*Client, error) {
	b, err := tb.NewBot(tb.Settings{
		Token:  cfg.Token,
		Poller: &tb.LongPoller{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	c := newClient(b, b.Me, cfg, interactions, logger)
	c.bot = b
	return c, nil
}

func newClient(api botAPI, me *tb.User, cfg Config, interactions *interaction.Registry, logger *slog.Logger) *Client {
	return &Client{
		api:          api,
		me:           me,
		cfg:          cfg,
		interactions: interactions,
		logger:       logger.With("messenger", "telegram"),
	}
}

// Open registers the command handlers and starts polling
func (c *Client) Open() error {
	if c.bot == nil {
		return errors.New("telegram bot not initialised")
	}
	c.bot.Handle("/verify", c.onVerify)
	go c.bot.Start()
	c.ready.Store(true)
	c.logger.Info("telegram bot ready", "user", c.me.Username, "chat", c.cfg.ChatID)
	return nil
}

// Close stops polling
func (c *Client) Close() error {
	c.ready.Store(false)
	if c.bot != nil {
		c.bot.Stop()
	}
	return nil
}

// IsReady reports whether the bot is polling
func (c *Client) IsReady() bool {
	return c.ready.Load()
}

// FetchMember resolves the configured chat, then identity's membership in it
func (c *Client) FetchMember(ctx context.Context, identity string) (model.Member, error) {
	_, cm, err := c.member(ctx, identity)
	if err != nil {
		return model.Member{}, err
	}
	out := model.Member{ID: identity, RoleIDs: []string{string(cm.Role)}}
	if cm.User != nil {
		out.Tag = cm.User.Username
	}
	return out, nil
}

// AddRole lifts identity's send restrictions in the chat. Admins are left untouched.
func (c *Client) AddRole(ctx context.Context, identity string) error {
	chat, cm, err := c.member(ctx, identity)
	if err != nil {
		return err
	}
	if cm.Role == tb.Administrator || cm.Role == tb.Creator {
		return nil
	}
	err = c.api.Restrict(chat, &tb.ChatMember{
		User:            cm.User,
		Rights:          tb.NoRestrictions(),
		RestrictedUntil: tb.Forever(),
	})
	if err != nil {
		return classify(fmt.Errorf("lift restrictions for %s: %w", identity, err))
	}
	return nil
}

// SendSuccessNotice edits the stored /verify reply
func (c *Client) SendSuccessNotice(ctx context.Context, ref interaction.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tb.StoredMessage{MessageID: ref.MessageID, ChatID: ref.ChatID}
	if _, err := c.api.Edit(msg, successText); err != nil {
		return fmt.Errorf("edit verify reply: %w", err)
	}
	return nil
}

// CheckSetup confirms the bot can see the chat and may restrict members in it
func (c *Client) CheckSetup(ctx context.Context) []messenger.Check {
	var checks []messenger.Check
	if c.me == nil {
		return append(checks, messenger.Check{Name: "bot login", Err: errors.New("bot identity unknown")})
	}
	checks = append(checks, messenger.Check{Name: "bot login", Detail: "@" + c.me.Username})

	chatName := "chat " + strconv.FormatInt(c.cfg.ChatID, 10)
	chat, err := c.api.ChatByID(strconv.FormatInt(c.cfg.ChatID, 10))
	if err != nil {
		return append(checks, messenger.Check{Name: chatName, Err: err})
	}
	checks = append(checks, messenger.Check{Name: chatName, Detail: chat.Title})

	check := messenger.Check{Name: "restrict permission"}
	cm, err := c.api.ChatMemberOf(chat, c.me)
	switch {
	case err != nil:
		check.Err = err
	case cm.Role == tb.Creator, cm.Role == tb.Administrator && cm.CanRestrictMembers:
		check.Detail = string(cm.Role)
	default:
		check.Err = fmt.Errorf("bot is %s without the right to restrict members", cm.Role)
	}
	return append(checks, check)
}

func (c *Client) member(ctx context.Context, identity string) (*tb.Chat, *tb.ChatMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	chat, err := c.api.ChatByID(strconv.FormatInt(c.cfg.ChatID, 10))
	if err != nil {
		return nil, nil, classify(fmt.Errorf("fetch chat %d: %w", c.cfg.ChatID, err))
	}
	uid, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q is not a telegram user id", grant.ErrMemberNotFound, identity)
	}
	cm, err := c.api.ChatMemberOf(chat, &tb.User{ID: uid})
	if err != nil {
		return nil, nil, classify(fmt.Errorf("fetch member %s: %w", identity, err))
	}
	if cm.Role == tb.Left || cm.Role == tb.Kicked {
		return nil, nil, fmt.Errorf("%w: %s is %s", grant.ErrMemberNotFound, identity, cm.Role)
	}
	if cm.User == nil {
		cm.User = &tb.User{ID: uid}
	}
	return chat, cm, nil
}

// classify maps Bot API error descriptions to the grant sentinels
func classify(err error) error {
	desc := strings.ToLower(err.Error())
	switch {
	case strings.Contains(desc, "chat not found"):
		return fmt.Errorf("%w: %v", grant.ErrCommunityNotFound, err)
	case strings.Contains(desc, "user not found"),
		strings.Contains(desc, "participant_id_invalid"),
		strings.Contains(desc, "user_id_invalid"):
		return fmt.Errorf("%w: %v", grant.ErrMemberNotFound, err)
	case strings.Contains(desc, "not enough rights"),
		strings.Contains(desc, "chat_admin_required"),
		strings.Contains(desc, "bot was kicked"),
		strings.Contains(desc, "bot is not a member"):
		return fmt.Errorf("%w: %v", grant.ErrPermissionDenied, err)
	}
	return err
}
