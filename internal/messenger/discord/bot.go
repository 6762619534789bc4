package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/walletgate/server/internal/interaction"
	"github.com/walletgate/server/internal/messenger"
)

const (
	verifyButtonID   = "verify_wallet"
	walletInstallURL = "https://docs.midnight.network/develop/tutorial/using/chrome-ext"
	embedColor       = 0x111111
)

func (c *Client) onReady(s *discordgo.Session, r *discordgo.Ready) {
	c.ready.Store(true)
	c.logger.Info("discord bot ready", "user", r.User.String(), "guilds", len(r.Guilds))

	// READY repeats after every re-identify; the channel gets one announcement per process
	if c.cfg.Announce && c.cfg.ChannelID != "" {
		c.announced.Do(func() { go c.announce() })
	}
}

func (c *Client) onResumed(s *discordgo.Session, r *discordgo.Resumed) {
	c.ready.Store(true)
	c.logger.Info("discord session resumed")
}

func (c *Client) onDisconnect(s *discordgo.Session, d *discordgo.Disconnect) {
	c.ready.Store(false)
	c.logger.Warn("discord gateway disconnected")
}

// announce posts the verification message with the Verify Wallet button
func (c *Client) announce() {
	ctx, cancel := requestContext()
	defer cancel()

	_, err := c.session.ChannelMessageSendComplex(c.cfg.ChannelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{announcementEmbed(c.clock.Now())},
		Components: announcementComponents(),
	}, discordgo.WithContext(ctx))
	if err != nil {
		c.logger.Error("failed to send verification message", "channel", c.cfg.ChannelID, "error", err)
		return
	}
	c.logger.Info("verification message sent", "channel", c.cfg.ChannelID)
}

func (c *Client) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	if i.MessageComponentData().CustomID != verifyButtonID {
		return
	}

	user := interactionUser(i.Interaction)
	if user == nil {
		return
	}
	log := c.logger.With("identity", user.ID)
	log.Debug("verify button pressed")

	ctx, cancel := requestContext()
	defer cancel()

	if c.alreadyVerified(ctx, user.ID) {
		err := c.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{alreadyVerifiedEmbed(c.clock.Now())},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		}, discordgo.WithContext(ctx))
		if err != nil && !isStaleInteraction(err) {
			log.Error("failed to send already verified reply", "error", err)
		}
		return
	}

	handle := c.interactions.Register(user.ID, interaction.Ref{AppID: i.AppID, Token: i.Token})

	err := c.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		c.interactions.Revoke(handle)
		if isStaleInteraction(err) {
			log.Info("interaction already acknowledged or expired, skipping", "error", err)
			return
		}
		log.Error("failed to defer interaction", "error", err)
		return
	}

	link := messenger.VerifyURL(c.cfg.VerificationServer, "discordId", user.ID)
	embeds := []*discordgo.MessageEmbed{verifyLinkEmbed(c.clock.Now())}
	components := verifyLinkComponents(link)
	_, err = c.session.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		if isStaleInteraction(err) {
			c.interactions.Revoke(handle)
			log.Info("interaction expired before the link was sent", "error", err)
			return
		}
		log.Error("failed to send verification link", "error", err)
		content := "Sorry, there was an error processing your request. Please try again later."
		if _, err := c.session.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
			log.Error("failed to send error reply", "error", err)
		}
		c.interactions.Revoke(handle)
		return
	}
	log.Info("verification link sent")
}

// alreadyVerified reports whether the member already holds the role. Lookup errors count as not verified.
func (c *Client) alreadyVerified(ctx context.Context, identity string) bool {
	m, err := c.session.GuildMember(c.cfg.GuildID, identity, discordgo.WithContext(ctx))
	if err != nil {
		if !isStaleInteraction(err) {
			c.logger.Warn("failed to check verification status", "identity", identity, "error", err)
		}
		return false
	}
	return toMember(m).HasRole(c.cfg.RoleID)
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func announcementEmbed(now time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Color:       embedColor,
		Title:       "🌕 Wallet Verification",
		Description: "Ready to join the community? Follow these steps to verify your wallet:",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "🔹 Step 1", Value: "Install the Lace wallet browser extension if you haven't already."},
			{Name: "🔹 Step 2", Value: "Click Verify Wallet below to connect securely."},
			{Name: "🔹 Step 3", Value: "Complete the process to unlock full access to the community."},
			{Name: "🔒 Safety Tip", Value: "Never share your recovery phrase or private keys with ANYONE."},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "Powered by Lace Wallet"},
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

func announcementComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label: "Install Wallet",
				Style: discordgo.LinkButton,
				Emoji: &discordgo.ComponentEmoji{Name: "🌐"},
				URL:   walletInstallURL,
			},
			discordgo.Button{
				Label:    "Verify Wallet",
				Style:    discordgo.SecondaryButton,
				Emoji:    &discordgo.ComponentEmoji{Name: "✨"},
				CustomID: verifyButtonID,
			},
		}},
	}
}

func verifyLinkEmbed(now time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Color:       embedColor,
		Title:       "🌕 Verify Your Wallet",
		Description: "Click the button below to connect your wallet and complete verification.",
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}

func verifyLinkComponents(link string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label: "Verify Wallet",
				Style: discordgo.LinkButton,
				Emoji: &discordgo.ComponentEmoji{Name: "✨"},
				URL:   link,
			},
		}},
	}
}

func alreadyVerifiedEmbed(now time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Color:       embedColor,
		Title:       "✨ Already Verified!",
		Description: "You are already verified and have access to the community!",
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}

func successEmbed(now time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Color:       embedColor,
		Title:       "✨ Verification Successful!",
		Description: "Welcome to the community! Your wallet has been verified.",
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}
