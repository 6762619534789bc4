package telegram

import (
	"strconv"

	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/walletgate/server/internal/interaction"
	"github.com/walletgate/server/internal/messenger"
)

const (
	verifyText  = "🌕 Verify your wallet\n\nOpen the link below to connect your wallet and complete verification."
	successText = "✨ Verification successful! Welcome to the community, your wallet has been verified."
)

// onVerify answers /verify in the community chat with the personal wallet link and remembers the reply for the success notice
func (c *Client) onVerify(m *tb.Message) {
	if m.Sender == nil {
		return
	}
	identity := strconv.FormatInt(m.Sender.ID, 10)
	log := c.logger.With("identity", identity)

	if m.Chat == nil || m.Chat.ID != c.cfg.ChatID {
		log.Debug("ignoring /verify outside the community chat")
		return
	}

	link := messenger.VerifyURL(c.cfg.VerificationServer, "telegramId", identity)
	markup := &tb.ReplyMarkup{InlineKeyboard: [][]tb.InlineButton{{
		{Text: "✨ Verify Wallet", URL: link},
	}}}

	reply, err := c.api.Reply(m, verifyText, markup, tb.NoPreview)
	if err != nil {
		log.Error("failed to send verification link", "error", err)
		return
	}
	c.interactions.Register(identity, interaction.Ref{
		ChatID:    reply.Chat.ID,
		MessageID: strconv.Itoa(reply.ID),
	})
	log.Info("verification link sent")
}
