package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/ratelimit"

	"points-bot/internal/access"
	"points-bot/internal/chart"
	"points-bot/internal/config"
	"points-bot/internal/locales"
	"points-bot/internal/model"
	"points-bot/internal/service"
)

const (
	cmdStart       = "start"
	cmdHelp        = "help"
	cmdPlus        = "plus"
	cmdStats       = "stats"
	cmdClearScores = "clear_scores"

	cbShowChart = "show_chart"

	updateTimeout = 30 * time.Second
)

// telegramAPI is the part of *tgbotapi.BotAPI the bot uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot routes Telegram updates to the score service.
type Bot struct {
	api     telegramAPI
	scores  *service.ScoreService
	texts   *locales.Catalog
	limiter ratelimit.Limiter
	limit   int
}

func New(cfg *config.Config, scores *service.ScoreService, texts *locales.Catalog) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	api.Debug = cfg.Debug

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	return newBot(api, scores, texts, ratelimit.New(cfg.RateLimitPerSecond), cfg.LeaderboardLimit), nil
}

func newBot(api telegramAPI, scores *service.ScoreService, texts *locales.Catalog, limiter ratelimit.Limiter, limit int) *Bot {
	return &Bot{
		api:     api,
		scores:  scores,
		texts:   texts,
		limiter: limiter,
		limit:   limit,
	}
}

// Start registers the command list and polls updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.registerCommands(); err != nil {
		log.Printf("register commands: %v", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message", "callback_query", "chat_member"}
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.processUpdate(ctx, update)
	}

	return ctx.Err()
}

func (b *Bot) registerCommands() error {
	commands := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: cmdPlus, Description: b.texts.Default("CmdPlusDesc", nil)},
		tgbotapi.BotCommand{Command: cmdStats, Description: b.texts.Default("CmdStatsDesc", nil)},
		tgbotapi.BotCommand{Command: cmdClearScores, Description: b.texts.Default("CmdClearDesc", nil)},
		tgbotapi.BotCommand{Command: cmdHelp, Description: b.texts.Default("CmdHelpDesc", nil)},
	)
	_, err := b.request(commands)
	return err
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic while handling update %d: %v\n%s", update.UpdateID, r, debug.Stack())
			sentry.CurrentHub().Recover(r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	var (
		kind string
		err  error
	)
	switch {
	case update.CallbackQuery != nil:
		kind = "callback"
		err = b.handleCallback(ctx, update.CallbackQuery)
	case update.ChatMember != nil:
		kind = "chat member"
		err = b.handleChatMember(ctx, update.ChatMember)
	case update.Message != nil:
		kind = "message"
		err = b.handleMessage(ctx, update.Message)
	default:
		return
	}
	if err != nil {
		log.Printf("handle %s: %v", kind, err)
		sentry.CaptureException(fmt.Errorf("handle %s: %w", kind, err))
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil || msg.Chat == nil || !msg.IsCommand() {
		return nil
	}

	log.Printf("[info] command from %d in chat %d: /%s", msg.From.ID, msg.Chat.ID, msg.Command())

	switch msg.Command() {
	case cmdStart:
		return b.reply(msg, b.text(msg.From, "MsgStart", nil), nil)
	case cmdHelp:
		return b.reply(msg, b.text(msg.From, "MsgHelp", nil), nil)
	case cmdPlus:
		return b.handlePlus(ctx, msg)
	case cmdStats:
		return b.handleStats(ctx, msg)
	case cmdClearScores:
		return b.handleClearScores(ctx, msg)
	default:
		if msg.Chat.IsPrivate() {
			return b.reply(msg, b.text(msg.From, "MsgUnknownCommand", nil), nil)
		}
		return nil
	}
}

func (b *Bot) handlePlus(ctx context.Context, msg *tgbotapi.Message) error {
	p := profileOf(msg.From)
	total, err := b.scores.GivePoint(ctx, p)
	if err != nil {
		return b.replyFailure(msg, "plus", err)
	}

	log.Printf("[info] point added user=%d total=%d", p.TelegramID, total)
	text := b.text(msg.From, "MsgPointAdded", map[string]interface{}{
		"Name":   escape(model.DisplayName(p.TelegramID, p.Username, p.FirstName, p.LastName)),
		"Points": service.PointsPerCommand,
		"Total":  total,
	})
	return b.reply(msg, text, nil)
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) error {
	entries, err := b.scores.Leaderboard(ctx, b.limit)
	if err != nil {
		return b.replyFailure(msg, "stats", err)
	}

	lang := languageOf(msg.From)
	if len(entries) == 0 {
		return b.reply(msg, b.texts.Text(lang, "MsgStatsEmpty", nil), nil)
	}
	return b.reply(msg, b.formatLeaderboard(lang, "MsgStatsHeader", entries), b.chartKeyboard(lang))
}

func (b *Bot) handleClearScores(ctx context.Context, msg *tgbotapi.Message) error {
	who := access.Identity{ID: msg.From.ID, Username: msg.From.UserName}
	removed, err := b.scores.ClearScores(ctx, who)
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		log.Printf("[info] clear scores denied for user=%d (@%s)", who.ID, who.Username)
		return b.reply(msg, b.text(msg.From, "MsgClearDenied", nil), nil)
	case err != nil:
		return b.replyFailure(msg, "clear scores", err)
	}
	return b.reply(msg, b.text(msg.From, "MsgClearDone", map[string]interface{}{"Removed": removed}), nil)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb.From == nil {
		return nil
	}
	if cb.Data != cbShowChart || cb.Message == nil || cb.Message.Chat == nil {
		return b.answerCallback(cb.ID, "")
	}

	log.Printf("[info] chart requested by user=%d chat=%d", cb.From.ID, cb.Message.Chat.ID)
	lang := languageOf(cb.From)
	img, err := b.scores.Chart(ctx, chart.Options{
		Title:  b.texts.Text(lang, "ChartTitle", nil),
		XLabel: b.texts.Text(lang, "ChartXLabel", nil),
		YLabel: b.texts.Text(lang, "ChartYLabel", nil),
	})
	switch {
	case errors.Is(err, chart.ErrNoData):
		return b.answerCallback(cb.ID, b.texts.Text(lang, "MsgChartNoData", nil))
	case err != nil:
		if ackErr := b.answerCallback(cb.ID, b.texts.Text(lang, "MsgChartError", nil)); ackErr != nil {
			log.Printf("callback ack: %v", ackErr)
		}
		return fmt.Errorf("chart: %w", err)
	}

	photo := tgbotapi.NewPhoto(cb.Message.Chat.ID, tgbotapi.FileBytes{Name: "chart.png", Bytes: img})
	photo.Caption = b.texts.Text(lang, "MsgChartCaption", nil)
	if _, err := b.send(photo); err != nil {
		if ackErr := b.answerCallback(cb.ID, b.texts.Text(lang, "MsgChartError", nil)); ackErr != nil {
			log.Printf("callback ack: %v", ackErr)
		}
		return fmt.Errorf("send chart: %w", err)
	}
	return b.answerCallback(cb.ID, "")
}

func (b *Bot) handleChatMember(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) error {
	member := upd.NewChatMember
	if member.User == nil || member.User.IsBot {
		return nil
	}
	switch member.Status {
	case "member", "administrator", "creator":
	default:
		return nil
	}

	if _, err := b.scores.TrackMember(ctx, profileOf(member.User)); err != nil {
		return err
	}
	log.Printf("[info] user %d tracked in chat %d", member.User.ID, upd.Chat.ID)
	return nil
}

// SendLeaderboardDigest posts the current leaderboard to every chat in chatIDs.
// Nothing is sent while nobody has points.
func (b *Bot) SendLeaderboardDigest(ctx context.Context, chatIDs []int64) error {
	entries, err := b.scores.Leaderboard(ctx, b.limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		log.Println("[info] digest skipped: no scores yet")
		return nil
	}

	lang := b.texts.DefaultLanguage()
	text := b.formatLeaderboard(lang, "MsgDigestHeader", entries)
	var errs []error
	for _, chatID := range chatIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.ReplyMarkup = b.chartKeyboard(lang)
		if _, err := b.send(msg); err != nil {
			errs = append(errs, fmt.Errorf("send digest to %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bot) formatLeaderboard(lang, headerID string, entries []model.LeaderboardEntry) string {
	var sb strings.Builder
	sb.WriteString(b.texts.Text(lang, headerID, nil))
	sb.WriteByte('\n')
	for i, e := range entries {
		sb.WriteString(b.texts.Text(lang, "MsgStatsLine", map[string]interface{}{
			"Rank":  i + 1,
			"Name":  escape(e.DisplayName()),
			"Total": e.Total,
		}))
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String())
}

func (b *Bot) chartKeyboard(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(b.texts.Text(lang, "BtnShowChart", nil), cbShowChart),
		),
	)
}

// replyFailure tells the user something went wrong and hands the cause back
// to the update loop for logging.
func (b *Bot) replyFailure(msg *tgbotapi.Message, op string, cause error) error {
	if err := b.reply(msg, b.text(msg.From, "MsgErrorGeneral", nil), nil); err != nil {
		log.Printf("send failure notice: %v", err)
	}
	return fmt.Errorf("%s: %w", op, cause)
}

func (b *Bot) reply(to *tgbotapi.Message, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = to.MessageID
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := b.send(msg)
	return err
}

func (b *Bot) answerCallback(id, text string) error {
	_, err := b.request(tgbotapi.NewCallback(id, text))
	return err
}

func (b *Bot) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.limiter.Take()
	return b.api.Send(c)
}

func (b *Bot) request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.limiter.Take()
	return b.api.Request(c)
}

func (b *Bot) text(from *tgbotapi.User, msgID string, data map[string]interface{}) string {
	return b.texts.Text(languageOf(from), msgID, data)
}

func profileOf(u *tgbotapi.User) model.Profile {
	return model.Profile{
		TelegramID: u.ID,
		Username:   u.UserName,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
	}
}

func languageOf(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	return u.LanguageCode
}

func escape(s string) string {
	return html.EscapeString(s)
}
