// Package bot answers chat commands: subscribing a chat to a location,
// unsubscribing and querying the current status.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/go-raid-alerts/internal/message"
	"github.com/mr1hm/go-raid-alerts/internal/models"
	"github.com/mr1hm/go-raid-alerts/internal/notify"
	"github.com/mr1hm/go-raid-alerts/internal/resolver"
	"github.com/mr1hm/go-raid-alerts/internal/subscribers"
)

type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]notify.Update, error)
}

type Store interface {
	Get(ctx context.Context, recipientID string) (*models.Subscriber, error)
	UpsertWatch(ctx context.Context, recipientID, locationID, displayName string) error
	Remove(ctx context.Context, recipientID string) (bool, error)
}

type Directory interface {
	Get(id string) (models.LocationNode, bool)
	Search(query string) (models.LocationNode, bool)
	Subdivisions() []models.LocationNode
}

type AlertSource interface {
	FetchActiveAlerts(ctx context.Context) ([]models.AlertRecord, error)
}

type Options struct {
	Updates  UpdateSource
	Sink     notify.Sink
	Store    Store
	Dir      Directory
	Source   AlertSource
	Resolver *resolver.Resolver
	// Wait is the long-poll timeout passed to getUpdates.
	Wait time.Duration
	// RetryDelay is the pause after a failed poll.
	RetryDelay time.Duration
}

type Bot struct {
	updates    UpdateSource
	sink       notify.Sink
	store      Store
	dir        Directory
	source     AlertSource
	resolver   *resolver.Resolver
	wait       time.Duration
	retryDelay time.Duration
}

func New(opts Options) *Bot {
	if opts.Wait <= 0 {
		opts.Wait = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Bot{
		updates:    opts.Updates,
		sink:       opts.Sink,
		store:      opts.Store,
		dir:        opts.Dir,
		source:     opts.Source,
		resolver:   opts.Resolver,
		wait:       opts.Wait,
		retryDelay: opts.RetryDelay,
	}
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	slog.Info("bot polling started")
	var offset int64

	for {
		updates, err := b.updates.GetUpdates(ctx, offset, b.wait)
		if ctx.Err() != nil {
			slog.Info("bot polling stopped")
			return
		}
		if err != nil {
			slog.Warn("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				slog.Info("bot polling stopped")
				return
			case <-time.After(b.retryDelay):
			}
			continue
		}

		for _, u := range updates {
			offset = max(offset, u.UpdateID+1)
			if u.Message != nil {
				b.Handle(ctx, u.Message)
			}
		}
	}
}

// Handle executes one command message. Anything that is not a command is
// ignored.
func (b *Bot) Handle(ctx context.Context, msg *notify.Message) {
	cmd, arg, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	var reply string
	switch cmd {
	case "start", "help":
		reply = helpText
	case "subscribe", "region", "city":
		reply = b.subscribe(ctx, chatID, arg, displayName(msg))
	case "unsubscribe":
		reply = b.unsubscribe(ctx, chatID)
	case "status":
		reply = b.status(ctx, chatID, arg)
	case "locations":
		reply = b.locations()
	default:
		reply = "Невідома команда. " + helpText
	}

	if err := b.sink.SendText(ctx, chatID, reply); err != nil {
		slog.Error("failed to reply", "chat", chatID, "command", cmd, "error", err)
	}
}

const helpText = `Команди:
/subscribe <область або місто> - підписатися на сповіщення
/unsubscribe - відписатися
/status [місце] - поточний стан тривоги
/locations - список областей`

func (b *Bot) subscribe(ctx context.Context, chatID, query, name string) string {
	if query == "" {
		return "Вкажіть місце: /subscribe Черкаси"
	}
	loc, ok := b.dir.Search(query)
	if !ok {
		return fmt.Sprintf("Не знайдено: %s", query)
	}

	err := b.store.UpsertWatch(ctx, chatID, loc.ID, name)
	switch {
	case errors.Is(err, subscribers.ErrUnknownLocation):
		return fmt.Sprintf("Не знайдено: %s", query)
	case err != nil:
		slog.Error("subscribe failed", "chat", chatID, "location", loc.ID, "error", err)
		return "Не вдалося зберегти підписку, спробуйте пізніше."
	}

	slog.Info("chat subscribed", "chat", chatID, "location", loc.ID)
	return fmt.Sprintf("✅ Підписка оформлена: %s", loc.Name)
}

func (b *Bot) unsubscribe(ctx context.Context, chatID string) string {
	removed, err := b.store.Remove(ctx, chatID)
	if err != nil {
		slog.Error("unsubscribe failed", "chat", chatID, "error", err)
		return "Не вдалося скасувати підписку, спробуйте пізніше."
	}
	if !removed {
		return "Ви не підписані."
	}
	slog.Info("chat unsubscribed", "chat", chatID)
	return "Підписку скасовано."
}

func (b *Bot) status(ctx context.Context, chatID, query string) string {
	var loc models.LocationNode
	if query != "" {
		found, ok := b.dir.Search(query)
		if !ok {
			return fmt.Sprintf("Не знайдено: %s", query)
		}
		loc = found
	} else {
		sub, err := b.store.Get(ctx, chatID)
		if err != nil {
			slog.Error("status lookup failed", "chat", chatID, "error", err)
			return "Не вдалося отримати дані, спробуйте пізніше."
		}
		if sub == nil {
			return "Ви не підписані. " + helpText
		}
		found, ok := b.dir.Get(sub.LocationID)
		if !ok {
			return "Місце підписки більше не підтримується, оберіть інше: /subscribe"
		}
		loc = found
	}

	alerts, err := b.source.FetchActiveAlerts(ctx)
	if err != nil {
		return "Дані про тривоги тимчасово недоступні."
	}

	var sb strings.Builder
	if b.resolver.IsActive(alerts, loc.ID) {
		fmt.Fprintf(&sb, "🔴 %s: тривога", loc.Name)
		summary := b.resolver.SummarizeLocation(alerts, loc.ID)
		if threats := resolver.ThreatTypes(b.resolver.DetailsFor(alerts, loc.ID)); len(threats) > 0 {
			fmt.Fprintf(&sb, "\n⚠️ %s", strings.Join(message.ThreatLabels(threats), ", "))
		}
		if len(summary.Districts) > 0 {
			fmt.Fprintf(&sb, "\n🏘 %s", strings.Join(summary.Districts, ", "))
			if summary.HasMore {
				sb.WriteString(" та інші")
			}
		}
	} else {
		fmt.Fprintf(&sb, "🟢 %s: тривоги немає", loc.Name)
	}

	country := b.resolver.Summarize(alerts)
	fmt.Fprintf(&sb, "\n🇺🇦 По країні: %d тривог, областей: %d", country.TotalAlerts, country.SubdivisionCount)
	return sb.String()
}

func (b *Bot) locations() string {
	var sb strings.Builder
	sb.WriteString("Області:")
	for _, n := range b.dir.Subdivisions() {
		fmt.Fprintf(&sb, "\n%s - %s", n.ID, n.Name)
	}
	return sb.String()
}

// parseCommand splits "/cmd@bot arg text" into its lower-cased command and
// trimmed argument.
func parseCommand(text string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func displayName(msg *notify.Message) string {
	if msg.Chat.Title != "" {
		return msg.Chat.Title
	}
	if u := msg.From; u != nil {
		if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
			return name
		}
		if u.Username != "" {
			return "@" + u.Username
		}
	}
	return strconv.FormatInt(msg.Chat.ID, 10)
}
