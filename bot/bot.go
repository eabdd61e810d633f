package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatwarden/model"
	"chatwarden/moderation"
	"chatwarden/raid"
	"chatwarden/scanner"
	"chatwarden/utils/database/activity"
	"chatwarden/utils/database/punishments"
	"chatwarden/utils/database/ranks"

	"github.com/bwmarrin/discordgo"
	"github.com/jmoiron/sqlx"
)

// incidentCooldown quiets repeat raid reports for chats without a join window
// and for detectors whose policy takes no action.
const incidentCooldown = time.Minute

// ActivityBackend is an activity store the scheduler can also purge.
type ActivityBackend interface {
	raid.ActivityStore
	scanner.Purger
}

type Bot struct {
	Session     *discordgo.Session
	Actions     *moderation.Actions
	Detector    *raid.Detector
	Incidents   *activity.IncidentLog
	Ranks       *ranks.Store
	Punishments *punishments.Store

	config    *model.Config
	platform  *Platform
	responder *raid.Responder
	scheduler *Scheduler
	log       *slog.Logger
}

// New assembles the bot around an open, migrated database. The gateway is
// not contacted until Open.
func New(cfg *model.Config, db *sqlx.DB, activityStore ActivityBackend, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dg, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent | discordgo.IntentsGuildMembers
	dg.StateEnabled = false

	b := &Bot{
		Session:     dg,
		Incidents:   activity.NewIncidentLog(db),
		Ranks:       ranks.New(db),
		Punishments: punishments.New(db),
		config:      cfg,
		log:         logger.With("component", "bot"),
	}
	b.platform = NewPlatform(dg, cfg.Chat, logger)

	manager := moderation.NewManager(b.Punishments, nil, logger)
	resolver := moderation.NewRankResolver(b.platform, b.Ranks, logger)
	b.Actions = moderation.NewActions(manager, resolver, moderation.NewPermissionChecker(b.Ranks), b.platform, b.platform, cfg.Chat, logger)
	b.Detector = raid.NewDetector(activityStore, b.Incidents, cfg.Chat, logger)
	b.scheduler = NewScheduler(manager, b.Actions, activityStore, cfg.Scheduler, logger)

	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onMessageCreate)
	dg.AddHandler(b.onGuildMemberAdd)
	dg.AddHandler(b.onInteractionCreate)
	return b, nil
}

// Open connects to the gateway, registers commands and starts the scheduler.
func (b *Bot) Open(ctx context.Context) error {
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}
	u := b.Session.State.User
	self := model.NewMember(u.ID, u.Username, u.GlobalName, true)
	b.responder = raid.NewResponder(b.Actions, b.platform, b.config.Chat, self, incidentCooldown, b.log)
	b.scheduler.cleaner.AddSweeper(b.responder.Alerts())

	b.RegisterCommands(ctx)
	b.scheduler.Start(ctx)
	return nil
}

// Close stops the scheduler before closing the gateway so in-flight
// compensations can still reach Discord.
func (b *Bot) Close() {
	b.log.Info("gracefully shutting down")
	b.scheduler.Stop()
	if err := b.Session.Close(); err != nil {
		b.log.Warn("failed to close gateway connection", "err", err)
	}
}
