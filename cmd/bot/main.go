// Command bot runs the Discord-like gateway process: the Interaction
// Router (spec.md §4.I), which reacts to Join/Leave button clicks, and
// the Event Consumer (§4.F), which reconciles chat announcements from
// every domain event. Both share one discordgo.Session and chat.Client
// since both are the chat platform's side of the system.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/bwmarrin/discordgo"

	"github.com/tableup/scheduler/internal/announcer"
	"github.com/tableup/scheduler/internal/broker"
	"github.com/tableup/scheduler/internal/cache"
	"github.com/tableup/scheduler/internal/chat"
	"github.com/tableup/scheduler/internal/config"
	"github.com/tableup/scheduler/internal/db"
	"github.com/tableup/scheduler/internal/interaction"
	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init("tableup-bot")
	if err != nil {
		log.Fatal(ctx, "bot: telemetry init failed")
	}
	defer shutdownTelemetry(context.Background())

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(ctx, "bot: db connect failed")
	}
	defer database.Close()

	redisCache, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Fatal(ctx, "bot: cache connect failed")
	}

	bkr, err := broker.Dial(ctx, cfg.BrokerURL)
	if err != nil {
		log.Fatal(ctx, "bot: broker dial failed")
	}
	defer bkr.Close()

	session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		log.Fatal(ctx, "bot: discord session init failed")
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	const announcerQueue = "tableup.announcer"
	if err := bkr.DeclareConsumerQueue(announcerQueue, "#"); err != nil {
		log.Fatal(ctx, "bot: declare announcer queue failed")
	}

	chatClient := chat.NewDiscordClient(session, 5)
	router := interaction.New(database, bkr, chatClient, log)
	consumer := announcer.New(database, redisCache, chatClient, bkr, log)

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		handleInteraction(ctx, s, i, router, log)
	})

	if err := session.Open(); err != nil {
		log.Fatal(ctx, "bot: gateway open failed")
	}
	defer session.Close()

	go func() {
		if err := consumer.Run(ctx, announcerQueue, "bot-announcer", cfg.BrokerPrefetch); err != nil {
			log.Error(ctx, "bot: event consumer stopped")
		}
	}()

	log.Info(ctx, "bot: connected, awaiting interactions")
	<-ctx.Done()
	log.Info(context.Background(), "bot: shutting down")
}

// handleInteraction acknowledges a Join/Leave button click within the
// platform's response budget, then hands off to the Interaction
// Router. The ack is best-effort: an already-acknowledged interaction
// is a non-error per spec.md §4.I/§6.
func handleInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, router *interaction.Router, log *logging.Logger) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := i.MessageComponentData()
	action, sessionID, err := interaction.ParseCustomID(data.CustomID)
	if err != nil {
		log.Error(ctx, "bot: malformed custom_id "+data.CustomID)
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.Error(ctx, "bot: deferred ack failed")
	}

	tenantExternalID, err := strconv.ParseInt(i.GuildID, 10, 64)
	if err != nil {
		log.Error(ctx, "bot: malformed guild id on interaction")
		return
	}
	member := i.Member
	if member == nil || member.User == nil {
		log.Error(ctx, "bot: interaction missing member")
		return
	}
	userExternalID, err := strconv.ParseInt(member.User.ID, 10, 64)
	if err != nil {
		log.Error(ctx, "bot: malformed user id on interaction")
		return
	}

	if err := router.Handle(ctx, action, sessionID, tenantExternalID, userExternalID); err != nil {
		log.Error(ctx, "bot: interaction handling failed")
	}
}
