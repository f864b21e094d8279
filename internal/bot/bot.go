// Package bot is the Discord front end. It turns slash commands, buttons,
// modals and message replies into generation requests on the shared queue,
// and applies persona switches to the bot account.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/llm"
	"github.com/billie-coop/personabot/internal/llm/queue"
)

// Generator produces completions. *queue.Manager implements it.
type Generator interface {
	Submit(ctx context.Context, prompt string, ch character.Character, temperature *float64, opts ...queue.Option) (*llm.Completion, error)
}

// Options configures a Bot.
type Options struct {
	Token            string
	Generator        Generator
	Roster           *character.Roster
	Registry         *character.Registry
	Rotator          *character.Rotator
	RotateEvery      time.Duration
	AnnounceChannels []string
	ElevatedRoles    []string
	Logger           *zap.Logger
}

// Bot owns the Discord session.
type Bot struct {
	session *discordgo.Session
	opts    Options
	logger  *zap.Logger
	threads *threads

	ctx   context.Context
	ready chan struct{}
}

// New creates a bot. The session is not opened until Run.
func New(opts Options) (*Bot, error) {
	if opts.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if opts.Generator == nil || opts.Roster == nil || opts.Registry == nil {
		return nil, errors.New("generator, roster and registry are required")
	}

	session, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bot{
		session: session,
		opts:    opts,
		logger:  logger.Named("bot"),
		threads: newThreads(),
		ctx:     context.Background(),
		ready:   make(chan struct{}),
	}

	session.AddHandlerOnce(b.onReady)
	session.AddHandler(b.onInteraction)
	session.AddHandler(b.onMessage)
	return b, nil
}

// Run opens the session and serves until ctx ends. The rotation loop starts
// once Discord reports ready.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	defer func() {
		if err := b.session.Close(); err != nil {
			b.logger.Warn("Failed to close discord session", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-b.ready:
		case <-gctx.Done():
			return nil
		}
		if b.opts.Rotator != nil && b.opts.RotateEvery > 0 {
			b.opts.Rotator.Run(gctx, b.opts.RotateEvery, func(ctx context.Context, ch character.Character) {
				b.ApplyCharacter(ctx, ch, false)
			})
		}
		return nil
	})

	<-gctx.Done()
	return g.Wait()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("Connected to Discord",
		zap.String("user", r.User.Username),
		zap.Int("guilds", len(r.Guilds)))

	b.ApplyCharacter(b.ctx, b.opts.Registry.Current(), true)

	cmds, err := s.ApplicationCommandBulkOverwrite(r.User.ID, "", commands(b.opts.Roster))
	if err != nil {
		b.logger.Error("Failed to sync commands", zap.Error(err))
	} else {
		names := make([]string, len(cmds))
		for i, c := range cmds {
			names[i] = c.Name
		}
		b.logger.Info("Synced commands", zap.Strings("commands", names))
	}

	close(b.ready)
}

// ApplyCharacter makes ch the current persona: registry, avatar, presence,
// per-guild nickname, and unless silent an intro in the announce channels.
// Discord failures are logged and never stop the switch.
func (b *Bot) ApplyCharacter(ctx context.Context, ch character.Character, silent bool) {
	if ch.IsZero() {
		return
	}
	b.opts.Registry.Set(ch)
	log := b.logger.With(zap.String("character", ch.ID))

	if ch.Avatar != "" {
		if avatar, err := avatarDataURI(ch.Avatar); err != nil {
			log.Warn("Failed to load avatar", zap.Error(err))
		} else if _, err := b.session.UserUpdate("", avatar, discordgo.WithContext(ctx)); err != nil {
			log.Warn("Failed to update avatar", zap.Error(err))
		}
	}

	if err := b.session.UpdateGameStatus(0, ch.Name); err != nil {
		log.Warn("Failed to update presence", zap.Error(err))
	}

	for _, guild := range b.session.State.Guilds {
		if err := b.session.GuildMemberNickname(guild.ID, "@me", ch.Name, discordgo.WithContext(ctx)); err != nil {
			log.Warn("Failed to set nickname", zap.String("guild", guild.ID), zap.Error(err))
		}
	}

	if !silent && ch.IntroMessage != "" {
		for _, channelID := range b.opts.AnnounceChannels {
			if _, err := b.session.ChannelMessageSend(channelID, ch.IntroMessage, discordgo.WithContext(ctx)); err != nil {
				log.Warn("Failed to announce character", zap.String("channel", channelID), zap.Error(err))
			}
		}
	}

	log.Info("Character applied", zap.String("name", ch.Name), zap.Bool("silent", silent))
}

// generate submits a prompt and formats the reply. ok is false when
// generation failed and text holds the failure message.
func (b *Bot) generate(prompt string, ch character.Character, temperature *float64, source string) (text string, ok bool) {
	completion, err := b.opts.Generator.Submit(b.ctx, prompt, ch, temperature, queue.WithSource(source))
	if err != nil {
		b.logger.Warn("Generation failed",
			zap.String("source", source),
			zap.String("character", ch.ID),
			zap.Error(err))
		return failureText, false
	}
	return formatReply(ch.Name, completion.Text), true
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		switch data.Name {
		case commandTalk:
			b.handleTalk(s, i, parseTalk(data.Options))
		case commandChangeCharacter:
			b.handleChangeCharacter(s, i, optionString(data.Options, "name"))
		}
	case discordgo.InteractionMessageComponent:
		b.handleButton(s, i)
	case discordgo.InteractionModalSubmit:
		b.handleModal(s, i)
	}
}

func (b *Bot) handleTalk(s *discordgo.Session, i *discordgo.InteractionCreate, args talkArgs) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		b.logger.Error("Failed to defer talk", zap.Error(err))
		return
	}

	ch := b.opts.Registry.Current()
	if args.characterID != "" {
		if picked, ok := b.opts.Roster.Get(args.characterID); ok {
			ch = picked
		}
	}

	text, _ := b.generate(args.message, ch, args.temperature, "talk")
	threadID := b.threads.open(thread{
		authorID:      interactionUser(i).ID,
		replyHistory:  args.message,
		rerollHistory: args.message,
		character:     ch,
		temperature:   args.temperature,
	})

	if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content:    text,
		Components: buttonRow(threadID),
	}); err != nil {
		b.logger.Error("Failed to send talk reply", zap.Error(err))
	}
}

func (b *Bot) handleChangeCharacter(s *discordgo.Session, i *discordgo.InteractionCreate, id string) {
	if !hasAnyRole(i.Member, b.opts.ElevatedRoles) {
		b.respondEphemeral(s, i, noPermission)
		return
	}

	ch, ok := b.opts.Roster.Get(id)
	if !ok {
		b.respondEphemeral(s, i, fmt.Sprintf("Unknown character %q.", id))
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		b.logger.Error("Failed to defer change_character", zap.Error(err))
		return
	}

	b.ApplyCharacter(b.ctx, ch, false)

	if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: fmt.Sprintf("Switched to %s.", ch.Name),
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		b.logger.Warn("Failed to confirm character change", zap.Error(err))
	}
}

func (b *Bot) handleButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	action, threadID, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}
	t, ok := b.threads.get(threadID)
	if !ok {
		b.respondEphemeral(s, i, expiredText)
		return
	}

	// Log is open to everyone; the rest belong to the thread's author.
	if action != actionLog && interactionUser(i).ID != t.authorID {
		b.acknowledge(s, i)
		return
	}

	switch action {
	case actionReply:
		b.openReplyModal(s, i, t)
	case actionRetry:
		b.retry(s, i, threadID, t)
	case actionDelete:
		b.acknowledge(s, i)
		if err := s.ChannelMessageDelete(i.Message.ChannelID, i.Message.ID); err != nil {
			b.logger.Warn("Failed to delete message", zap.Error(err))
			return
		}
		b.threads.forget(threadID)
	case actionLog:
		b.sendLog(s, i, t)
	}
}

func (b *Bot) openReplyModal(s *discordgo.Session, i *discordgo.InteractionCreate, t thread) {
	next := t
	next.replyHistory = t.replyHistory + "\n" + i.Message.Content
	modalID := b.threads.open(next)

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: replyModal(modalID),
	}); err != nil {
		b.logger.Error("Failed to open reply modal", zap.Error(err))
		b.threads.forget(modalID)
	}
}

func (b *Bot) retry(s *discordgo.Session, i *discordgo.InteractionCreate, threadID string, t thread) {
	b.acknowledge(s, i)

	content := retryingText
	none := []discordgo.MessageComponent{}
	if _, err := s.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         i.Message.ID,
		Channel:    i.Message.ChannelID,
		Content:    &content,
		Components: &none,
	}); err != nil {
		b.logger.Warn("Failed to mark message as retrying", zap.Error(err))
	}

	text, _ := b.generate(t.rerollHistory, t.character, t.temperature, "retry")
	b.threads.rewind(threadID)

	row := buttonRow(threadID)
	if _, err := s.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         i.Message.ID,
		Channel:    i.Message.ChannelID,
		Content:    &text,
		Components: &row,
	}); err != nil {
		b.logger.Error("Failed to edit retried message", zap.Error(err))
	}
}

func (b *Bot) sendLog(s *discordgo.Session, i *discordgo.InteractionCreate, t thread) {
	text, asFile := logText(t.rerollHistory, i.Message.Content)

	data := &discordgo.InteractionResponseData{Content: text, Flags: discordgo.MessageFlagsEphemeral}
	if asFile {
		data = &discordgo.InteractionResponseData{
			Content: logTooLarge,
			Files: []*discordgo.File{{
				Name:        logFileName,
				ContentType: "text/plain",
				Reader:      strings.NewReader(text),
			}},
		}
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		b.logger.Error("Failed to send log", zap.Error(err))
	}
}

func (b *Bot) handleModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()
	action, modalID, ok := parseCustomID(data.CustomID)
	if !ok || action != actionModal {
		return
	}
	t, ok := b.threads.get(modalID)
	b.threads.forget(modalID)
	if !ok {
		b.respondEphemeral(s, i, expiredText)
		return
	}

	prompt := modalValue(data)
	user := interactionUser(i)
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: fmt.Sprintf("%s: %s", user.Mention(), prompt)},
	}); err != nil {
		b.logger.Error("Failed to echo reply prompt", zap.Error(err))
		return
	}

	fullPrompt := modalPrompt(t.replyHistory, prompt)
	text, ok := b.generate(fullPrompt, t.character, t.temperature, "reply")

	next := thread{
		authorID:      t.authorID,
		replyHistory:  fullPrompt + "\n" + text,
		rerollHistory: fullPrompt,
		character:     t.character,
		temperature:   t.temperature,
	}
	if !ok {
		next.replyHistory = t.replyHistory
		next.rerollHistory = t.replyHistory
	}

	b.replyTo(s, i.Message, text, b.threads.open(next))
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.MessageReference == nil {
		return
	}

	original := m.ReferencedMessage
	if original == nil {
		var err error
		original, err = s.ChannelMessage(m.ChannelID, m.MessageReference.MessageID)
		if err != nil {
			b.logger.Warn("Failed to fetch referenced message", zap.Error(err))
			return
		}
	}
	if original.Author == nil || original.Author.ID != s.State.User.ID {
		return
	}

	ch := b.opts.Registry.Current()
	fullContext := messageReplyPrompt(original.Content, m.Content)
	text, ok := b.generate(fullContext, ch, nil, "message")

	next := thread{
		authorID:      m.Author.ID,
		replyHistory:  text,
		rerollHistory: fullContext,
		character:     ch,
	}
	if !ok {
		next.replyHistory = fullContext
	}
	b.replyTo(s, m.Message, text, b.threads.open(next))
}

// replyTo posts text as a reply to msg with a fresh button row.
func (b *Bot) replyTo(s *discordgo.Session, msg *discordgo.Message, text, threadID string) {
	if msg == nil {
		b.logger.Warn("No message to reply to", zap.String("thread", threadID))
		return
	}
	if _, err := s.ChannelMessageSendComplex(msg.ChannelID, &discordgo.MessageSend{
		Content:    text,
		Components: buttonRow(threadID),
		Reference:  msg.Reference(),
	}); err != nil {
		b.logger.Error("Failed to send reply", zap.Error(err))
	}
}

func (b *Bot) respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, text string) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text, Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		b.logger.Warn("Failed to respond", zap.Error(err))
	}
}

// acknowledge answers a component interaction without changing anything.
func (b *Bot) acknowledge(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		b.logger.Warn("Failed to acknowledge interaction", zap.Error(err))
	}
}
