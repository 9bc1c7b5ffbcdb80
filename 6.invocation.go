package main

import (
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
)

// Invocation is the handle a workflow uses to talk back to whoever triggered it.
type Invocation interface {
	UserID() snowflake.ID
	Username() string
	// Reply sends the first response, or a follow-up once the interaction was answered.
	Reply(r Reply) error
	// Update edits the message the interaction belongs to.
	Update(r Reply) error
	Delete() error
	FollowUp(r Reply) error
}

// ReplyButton is rendered as a button in a single action row under the text.
type ReplyButton struct {
	Label    string
	CustomID string
	Style    discord.ButtonStyle
}

type Reply struct {
	Content   string
	Ephemeral bool
	Buttons   []ReplyButton
}

func (r Reply) container() discord.ContainerComponent {
	components := []discord.ContainerSubComponent{discord.NewTextDisplay(r.Content)}
	if len(r.Buttons) > 0 {
		var row []discord.InteractiveComponent
		for _, b := range r.Buttons {
			row = append(row, discord.NewButton(b.Style, b.Label, b.CustomID, "", 0))
		}
		components = append(components,
			discord.NewSeparator(discord.SeparatorSpacingSizeSmall).WithDivider(true),
			discord.NewActionRow(row...),
		)
	}
	return discord.NewContainer(components...)
}

func (r Reply) messageCreate() discord.MessageCreate {
	return discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(r.container()).
		SetEphemeral(r.Ephemeral).
		Build()
}

func (r Reply) messageUpdate() discord.MessageUpdate {
	return discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true).
		SetComponents(r.container()).
		Build()
}

// ===========================
// disgo adapter
// ===========================

type discordInvocation struct {
	client        *bot.Client
	applicationID snowflake.ID
	token         string
	user          discord.User

	create func(discord.MessageCreate) error
	update func(discord.MessageUpdate) error // only set for component interactions

	mu        sync.Mutex
	responded bool
}

func newCommandInvocation(event *events.ApplicationCommandInteractionCreate) *discordInvocation {
	return &discordInvocation{
		client:        event.Client(),
		applicationID: event.ApplicationID(),
		token:         event.Token(),
		user:          event.User(),
		create: func(m discord.MessageCreate) error {
			return event.CreateMessage(m)
		},
	}
}

func newComponentInvocation(event *events.ComponentInteractionCreate) *discordInvocation {
	return &discordInvocation{
		client:        event.Client(),
		applicationID: event.ApplicationID(),
		token:         event.Token(),
		user:          event.User(),
		create: func(m discord.MessageCreate) error {
			return event.CreateMessage(m)
		},
		update: func(m discord.MessageUpdate) error {
			return event.UpdateMessage(m)
		},
	}
}

func (i *discordInvocation) UserID() snowflake.ID { return i.user.ID }
func (i *discordInvocation) Username() string     { return i.user.Username }

func (i *discordInvocation) Reply(r Reply) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.responded {
		if err := i.create(r.messageCreate()); err != nil {
			return err
		}
		i.responded = true
		return nil
	}
	_, err := i.client.Rest.CreateFollowupMessage(i.applicationID, i.token, r.messageCreate())
	return err
}

func (i *discordInvocation) Update(r Reply) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.responded && i.update != nil {
		if err := i.update(r.messageUpdate()); err != nil {
			return err
		}
		i.responded = true
		return nil
	}
	_, err := i.client.Rest.UpdateInteractionResponse(i.applicationID, i.token, r.messageUpdate())
	return err
}

func (i *discordInvocation) Delete() error {
	return i.client.Rest.DeleteInteractionResponse(i.applicationID, i.token)
}

func (i *discordInvocation) FollowUp(r Reply) error {
	i.mu.Lock()
	responded := i.responded
	i.mu.Unlock()

	if !responded {
		return i.Reply(r)
	}
	_, err := i.client.Rest.CreateFollowupMessage(i.applicationID, i.token, r.messageCreate())
	return err
}
