package bot

import (
	"github.com/bwmarrin/discordgo"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/llm/queue"
)

const (
	commandTalk            = "talk"
	commandChangeCharacter = "change_character"

	// Discord caps option choices at 25.
	maxChoices = 25
)

func characterChoices(roster *character.Roster) []*discordgo.ApplicationCommandOptionChoice {
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, ch := range roster.All() {
		if len(choices) == maxChoices {
			break
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: ch.Name, Value: ch.ID})
	}
	return choices
}

// commands returns the slash command definitions registered on ready.
func commands(roster *character.Roster) []*discordgo.ApplicationCommand {
	minTemp := queue.MinTemperature
	choices := characterChoices(roster)

	return []*discordgo.ApplicationCommand{
		{
			Name:        commandTalk,
			Description: "Talk to the AI",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message",
					Description: "What to say",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "temperature",
					Description: "Sampling temperature",
					MinValue:    &minTemp,
					MaxValue:    queue.MaxTemperature,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "character_name",
					Description: "Who answers",
					Choices:     choices,
				},
			},
		},
		{
			Name:        commandChangeCharacter,
			Description: "Change the character",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Character to switch to",
					Required:    true,
					Choices:     choices,
				},
			},
		},
	}
}

// talkArgs are the parsed /talk options.
type talkArgs struct {
	message     string
	temperature *float64
	characterID string
}

func parseTalk(opts []*discordgo.ApplicationCommandInteractionDataOption) talkArgs {
	var args talkArgs
	for _, opt := range opts {
		switch opt.Name {
		case "message":
			args.message = opt.StringValue()
		case "temperature":
			t := opt.FloatValue()
			args.temperature = &t
		case "character_name":
			args.characterID = opt.StringValue()
		}
	}
	return args
}

func optionString(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range opts {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}
