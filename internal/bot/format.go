package bot

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	// maxReplyRunes caps the generated text placed in a reply.
	maxReplyRunes = 1800
	// maxMessageLen is Discord's message length limit.
	maxMessageLen = 2000

	failureText    = "Failed to generate a response. Please try again."
	noPermission   = "You do not have permission to use this command."
	expiredText    = "This conversation has expired. Start a new one with /talk."
	retryingText   = "Retrying..."
	logTooLarge    = "Log is too large, sending as a file."
	logFileName    = "log.txt"
	promptMaxChars = 256
)

// formatReply prefixes the character name and truncates the text.
func formatReply(name, text string) string {
	return fmt.Sprintf("**%s:**\n%s", name, truncateRunes(text, maxReplyRunes))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// modalPrompt builds the prompt for a Reply modal submission.
func modalPrompt(history, prompt string) string {
	return history + "\n **user:**" + prompt
}

// messageReplyPrompt builds the prompt for a plain Discord reply to one of
// the bot's messages.
func messageReplyPrompt(original, reply string) string {
	return original + "\n user:" + reply
}

// logText renders a thread log. The second return reports whether it must
// be sent as a file.
func logText(rerollHistory, content string) (string, bool) {
	text := fmt.Sprintf("```%s \n %s```", rerollHistory, content)
	return text, len(text) >= maxMessageLen
}

// Button actions encoded in component custom ids as "<action>:<thread id>".
const (
	actionReply  = "reply"
	actionRetry  = "retry"
	actionDelete = "delete"
	actionLog    = "log"
	actionModal  = "modal"
)

func customID(action, threadID string) string {
	return action + ":" + threadID
}

func parseCustomID(id string) (action, threadID string, ok bool) {
	action, threadID, ok = strings.Cut(id, ":")
	if !ok || action == "" || threadID == "" {
		return "", "", false
	}
	return action, threadID, true
}

// buttonRow is the component row attached to every generated reply.
func buttonRow(threadID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "↪️ Reply", Style: discordgo.PrimaryButton, CustomID: customID(actionReply, threadID)},
				discordgo.Button{Label: "🔄 Retry", Style: discordgo.SuccessButton, CustomID: customID(actionRetry, threadID)},
				discordgo.Button{Label: "🗑️ Delete", Style: discordgo.DangerButton, CustomID: customID(actionDelete, threadID)},
				discordgo.Button{Label: "📝 Log", Style: discordgo.SecondaryButton, CustomID: customID(actionLog, threadID)},
			},
		},
	}
}

// replyModal asks for the next prompt in a thread.
func replyModal(threadID string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: customID(actionModal, threadID),
		Title:    "Reply",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "prompt",
						Label:       "Prompt",
						Style:       discordgo.TextInputParagraph,
						Placeholder: "Enter a prompt",
						Required:    true,
						MaxLength:   promptMaxChars,
					},
				},
			},
		},
	}
}

// modalValue returns the first text input value of a modal submission.
func modalValue(data discordgo.ModalSubmitInteractionData) string {
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				return input.Value
			}
		}
	}
	return ""
}

// avatarDataURI reads an image file and encodes it the way the Discord API
// expects for avatar updates.
func avatarDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read avatar: %w", err)
	}
	mime := http.DetectContentType(data)
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}

// interactionUser returns the invoking user in guilds and DMs alike.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func hasAnyRole(member *discordgo.Member, allowed []string) bool {
	if member == nil {
		return false
	}
	for _, role := range member.Roles {
		for _, want := range allowed {
			if role == want {
				return true
			}
		}
	}
	return false
}
