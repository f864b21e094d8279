package console

import (
	"fmt"
	"strings"

	"github.com/billie-coop/personabot/internal/character"
)

// turn is one user message and the reply it produced.
type turn struct {
	input     string
	prompt    string
	reply     string
	failed    bool
	character character.Character
}

// conversation accumulates turns the same way a Discord reply thread does:
// each prompt is the previous prompt, the previous reply, and the new input.
type conversation struct {
	turns []turn
}

// history is the text the next prompt builds on.
func (c *conversation) history() string {
	for i := len(c.turns) - 1; i >= 0; i-- {
		t := c.turns[i]
		if t.failed || t.reply == "" {
			continue
		}
		return fmt.Sprintf("%s\n**%s:**\n%s", t.prompt, t.character.Name, t.reply)
	}
	return ""
}

// next returns the full prompt for input.
func (c *conversation) next(input string) string {
	h := c.history()
	if h == "" {
		return input
	}
	return h + "\n **user:**" + input
}

// begin appends a pending turn and returns its prompt.
func (c *conversation) begin(input string, ch character.Character) string {
	prompt := c.next(input)
	c.turns = append(c.turns, turn{input: input, prompt: prompt, character: ch})
	return prompt
}

// finish fills in the reply of the last turn.
func (c *conversation) finish(reply string, failed bool) {
	if len(c.turns) == 0 {
		return
	}
	last := &c.turns[len(c.turns)-1]
	last.reply = reply
	last.failed = failed
}

// last returns the most recent turn.
func (c *conversation) last() (turn, bool) {
	if len(c.turns) == 0 {
		return turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// retry clears the last reply so it can be regenerated from the same prompt.
func (c *conversation) retry() (turn, bool) {
	if len(c.turns) == 0 {
		return turn{}, false
	}
	last := &c.turns[len(c.turns)-1]
	last.reply = ""
	last.failed = false
	return *last, true
}

// drop removes the last turn.
func (c *conversation) drop() bool {
	if len(c.turns) == 0 {
		return false
	}
	c.turns = c.turns[:len(c.turns)-1]
	return true
}

// markdown renders the transcript for display.
func (c *conversation) markdown() string {
	var b strings.Builder
	for _, t := range c.turns {
		fmt.Fprintf(&b, "**you:** %s\n\n", t.input)
		switch {
		case t.reply == "" && !t.failed:
			fmt.Fprintf(&b, "_%s is thinking..._\n\n", t.character.Name)
		case t.failed:
			fmt.Fprintf(&b, "_%s_\n\n", t.reply)
		default:
			fmt.Fprintf(&b, "**%s:** %s\n\n", t.character.Name, t.reply)
		}
	}
	return b.String()
}

// log renders the transcript as plain text for log.txt.
func (c *conversation) log() string {
	var b strings.Builder
	for _, t := range c.turns {
		fmt.Fprintf(&b, "user: %s\n", t.input)
		if t.reply != "" {
			fmt.Fprintf(&b, "%s: %s\n", t.character.Name, t.reply)
		}
		b.WriteString("\n")
	}
	return b.String()
}
