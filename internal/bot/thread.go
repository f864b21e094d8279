package bot

import (
	"github.com/google/uuid"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/csync"
)

// thread is the state behind one button row. replyHistory seeds the next
// Reply; rerollHistory is the prompt a Retry regenerates from.
type thread struct {
	authorID      string
	replyHistory  string
	rerollHistory string
	character     character.Character
	temperature   *float64
}

// threads maps button thread ids to their state. Entries live for the
// process lifetime, like the views they back.
type threads struct {
	m *csync.Map[string, thread]
}

func newThreads() *threads {
	return &threads{m: csync.NewMap[string, thread]()}
}

// open stores t under a fresh id.
func (ts *threads) open(t thread) string {
	id := uuid.NewString()
	ts.m.Set(id, t)
	return id
}

func (ts *threads) get(id string) (thread, bool) {
	return ts.m.Get(id)
}

// rewind points a thread's Reply back at its reroll prompt, as after a Retry
// replaced the message content.
func (ts *threads) rewind(id string) {
	ts.m.Update(id, func(t thread, ok bool) (thread, bool) {
		if ok {
			t.replyHistory = t.rerollHistory
		}
		return t, ok
	})
}

func (ts *threads) forget(id string) {
	ts.m.Delete(id)
}

func (ts *threads) len() int {
	return ts.m.Len()
}
