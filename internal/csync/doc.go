// Package csync provides small thread-safe containers.
//
// The Discord adapter keeps its button thread table in a Map, since
// interaction handlers run on discordgo's event goroutines concurrently.
//
//	threads := csync.NewMap[string, *Thread]()
//	threads.Set(id, thread)
//	threads.Update(id, func(t *Thread, ok bool) (*Thread, bool) {
//		if ok {
//			t.History = append(t.History, reply)
//		}
//		return t, ok
//	})
package csync
