package ledger

// HabitNames returns the user's habit names in stored order.
func (u *User) HabitNames() []string {
	names := make([]string, len(u.Habits))
	for i, h := range u.Habits {
		names[i] = h.Name
	}
	return names
}

func (u *User) TotalPoints() int {
	total := 0
	for _, h := range u.Habits {
		total += h.Points
	}
	return total
}

func (u *User) FindHabit(id string) (Habit, bool) {
	for _, h := range u.Habits {
		if h.ID != "" && h.ID == id {
			return h, true
		}
	}
	return Habit{}, false
}

// ReminderChat is where proactive messages for the user go. Private chats
// share the user's id, so that is the fallback.
func (u *User) ReminderChat() int64 {
	if u.ChatID != 0 {
		return u.ChatID
	}
	return u.ID
}

// EventsForHabit returns up to n of the most recent events linked to habit,
// oldest first. Events carrying a habit id are linked by id; older events
// without one fall back to the name they were recorded under.
func EventsForHabit(events []Event, habit Habit, n int) []Event {
	var linked []Event
	for _, ev := range events {
		if belongsTo(ev, habit) {
			linked = append(linked, ev)
		}
	}

	if n > 0 && len(linked) > n {
		linked = linked[len(linked)-n:]
	}

	return linked
}

func belongsTo(ev Event, habit Habit) bool {
	if ev.HabitID != "" && habit.ID != "" {
		return ev.HabitID == habit.ID
	}
	return ev.HabitName == habit.Name
}

// LastN returns the trailing n events, the window used as oracle context.
func LastN(events []Event, n int) []Event {
	if n <= 0 || len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}
