package reschedule

import (
	"sort"
	"sync"

	"github.com/julianstephens/milkrun/internal/calendar"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/utils"
)

// Selection is the set of dates picked for a bulk move. It only accepts
// dates while active; removal is always allowed so a date that stops being
// eligible mid-session can still be dropped.
type Selection struct {
	mu     sync.Mutex
	active bool
	dates  []string
}

// Enter starts a new selection session with an empty set.
func (s *Selection) Enter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.dates = nil
}

// Exit leaves selection mode and clears the set.
func (s *Selection) Exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.dates = nil
}

func (s *Selection) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Toggle flips date in or out of the set and reports whether it is selected
// afterwards. A date is only added when its delivery is eligible for a move.
func (s *Selection) Toggle(date string, d *models.Delivery, today string) bool {
	key := utils.DateKey(date)
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.dates {
		if existing == key {
			s.dates = append(s.dates[:i], s.dates[i+1:]...)
			return false
		}
	}
	if !s.active || d == nil || !utils.SameDay(d.Date, key) || !calendar.Eligible(d, today) {
		return false
	}
	s.dates = append(s.dates, key)
	sortDates(s.dates)
	return true
}

// Contains reports whether date is selected.
func (s *Selection) Contains(date string) bool {
	key := utils.DateKey(date)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.dates {
		if existing == key {
			return true
		}
	}
	return false
}

// Dates returns the selected dates in calendar order.
func (s *Selection) Dates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dates...)
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dates)
}

func sortDates(dates []string) {
	sort.Slice(dates, func(i, j int) bool { return utils.CompareDates(dates[i], dates[j]) < 0 })
}
