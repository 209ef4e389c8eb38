// Package notes keeps the notes and reminders the agent manages through
// client tools during a conversation.
package notes

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voicechat/internal/utils"
)

type Note struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Reminder struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Notes     string    `json:"notes"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is an in-memory notes and reminders store, safe for concurrent use.
// Notes are kept newest first, reminders by date.
type Store struct {
	mu        sync.Mutex
	notes     []Note
	reminders []Reminder

	now func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// AddNote stores a note and returns it with the number of notes stored.
func (s *Store) AddNote(title, content string) (Note, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	note := Note{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.notes = slices.Insert(s.notes, 0, note)
	return note, len(s.notes)
}

// AddReminder stores a reminder and returns it with the number of reminders
// stored.
func (s *Store) AddReminder(title, notes string, date time.Time) (Reminder, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder := Reminder{
		ID:        uuid.NewString(),
		Title:     title,
		Notes:     notes,
		Date:      date,
		CreatedAt: s.now(),
	}
	i, _ := slices.BinarySearchFunc(s.reminders, date, func(r Reminder, date time.Time) int {
		return r.Date.Compare(date)
	})
	// Reminders at the same time keep insertion order
	for i < len(s.reminders) && s.reminders[i].Date.Equal(date) {
		i++
	}
	s.reminders = slices.Insert(s.reminders, i, reminder)
	return reminder, len(s.reminders)
}

// Lookup selects a note or reminder by ID, or by title when the ID is empty.
// Partial matches the title case-insensitively as a substring, otherwise the
// whole title has to match, ignoring case.
type Lookup struct {
	ID      string
	Title   string
	Partial bool
}

func (l Lookup) IsZero() bool {
	return l.ID == "" && l.Title == ""
}

func (l Lookup) matches(id, title string) bool {
	switch {
	case l.ID != "":
		return l.ID == id
	case l.Partial:
		return strings.Contains(strings.ToLower(title), strings.ToLower(l.Title))
	default:
		return strings.EqualFold(title, l.Title)
	}
}

// UpdateNote replaces the title and content of the first matching note.
// Empty values keep the current ones.
func (s *Store) UpdateNote(lookup Lookup, title, content string) (Note, bool) {
	return s.updateNote(lookup, func(note *Note) {
		if title != "" {
			note.Title = title
		}
		if content != "" {
			note.Content = content
		}
	})
}

// SetCompleted marks the first matching note as completed or not.
func (s *Store) SetCompleted(lookup Lookup, completed bool) (Note, bool) {
	return s.updateNote(lookup, func(note *Note) {
		note.Completed = completed
		note.CompletedAt = nil
		if completed {
			note.CompletedAt = utils.Ptr(s.now())
		}
	})
}

func (s *Store) updateNote(lookup Lookup, update func(note *Note)) (Note, bool) {
	if lookup.IsZero() {
		return Note{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.notes, func(n Note) bool { return lookup.matches(n.ID, n.Title) })
	if i < 0 {
		return Note{}, false
	}

	update(&s.notes[i])
	s.notes[i].UpdatedAt = s.now()
	return s.notes[i], true
}

func (s *Store) DeleteNote(lookup Lookup) (Note, bool) {
	if lookup.IsZero() {
		return Note{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.notes, func(n Note) bool { return lookup.matches(n.ID, n.Title) })
	if i < 0 {
		return Note{}, false
	}

	note := s.notes[i]
	s.notes = slices.Delete(s.notes, i, i+1)
	return note, true
}

func (s *Store) DeleteReminder(lookup Lookup) (Reminder, bool) {
	if lookup.IsZero() {
		return Reminder{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.reminders, func(r Reminder) bool { return lookup.matches(r.ID, r.Title) })
	if i < 0 {
		return Reminder{}, false
	}

	reminder := s.reminders[i]
	s.reminders = slices.Delete(s.reminders, i, i+1)
	return reminder, true
}

// Notes returns the notes whose title or content contains search, newest
// first. An empty search returns all notes.
func (s *Store) Notes(search string) []Note {
	s.mu.Lock()
	defer s.mu.Unlock()

	search = strings.ToLower(search)
	found := []Note{}
	for _, note := range s.notes {
		if contains(search, note.Title, note.Content) {
			found = append(found, note)
		}
	}
	return found
}

// Reminders returns the reminders whose title or notes contain search,
// soonest first. An empty search returns all reminders.
func (s *Store) Reminders(search string) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	search = strings.ToLower(search)
	found := []Reminder{}
	for _, reminder := range s.reminders {
		if contains(search, reminder.Title, reminder.Notes) {
			found = append(found, reminder)
		}
	}
	return found
}

func contains(search string, fields ...string) bool {
	if search == "" {
		return true
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}
