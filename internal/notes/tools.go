package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-voicechat/core/convai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ToolAddNote      = "add_note"
	ToolAddReminder  = "add_reminder"
	ToolModifyNote   = "modify_note"
	ToolCompleteNote = "complete_note"
	ToolDeleteNote   = "delete_note"
	ToolGetNotes     = "get_notes"

	defaultNoteTitle     = "Untitled Note"
	defaultReminderTitle = "Untitled Reminder"

	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	recentItems = 3
)

var ErrInvalidParameters = errors.New("invalid tool parameters")

type addNoteParams struct {
	Title   string `json:"title,omitempty" jsonschema:"description=Title of the note"`
	Content string `json:"content" jsonschema:"required,description=Content of the note"`
}

type addReminderParams struct {
	Title   string `json:"title,omitempty" jsonschema:"description=Title of the reminder"`
	Content string `json:"content" jsonschema:"required,description=Content of the reminder"`
	Date    string `json:"date,omitempty" jsonschema:"description=Date for the reminder (YYYY-MM-DD format)"`
	Time    string `json:"time,omitempty" jsonschema:"description=Time for the reminder (HH:MM format)"`
}

type modifyNoteParams struct {
	ID      string `json:"id,omitempty" jsonschema:"description=ID of the note to modify"`
	Title   string `json:"title,omitempty" jsonschema:"description=New title when the note is picked by ID or part of the title to find the note"`
	Content string `json:"content,omitempty" jsonschema:"description=New content for the note"`
}

type completeNoteParams struct {
	ID        string    `json:"id,omitempty" jsonschema:"description=ID of the note to complete"`
	Title     string    `json:"title,omitempty" jsonschema:"description=Title of the note to complete"`
	Completed *flexBool `json:"completed,omitempty"`
}

type deleteNoteParams struct {
	ID    string `json:"id,omitempty" jsonschema:"description=ID of the note or reminder to delete"`
	Title string `json:"title,omitempty" jsonschema:"description=Title of the note or reminder to delete"`
}

type getNotesParams struct {
	Type   string `json:"type,omitempty" jsonschema:"enum=notes,enum=reminders,enum=all,description=Type to retrieve"`
	Search string `json:"search,omitempty" jsonschema:"description=Search term to filter notes and reminders"`
}

// flexBool accepts true/false as well as the strings "true", "false", "1"
// and "0", which is what agents tend to send for boolean tool parameters.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}

	switch v := value.(type) {
	case bool:
		*b = flexBool(v)
	case float64:
		*b = v != 0
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*b = flexBool(parsed)
	case nil:
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

func (flexBool) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "boolean",
		Description: "Whether the note is completed (defaults to true)",
	}
}

// Result is what a tool sends back to the agent, encoded as JSON.
type Result struct {
	Message   string     `json:"message"`
	Note      *Note      `json:"note,omitempty"`
	Notes     []Note     `json:"notes,omitempty"`
	Reminders []Reminder `json:"reminders,omitempty"`
}

// Definition describes a tool the way it has to be configured on the agent.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

type tool struct {
	name        string
	description string
	params      any
	run         func(ctx context.Context, store *Store, raw map[string]any) (Result, error)
}

var tools = []tool{
	{ToolAddNote, "Add a new note", addNoteParams{}, withParams(addNote)},
	{ToolAddReminder, "Add a new reminder with optional date/time", addReminderParams{}, withParams(addReminder)},
	{ToolModifyNote, "Modify an existing note", modifyNoteParams{}, withParams(modifyNote)},
	{ToolCompleteNote, "Mark a note as completed or not completed", completeNoteParams{}, withParams(completeNote)},
	{ToolDeleteNote, "Delete a note or reminder", deleteNoteParams{}, withParams(deleteNote)},
	{ToolGetNotes, "Retrieve and search notes and reminders", getNotesParams{}, withParams(getNotes)},
}

// Definitions lists every tool with the JSON schema of its parameters.
func Definitions() []Definition {
	reflector := jsonschema.Reflector{
		DoNotReference:             true,
		Anonymous:                  true,
		RequiredFromJSONSchemaTags: true,
	}

	definitions := make([]Definition, 0, len(tools))
	for _, t := range tools {
		schema := reflector.ReflectFromType(reflect.TypeOf(t.params))
		schema.Version = ""
		definitions = append(definitions, Definition{
			Name:        t.name,
			Description: t.description,
			Parameters:  schema,
		})
	}
	return definitions
}

// Register adds every notes tool to the registry, backed by store.
func Register(registry *convai.ClientTools, store *Store) error {
	for _, t := range tools {
		if err := registry.Register(t.name, handler(t, store)); err != nil {
			return fmt.Errorf("failed to register %s: %w", t.name, err)
		}
	}
	return nil
}

func handler(t tool, store *Store) convai.ClientTool {
	return func(ctx context.Context, parameters map[string]any) (string, error) {
		ctx, span := tracer.Start(ctx, t.name, trace.WithAttributes(attribute.String("tool.name", t.name)))
		defer span.End()

		result, err := t.run(ctx, store, parameters)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Info("notes tool failed", "tool", t.name, "error", err)
			return "", err
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("failed to encode %s result: %w", t.name, err)
		}
		return string(encoded), nil
	}
}

func withParams[P any](run func(ctx context.Context, store *Store, params P) (Result, error)) func(context.Context, *Store, map[string]any) (Result, error) {
	return func(ctx context.Context, store *Store, raw map[string]any) (Result, error) {
		var params P
		encoded, err := json.Marshal(raw)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
		}
		if err := json.Unmarshal(encoded, &params); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
		}
		return run(ctx, store, params)
	}
}

func addNote(_ context.Context, store *Store, params addNoteParams) (Result, error) {
	if strings.TrimSpace(params.Content) == "" {
		return Result{}, fmt.Errorf("%w: content is required", ErrInvalidParameters)
	}

	note, count := store.AddNote(orDefault(params.Title, defaultNoteTitle), params.Content)
	return Result{
		Message: fmt.Sprintf("I've added your note titled %q. You now have %d notes.", note.Title, count),
		Note:    &note,
	}, nil
}

func addReminder(_ context.Context, store *Store, params addReminderParams) (Result, error) {
	if strings.TrimSpace(params.Content) == "" {
		return Result{}, fmt.Errorf("%w: content is required", ErrInvalidParameters)
	}

	date, err := reminderDate(params.Date, params.Time, store.now())
	if err != nil {
		return Result{}, err
	}

	reminder, count := store.AddReminder(orDefault(params.Title, defaultReminderTitle), params.Content, date)

	message := fmt.Sprintf("I've added your reminder %q.", reminder.Title)
	if params.Date != "" && params.Time != "" {
		message += fmt.Sprintf(" It's scheduled for %s at %s.", params.Date, params.Time)
	} else if params.Date != "" {
		message += fmt.Sprintf(" It's scheduled for %s.", params.Date)
	}
	message += fmt.Sprintf(" You now have %d reminders.", count)

	return Result{Message: message}, nil
}

// reminderDate combines a YYYY-MM-DD date and an optional HH:MM time in the
// local time zone. Without a date the reminder is due now and the time is
// ignored.
func reminderDate(date, clock string, now time.Time) (time.Time, error) {
	if date == "" {
		return now, nil
	}

	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be in YYYY-MM-DD format", ErrInvalidParameters)
	}
	if clock == "" {
		return day, nil
	}

	hm, err := time.Parse(timeLayout, strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time must be in HH:MM format", ErrInvalidParameters)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), 0, 0, time.Local), nil
}

func modifyNote(_ context.Context, store *Store, params modifyNoteParams) (Result, error) {
	if params.ID == "" && params.Title == "" {
		return Result{}, fmt.Errorf("%w: provide either an ID or title to modify the note", ErrInvalidParameters)
	}

	lookup := Lookup{ID: params.ID, Title: params.Title, Partial: true}
	newTitle := ""
	if params.ID != "" {
		newTitle = params.Title
	}

	note, ok := store.UpdateNote(lookup, newTitle, params.Content)
	if !ok {
		return Result{Message: "I couldn't find that note to modify. Can you be more specific about which note you want to change?"}, nil
	}

	return Result{
		Message: fmt.Sprintf("I've updated your note %q. The changes have been saved.", note.Title),
		Note:    &note,
	}, nil
}

func completeNote(_ context.Context, store *Store, params completeNoteParams) (Result, error) {
	if params.ID == "" && params.Title == "" {
		return Result{}, fmt.Errorf("%w: provide either note ID or title to complete", ErrInvalidParameters)
	}

	completed := params.Completed == nil || bool(*params.Completed)
	note, ok := store.SetCompleted(Lookup{ID: params.ID, Title: params.Title}, completed)
	if !ok {
		return Result{}, fmt.Errorf("could not find the note to complete")
	}

	action := "completed"
	if !completed {
		action = "uncompleted"
	}
	return Result{
		Message: fmt.Sprintf("I've marked the note %q as %s.", note.Title, action),
		Note:    &note,
	}, nil
}

func deleteNote(_ context.Context, store *Store, params deleteNoteParams) (Result, error) {
	if params.ID == "" && params.Title == "" {
		return Result{}, fmt.Errorf("%w: provide either note ID or title to delete", ErrInvalidParameters)
	}

	lookup := Lookup{ID: params.ID, Title: params.Title}
	if note, ok := store.DeleteNote(lookup); ok {
		return Result{Message: fmt.Sprintf("I've deleted the note titled %q.", note.Title)}, nil
	}
	if reminder, ok := store.DeleteReminder(lookup); ok {
		return Result{Message: fmt.Sprintf("I've deleted the reminder titled %q.", reminder.Title)}, nil
	}

	return Result{}, fmt.Errorf("could not find note or reminder to delete")
}

func getNotes(_ context.Context, store *Store, params getNotesParams) (Result, error) {
	kind := strings.ToLower(strings.TrimSpace(params.Type))
	search := strings.TrimSpace(params.Search)

	var result Result
	if kind != "reminders" {
		result.Notes = store.Notes(search)
	}
	if kind != "notes" {
		result.Reminders = store.Reminders(search)
	}

	switch kind {
	case "notes":
		result.Message = fmt.Sprintf("You have %d notes. ", len(result.Notes))
		if len(result.Notes) > 0 {
			result.Message += "Here are your recent notes: " + noteTitles(result.Notes, recentItems) + "."
		}
	case "reminders":
		result.Message = fmt.Sprintf("You have %d reminders. ", len(result.Reminders))
		if len(result.Reminders) > 0 {
			result.Message += "Here are your upcoming reminders: " + reminderTitles(result.Reminders, recentItems) + "."
		}
	default:
		result.Message = fmt.Sprintf("You have %d notes and %d reminders. ", len(result.Notes), len(result.Reminders))
		if len(result.Notes) > 0 || len(result.Reminders) > 0 {
			recent := joinNonEmpty(noteTitles(result.Notes, 2), reminderTitles(result.Reminders, 1))
			result.Message += "Your recent items: " + recent + "."
		}
	}

	if len(result.Notes) == 0 && len(result.Reminders) == 0 {
		result.Message = "You don't have any notes or reminders yet. Would you like to add some?"
	}
	result.Message = strings.TrimSpace(result.Message)

	return result, nil
}

func noteTitles(notes []Note, limit int) string {
	titles := make([]string, 0, limit)
	for _, note := range notes[:min(limit, len(notes))] {
		titles = append(titles, note.Title)
	}
	return strings.Join(titles, ", ")
}

func reminderTitles(reminders []Reminder, limit int) string {
	titles := make([]string, 0, limit)
	for _, reminder := range reminders[:min(limit, len(reminders))] {
		titles = append(titles, reminder.Title)
	}
	return strings.Join(titles, ", ")
}

func joinNonEmpty(parts ...string) string {
	nonEmpty := parts[:0]
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

func orDefault(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}
