package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opstrack/opstrack/internal/domain"
)

// PlanTimeLayout is the layout used for {plan_time}.
const PlanTimeLayout = "2006-01-02 15:04"

// Fallback strings used when a field has no value.
const (
	Unspecified     = "unspecified"
	NoPreparations  = "none"
	doneGlyph       = "✅"
	pendingGlyph    = "⬜"
	reminderHeading = "⏰ Plan task reminder"
)

// PreparationItem is the render-side view of a checklist item.
type PreparationItem struct {
	Description string
	Done        bool
	OrderNo     int
}

// MessageData holds the values substituted into a reminder template.
// PlanTime is already formatted.
type MessageData struct {
	Title        string
	PlanTime     string
	Owner        string
	Responsible  []string
	Preparations []PreparationItem
}

// Message is a rendered reminder.
type Message struct {
	// Title is the short plain-text title sent next to the markdown body.
	Title string
	// Text is the full markdown envelope.
	Text string
	// Body is the template after substitution.
	Body string
}

// MessageDataFromTask builds render input from a stored task, formatting the
// plan time in loc.
func MessageDataFromTask(task *domain.PlanTask, loc *time.Location) MessageData {
	if loc == nil {
		loc = time.Local
	}
	items := make([]PreparationItem, 0, len(task.Preparations))
	for _, p := range task.Preparations {
		items = append(items, PreparationItem{
			Description: p.Description,
			Done:        p.Done(),
			OrderNo:     p.OrderNo,
		})
	}
	return MessageData{
		Title:        task.Title,
		PlanTime:     task.PlanTime.In(loc).Format(PlanTimeLayout),
		Owner:        task.Owner,
		Responsible:  task.Responsible,
		Preparations: items,
	}
}

// Render substitutes the placeholders in tmpl and wraps the result in the
// markdown envelope. An empty template falls back to
// domain.DefaultReminderMessage. Render never fails.
func Render(tmpl string, data MessageData) Message {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = domain.DefaultReminderMessage
	}

	owner := orUnspecified(data.Owner)
	responsible := orUnspecified(joinResponsible(data.Responsible))
	prepList := renderPreparations(data.Preparations)
	progress := renderProgress(data.Preparations)

	// strings.Replacer scans the input once, so substituted values are
	// never matched against later placeholders.
	r := strings.NewReplacer(
		"{title}", data.Title,
		"{plan_time}", data.PlanTime,
		"{owner}", owner,
		"{responsible}", responsible,
		"{preparations}", prepList,
		"{prep_progress}", progress,
	)
	body := r.Replace(normalizeNewlines(tmpl))

	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\n", reminderHeading)
	fmt.Fprintf(&b, "**Task**: %s\n\n", data.Title)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "📅 **Plan time**: %s\n\n", data.PlanTime)
	fmt.Fprintf(&b, "👤 **Owner**: %s\n\n", owner)
	fmt.Fprintf(&b, "👥 **Responsible**: %s\n\n", responsible)
	fmt.Fprintf(&b, "📊 **Progress**: `%s`\n\n", progress)
	fmt.Fprintf(&b, "📝 **Preparations**:\n\n%s\n\n", prepList)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "💡 **Details**:\n\n> %s", strings.ReplaceAll(body, "\n", "\n\n> "))

	return Message{
		Title: fmt.Sprintf("%s: %s", reminderHeading, data.Title),
		Text:  b.String(),
		Body:  body,
	}
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func orUnspecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unspecified
	}
	return s
}

func joinResponsible(names []string) string {
	kept := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			kept = append(kept, n)
		}
	}
	return strings.Join(kept, ", ")
}

func renderPreparations(items []PreparationItem) string {
	if len(items) == 0 {
		return NoPreparations
	}
	sorted := make([]PreparationItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OrderNo < sorted[j].OrderNo
	})

	lines := make([]string, 0, len(sorted))
	for _, it := range sorted {
		glyph := pendingGlyph
		if it.Done {
			glyph = doneGlyph
		}
		lines = append(lines, glyph+" "+it.Description)
	}
	return strings.Join(lines, "\n\n")
}

func renderProgress(items []PreparationItem) string {
	done := 0
	for _, it := range items {
		if it.Done {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(items))
}
