// Package knowledge stores lessons learned from resolved incidents in a
// human-editable markdown file. The Knowledge agent appends here at the end
// of a run; the CLI reads it back.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Lesson is one captured lesson.
//
// File format, one block per lesson:
//
//	## INC-123: Title
//	**Category**: null-reference
//	**Lesson**: Always validate the cart before charging.
//	**Prevention**: Add a nil guard in checkout.
//	**Tags**: checkout, billing
type Lesson struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Title      string    `json:"title"`
	Category   string    `json:"category"`
	Lesson     string    `json:"lesson"`
	Prevention string    `json:"prevention"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Book is the lessons file.
type Book struct {
	path string
}

// NewBook opens (or will create on first append) the lessons file at path.
func NewBook(path string) *Book {
	return &Book{path: path}
}

// DefaultBook returns a Book at ~/.coyote/LESSONS_LEARNED.md.
func DefaultBook() (*Book, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".coyote")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return NewBook(filepath.Join(dir, "LESSONS_LEARNED.md")), nil
}

// Path returns the backing file path.
func (b *Book) Path() string { return b.path }

// List parses all lessons from the file. A missing file is an empty book.
func (b *Book) List() ([]Lesson, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lessons file: %w", err)
	}
	return parseLessons(string(data)), nil
}

// ByCategory returns lessons matching the category.
func (b *Book) ByCategory(category string) ([]Lesson, error) {
	all, err := b.List()
	if err != nil {
		return nil, err
	}
	var out []Lesson
	for _, l := range all {
		if strings.EqualFold(l.Category, category) {
			out = append(out, l)
		}
	}
	return out, nil
}

// Append adds a lesson block to the end of the file, creating it with a
// header when absent. Returns the lesson with its assigned ID.
func (b *Book) Append(l Lesson) (Lesson, error) {
	existing, err := b.List()
	if err != nil {
		return Lesson{}, err
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.ID = fmt.Sprintf("%s-L%d", l.IncidentID, len(existing)+1)

	var sb strings.Builder
	if _, err := os.Stat(b.path); os.IsNotExist(err) {
		sb.WriteString("# Lessons Learned\n")
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "## %s: %s\n", l.IncidentID, l.Title)
	fmt.Fprintf(&sb, "**Category**: %s\n", l.Category)
	fmt.Fprintf(&sb, "**Lesson**: %s\n", l.Lesson)
	fmt.Fprintf(&sb, "**Prevention**: %s\n", l.Prevention)
	if len(l.Tags) > 0 {
		fmt.Fprintf(&sb, "**Tags**: %s\n", strings.Join(l.Tags, ", "))
	}

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Lesson{}, fmt.Errorf("open lessons file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(sb.String()); err != nil {
		return Lesson{}, fmt.Errorf("append lesson: %w", err)
	}
	return l, nil
}

// parseLessons extracts lesson blocks from markdown content. Lines outside
// a recognised field are ignored, so hand-written notes survive.
func parseLessons(content string) []Lesson {
	var lessons []Lesson
	var cur *Lesson

	flush := func() {
		if cur != nil {
			lessons = append(lessons, *cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			header := strings.TrimSpace(line[3:])
			id, title, _ := strings.Cut(header, ":")
			cur = &Lesson{
				IncidentID: strings.TrimSpace(id),
				Title:      strings.TrimSpace(title),
			}
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "**Category**:"):
			cur.Category = fieldValue(line)
		case strings.HasPrefix(line, "**Lesson**:"):
			cur.Lesson = fieldValue(line)
		case strings.HasPrefix(line, "**Prevention**:"):
			cur.Prevention = fieldValue(line)
		case strings.HasPrefix(line, "**Tags**:"):
			for _, tag := range strings.Split(fieldValue(line), ",") {
				if t := strings.TrimSpace(tag); t != "" {
					cur.Tags = append(cur.Tags, t)
				}
			}
		}
	}
	flush()

	for i := range lessons {
		lessons[i].ID = fmt.Sprintf("%s-L%d", lessons[i].IncidentID, i+1)
	}
	return lessons
}

func fieldValue(line string) string {
	_, v, _ := strings.Cut(line, ":")
	return strings.TrimSpace(v)
}
