package messaging

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/coachlinkhq/coachlink/internal/models"
)

// renderButtons turns a buttoned message into a numbered text menu.
func renderButtons(body string, buttons []models.Button) string {
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	for i, btn := range buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Label)
	}
	b.WriteString("\n\nReply with a number to choose.")
	return b.String()
}

// renderList turns a sectioned list into a numbered text menu. Numbering runs
// across sections so replies stay unambiguous.
func renderList(body string, sections []models.ListSection) (string, []models.Button) {
	var b strings.Builder
	b.WriteString(body)
	var flat []models.Button
	n := 0
	for _, section := range sections {
		if section.Title != "" {
			b.WriteString("\n\n*" + section.Title + "*")
		}
		for _, row := range section.Rows {
			n++
			fmt.Fprintf(&b, "\n%d. %s", n, row.Label)
			flat = append(flat, row)
		}
	}
	b.WriteString("\n\nReply with a number to choose.")
	return b.String(), flat
}

// renderForm turns a form into a text prompt asking for the fields in order.
func renderForm(form Form) string {
	var b strings.Builder
	b.WriteString(form.Title)
	for i, field := range form.Fields {
		fmt.Fprintf(&b, "\n%d. %s", i+1, field)
	}
	b.WriteString("\n\nReply with each answer on its own line.")
	return b.String()
}

// menuTracker remembers the last menu shown to each recipient so a numeric
// reply can be mapped back to the option's identifier. Only the most recent
// menu per recipient counts; any other inbound text clears it.
type menuTracker struct {
	mu    sync.Mutex
	menus map[string][]models.Button
}

func newMenuTracker() *menuTracker {
	return &menuTracker{menus: make(map[string][]models.Button)}
}

// remember stores the options last offered to a recipient.
func (t *menuTracker) remember(recipient string, buttons []models.Button) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.menus[recipient] = buttons
}

// resolve maps an inbound text to a button id if it is a bare number
// pointing into the recipient's last menu. The menu is consumed either way
// once any text arrives.
func (t *menuTracker) resolve(recipient, text string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buttons, ok := t.menus[recipient]
	if !ok {
		return "", false
	}
	delete(t.menus, recipient)

	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > len(buttons) {
		return "", false
	}
	return buttons[n-1].ID, true
}
