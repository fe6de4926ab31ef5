package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nhle/storefront-notify/internal/model"
	"github.com/nhle/storefront-notify/internal/theme"
)

const timeLayout = "2006-01-02 15:04"

func renderNotification(n model.Notification) string {
	marker := " "
	title := theme.ReadStyle.Render(n.Title)
	if !n.Read {
		marker = "●"
		title = theme.UnreadStyle.Render(n.Title)
	}

	var b strings.Builder
	b.WriteString(marker + " " + title)
	if n.Icon != "" {
		b.WriteString(" " + theme.IconStyle(n.Icon).Render("["+n.Icon+"]"))
	}

	meta := []string{n.ID}
	if !n.CreatedAt.IsZero() {
		meta = append(meta, n.CreatedAt.Local().Format(timeLayout))
	}
	if n.OrderID != nil {
		meta = append(meta, "order "+*n.OrderID)
	}
	b.WriteString("  " + theme.MetaStyle.Render(strings.Join(meta, " · ")))

	if n.Message != "" {
		b.WriteString("\n    " + n.Message)
	}
	return b.String()
}

func renderList(w io.Writer, header string, list []model.Notification) {
	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}

	fmt.Fprintln(w, theme.HeaderStyle.Render(fmt.Sprintf("%s: %d notifications, %d unread", header, len(list), unread)))
	if len(list) == 0 {
		fmt.Fprintln(w, theme.MetaStyle.Render("  nothing here"))
		return
	}
	for _, n := range list {
		fmt.Fprintln(w, renderNotification(n))
	}
}

func renderStatus(w io.Writer, state, detail string) {
	line := theme.ConnectionStyle(state).Render(state)
	if detail != "" {
		line += " " + theme.MetaStyle.Render(detail)
	}
	fmt.Fprintf(w, "%s %s\n", theme.MetaStyle.Render(time.Now().Format("15:04:05")), line)
}
