package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the iafsm banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"  _        __               ", "#818cf8"},
		{" (_) __ _ / _|___ _ __ ___  ", "#a78bfa"},
		{" | |/ _` | |_/ __| '_ ` _ \\ ", "#c084fc"},
		{" | | (_| |  _\\__ \\ | | | | |", "#e879f9"},
		{" |_|\\__,_|_| |___/_| |_| |_|", "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
