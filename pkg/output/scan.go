package output

import "strings"

// Scan renders the messages in a buffer as they would have looked on
// a terminal: a carriage return rewinds to the start of the line, so
// progress bars collapse into their final state.
func Scan(b *Buffer) string {
	var raw strings.Builder
	for _, e := range b.Entries() {
		if e.Kind == Message {
			raw.WriteString(e.Data)
		}
	}

	lines := strings.Split(raw.String(), "\n")
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if j := strings.LastIndex(line, "\r"); j >= 0 {
			line = line[j+1:]
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}
