package session

import (
	"fmt"
	"time"

	"ragchat/internal/model"
)

const displayTimeLayout = "03:04 PM"

// DisplayName labels a new store after the selected files plus the creation
// time, so repeated uploads of the same set stay distinguishable.
func DisplayName(files []model.Document, now time.Time) string {
	var base string
	switch len(files) {
	case 1:
		base = files[0].Name
	case 2:
		base = files[0].Name + " & " + files[1].Name
	default:
		base = fmt.Sprintf("%d documents", len(files))
	}
	return base + " (" + now.Format(displayTimeLayout) + ")"
}
