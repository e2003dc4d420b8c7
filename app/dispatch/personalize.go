package dispatch

import (
	"fmt"
	"regexp"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
)

var tokenPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Personalize replaces {token} placeholders in template.
// Recipient tokens win over campaign variables of the same name; unknown tokens stay as written.
func Personalize(template string, recipient *models.Recipient, destination string, vars map[string]any, now time.Time) string {
	if template == "" {
		return ""
	}

	builtin := map[string]string{
		"name":       recipient.FullName(),
		"first_name": utils.Deref(recipient.FirstName),
		"last_name":  utils.Deref(recipient.LastName),
		"phone":      destination,
		"date":       now.Format("2006-01-02"),
		"time":       now.Format("15:04"),
	}

	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		if v, ok := builtin[key]; ok {
			return v
		}
		if v, ok := vars[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return match
	})
}
