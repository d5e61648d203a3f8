package push

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"plantcare-engine/pkg/types"
)

// Content is the title and body of a combined notification
type Content struct {
	Title string
	Body  string
}

// BuildContent summarizes a batch: one task shows its own title, several tasks
// on one plant are summarized by task type, several plants by plant count.
func BuildContent(batch *types.NotificationBatch) Content {
	members := batch.Notifications
	switch {
	case len(members) == 0:
		return Content{}
	case len(members) == 1:
		m := members[0]
		return Content{
			Title: m.Title,
			Body:  fmt.Sprintf("%s is due for %s", taskLabel(m.TaskType), plantLabel(m.PlantName)),
		}
	}

	plants := distinctPlants(members)
	if len(plants) == 1 {
		return Content{
			Title: fmt.Sprintf("%s needs care", titleLabel(members[0].PlantName)),
			Body:  fmt.Sprintf("%d tasks due: %s", len(members), joinTypes(members)),
		}
	}
	return Content{
		Title: fmt.Sprintf("%d plants need care", len(plants)),
		Body:  fmt.Sprintf("%d tasks due across %d plants", len(members), len(plants)),
	}
}

func distinctPlants(members []types.NotificationBatchRequest) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range members {
		if !seen[m.PlantID] {
			seen[m.PlantID] = true
			out = append(out, m.PlantID)
		}
	}
	return out
}

func joinTypes(members []types.NotificationBatchRequest) string {
	caser := cases.Title(language.English)
	seen := make(map[types.TaskType]bool)
	var names []string
	for _, m := range members {
		if seen[m.TaskType] {
			continue
		}
		seen[m.TaskType] = true
		names = append(names, caser.String(string(m.TaskType)))
	}
	return strings.Join(names, ", ")
}

func taskLabel(t types.TaskType) string {
	return cases.Title(language.English).String(string(t))
}

func plantLabel(name string) string {
	if name == "" {
		return "your plant"
	}
	return name
}

func titleLabel(name string) string {
	if name == "" {
		return "Your plant"
	}
	return name
}
