package messages

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

//go:embed notifications.json
var defaultCatalog []byte

type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Format replaces {name} placeholders in the body.
func (m MessageText) Format(vars map[string]string) MessageText {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	return MessageText{Title: r.Replace(m.Title), Body: strings.TrimSpace(r.Replace(m.Body))}
}

type Messages struct {
	SyncComplete    MessageText `json:"sync_complete"`
	SyncFailed      MessageText `json:"sync_failed"`
	WizardCompleted MessageText `json:"wizard_completed"`
}

var (
	loaded   *Messages
	loadOnce sync.Once
	loadErr  error
)

// Load reads the notifications JSON file and caches the result. An empty path
// loads the built-in catalog. Safe to call from multiple goroutines.
func Load(path string) (*Messages, error) {
	loadOnce.Do(func() {
		data := defaultCatalog
		if path != "" {
			var err error
			if data, err = os.ReadFile(path); err != nil {
				loadErr = fmt.Errorf("failed to read messages file: %w", err)
				return
			}
		}
		loaded, loadErr = Parse(data)
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return loaded, nil
}

// Parse decodes a catalog. Entries missing from data keep the built-in text.
func Parse(data []byte) (*Messages, error) {
	var m Messages
	if err := json.Unmarshal(defaultCatalog, &m); err != nil {
		return nil, fmt.Errorf("failed to parse built-in messages: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse messages file: %w", err)
	}
	return &m, nil
}
