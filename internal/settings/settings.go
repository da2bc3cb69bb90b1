// Package settings holds user preferences as an explicit value passed to
// whatever renders output, instead of ambient global lookups.
package settings

import (
	"encoding/json"
	"os"
)

// Settings is persisted between sessions.
type Settings struct {
	Locale        string `json:"locale"`
	Theme         string `json:"theme"`
	HardwareAccel bool   `json:"hardwareAccel"`
}

// Default matches a fresh install.
func Default() Settings {
	return Settings{Locale: "vi", Theme: "dark"}
}

// Load reads settings from path, falling back to defaults when the file is
// absent or unreadable.
func Load(path string) Settings {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	s := Default()
	if err := json.Unmarshal(data, &s); err != nil {
		return Default()
	}
	if s.Locale == "" {
		s.Locale = "vi"
	}
	if s.Theme == "" {
		s.Theme = "dark"
	}
	return s
}

// Save writes settings to path.
func (s Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// notices are the user-facing strings the core actually emits.
var notices = map[string]map[string]string{
	"vi": {
		"delete-success": "Đã xóa sạch dữ liệu.",
		"import-success": "Import thành công!",
		"import-error":   "Lỗi khi import file.",
	},
	"en": {
		"delete-success": "Data cleared successfully.",
		"import-success": "Imported successfully!",
		"import-error":   "Error importing file.",
	},
	"fr": {
		"delete-success": "Données effacées avec succès.",
		"import-success": "Importation réussie !",
		"import-error":   "Erreur lors de l'importation.",
	},
}

// Notice returns the localized string for key, falling back to English.
func (s Settings) Notice(key string) string {
	if dict, ok := notices[s.Locale]; ok {
		if msg, ok := dict[key]; ok {
			return msg
		}
	}
	return notices["en"][key]
}
