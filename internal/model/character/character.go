package character

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Character 是静态的角色设定，运行期只读。
type Character struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Title        string   `json:"title" yaml:"title"`
	Tone         string   `json:"tone" yaml:"tone"`
	SystemPrompt string   `json:"-" yaml:"systemPrompt"`
	OpeningLine  string   `json:"openingLine" yaml:"openingLine"`
	Model        string   `json:"-" yaml:"model,omitempty"`
	VoiceID      string   `json:"voiceId,omitempty" yaml:"voiceId,omitempty"`
	ImageURL     string   `json:"imageUrl,omitempty" yaml:"imageUrl,omitempty"`
	Traits       []string `json:"traits,omitempty" yaml:"traits,omitempty"`
}

//go:embed characters.yaml
var defaultSeed []byte

type seedFile struct {
	Characters []Character `yaml:"characters"`
}

// Seed 返回内置的默认角色列表。
func Seed() ([]Character, error) {
	return parseSeed(defaultSeed)
}

// LoadSeedFile 从 YAML 文件加载角色，path 为空时回退到内置角色。
func LoadSeedFile(path string) ([]Character, error) {
	if path == "" {
		return Seed()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character seed %s: %w", path, err)
	}
	return parseSeed(data)
}

func parseSeed(data []byte) ([]Character, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse character seed: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Characters))
	for _, c := range file.Characters {
		if c.ID == "" || c.Name == "" {
			return nil, fmt.Errorf("character seed entry missing id or name")
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("duplicate character id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return file.Characters, nil
}
