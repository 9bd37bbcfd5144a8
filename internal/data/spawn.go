package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SpawnEntry defines where and how many bodies of one prototype to keep alive.
type SpawnEntry struct {
	Prototype    string  `yaml:"prototype"`
	Count        int     `yaml:"count"`
	X            float64 `yaml:"x"`
	Y            float64 `yaml:"y"`
	RandomX      float64 `yaml:"random_x"`
	RandomY      float64 `yaml:"random_y"`
	Heading      float64 `yaml:"heading"`       // radians
	RespawnDelay int     `yaml:"respawn_delay"` // ticks
}

type spawnListFile struct {
	Spawns []SpawnEntry `yaml:"spawns"`
}

// LoadSpawnList loads spawn entries from a YAML file and checks each one
// against the prototype table.
func LoadSpawnList(path string, protos *PrototypeTable) ([]SpawnEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn_list: %w", err)
	}
	return ParseSpawnList(raw, protos)
}

func ParseSpawnList(raw []byte, protos *PrototypeTable) ([]SpawnEntry, error) {
	var f spawnListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse spawn_list: %w", err)
	}
	for i, s := range f.Spawns {
		if protos.Get(s.Prototype) == nil {
			return nil, fmt.Errorf("spawn #%d: unknown prototype %q", i, s.Prototype)
		}
		if s.Count < 0 || s.RespawnDelay < 0 || s.RandomX < 0 || s.RandomY < 0 {
			return nil, fmt.Errorf("spawn #%d (%s): negative count, delay or spread", i, s.Prototype)
		}
	}
	return f.Spawns, nil
}
