package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// GenesisRound is the round label of the genesis state; real checkpoints
// start at round 0 and up.
const GenesisRound = -1

// Genesis is the chain's initial state document: the allocation every node
// must agree on before any event is exchanged.
type Genesis struct {
	State struct {
		Balance map[string]uint64 `json:"balance"` // address → initial balance
	} `json:"state"`
	Round  int    `json:"round"`
	Hash   string `json:"hash"`
	Signed bool   `json:"signed"`
}

// LoadGenesis reads and validates the genesis file at path.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	if g.Round != GenesisRound {
		return nil, fmt.Errorf("genesis: round must be %d, got %d", GenesisRound, g.Round)
	}
	if !g.Signed {
		return nil, fmt.Errorf("genesis: state must be marked signed")
	}
	if len(g.State.Balance) == 0 {
		return nil, fmt.Errorf("genesis: empty balance allocation")
	}
	return &g, nil
}
