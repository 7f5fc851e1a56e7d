// Package auth is the authorization oracle consulted by the distribution
// controller's privileged operations.
package auth

// Oracle answers role queries for caller identities. The council governs
// reward pacing; keepers and nodes may additionally activate distributions.
type Oracle interface {
	IsCouncil(id string) bool
	IsKeeperOrNode(id string) bool
}

// StaticOracle is an Oracle backed by fixed membership sets, configured at
// startup from the environment.
type StaticOracle struct {
	council map[string]bool
	keepers map[string]bool
}

// NewStaticOracle builds an oracle from council and keeper/node ID lists.
func NewStaticOracle(council, keepers []string) *StaticOracle {
	o := &StaticOracle{
		council: make(map[string]bool, len(council)),
		keepers: make(map[string]bool, len(keepers)),
	}
	for _, id := range council {
		if id != "" {
			o.council[id] = true
		}
	}
	for _, id := range keepers {
		if id != "" {
			o.keepers[id] = true
		}
	}
	return o
}

func (o *StaticOracle) IsCouncil(id string) bool      { return o.council[id] }
func (o *StaticOracle) IsKeeperOrNode(id string) bool { return o.keepers[id] }
