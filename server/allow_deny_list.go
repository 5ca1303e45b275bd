package server

import (
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/itzg/mc-legacy-forwarder/forwarding"
	"github.com/pkg/errors"
)

// PlayerInfo identifies a verified player. In allow/deny lists either field may be left empty to
// match on the other one alone.
type PlayerInfo struct {
	Name string    `json:"name"`
	Uuid uuid.UUID `json:"uuid"`
}

func PlayerInfoFromPayload(payload *forwarding.Payload) *PlayerInfo {
	if payload == nil {
		return nil
	}
	return &PlayerInfo{
		Name: payload.Username,
		Uuid: payload.PlayerUuid,
	}
}

type AllowDenyLists struct {
	Allowlist []PlayerInfo `json:"allowlist"`
	Denylist  []PlayerInfo `json:"denylist"`
}

// AllowDenyConfig is the players-allow-deny file. Servers is keyed by the host the player connected
// to, as given in the handshake.
type AllowDenyConfig struct {
	Global  AllowDenyLists            `json:"global"`
	Servers map[string]AllowDenyLists `json:"servers"`
}

func ParseAllowDenyConfig(allowDenyListPath string) (*AllowDenyConfig, error) {
	data, err := os.ReadFile(allowDenyListPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not read allow/deny lists")
	}

	allowDenyConfig := &AllowDenyConfig{}
	if err := json.Unmarshal(data, allowDenyConfig); err != nil {
		return nil, errors.Wrap(err, "could not parse allow/deny lists")
	}

	// host names in handshakes are case insensitive
	if len(allowDenyConfig.Servers) > 0 {
		servers := make(map[string]AllowDenyLists, len(allowDenyConfig.Servers))
		for host, lists := range allowDenyConfig.Servers {
			servers[strings.ToLower(host)] = lists
		}
		allowDenyConfig.Servers = servers
	}
	return allowDenyConfig, nil
}

func entryMatchesPlayer(entry *PlayerInfo, player *PlayerInfo) bool {
	switch {
	case entry.Name == "" && entry.Uuid == uuid.Nil:
		// an "empty" entry never matches
		return false
	case entry.Name != "" && entry.Uuid != uuid.Nil:
		return strings.EqualFold(entry.Name, player.Name) && entry.Uuid == player.Uuid
	case entry.Uuid != uuid.Nil:
		return entry.Uuid == player.Uuid
	default:
		return strings.EqualFold(entry.Name, player.Name)
	}
}

func listMatches(list []PlayerInfo, player *PlayerInfo) bool {
	for i := range list {
		if entryMatchesPlayer(&list[i], player) {
			return true
		}
	}
	return false
}

// ServerAllowsPlayer merges the global lists with the lists of serverAddress. A non-empty allowlist
// admits only the players on it and the denylist is then ignored. A nil config allows everyone.
func (allowDenyConfig *AllowDenyConfig) ServerAllowsPlayer(serverAddress string, player *PlayerInfo) bool {
	if allowDenyConfig == nil {
		return true
	}

	allowlist := allowDenyConfig.Global.Allowlist
	denylist := allowDenyConfig.Global.Denylist
	if serverLists, ok := allowDenyConfig.Servers[strings.ToLower(serverAddress)]; ok {
		allowlist = append(allowlist[:len(allowlist):len(allowlist)], serverLists.Allowlist...)
		denylist = append(denylist[:len(denylist):len(denylist)], serverLists.Denylist...)
	}

	if len(allowlist) > 0 {
		return listMatches(allowlist, player)
	}
	return !listMatches(denylist, player)
}
