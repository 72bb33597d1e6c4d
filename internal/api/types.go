package api

import "encoding/json"

type UserResponse struct {
	PlayerID int64  `json:"player_id"`
	Name     string `json:"name"`
	Level    int64  `json:"level"`
	Rank     string `json:"rank"`
	Status   struct {
		State       string `json:"state"`
		Description string `json:"description"`
	} `json:"status"`
	Life struct {
		Current int64 `json:"current"`
		Maximum int64 `json:"maximum"`
	} `json:"life"`
	Faction struct {
		FactionID int64 `json:"faction_id"`
	} `json:"faction"`
	// Present with the personalstats selection.
	PersonalStats map[string]int64 `json:"personalstats"`
	// Present with the battlestats selection.
	Strength  int64 `json:"strength"`
	Defense   int64 `json:"defense"`
	Speed     int64 `json:"speed"`
	Dexterity int64 `json:"dexterity"`
	Total     int64 `json:"total"`
	Networth  struct {
		Total int64 `json:"total"`
	} `json:"networth"`
}

type FactionMember struct {
	Name  string `json:"name"`
	Level int64  `json:"level"`
}

type FactionResponse struct {
	ID        int64                    `json:"ID"`
	Name      string                   `json:"name"`
	Tag       string                   `json:"tag"`
	Leader    int64                    `json:"leader"`
	CoLeader  int64                    `json:"co-leader"`
	Respect   int64                    `json:"respect"`
	Age       int64                    `json:"age"`
	BestChain int64                    `json:"best_chain"`
	Members   map[string]FactionMember `json:"members"`
}

type FactionBasicResponse struct {
	Basic struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"basic"`
}

type ContributorsResponse struct {
	Contributors map[string]map[string]struct {
		Contributed int64 `json:"contributed"`
		InFaction   int64 `json:"in_faction"`
	} `json:"contributors"`
}

type KeyInfoResponse struct {
	AccessLevel int64               `json:"access_level"`
	AccessType  string              `json:"access_type"`
	Selections  map[string][]string `json:"selections"`
}

// ScopeNames flattens the selections map into the scope set persisted by
// the credential registry ("user", "faction", "faction.crimes", ...).
func (k *KeyInfoResponse) ScopeNames() []string {
	var scopes []string
	for section, names := range k.Selections {
		scopes = append(scopes, section)
		for _, name := range names {
			scopes = append(scopes, section+"."+name)
		}
	}
	return scopes
}

type FactionCrimesResponse struct {
	Crimes   []FactionCrime `json:"crimes"`
	Metadata struct {
		Links struct {
			Next string `json:"next"`
			Prev string `json:"prev"`
		} `json:"links"`
	} `json:"_metadata"`
}

type FactionCrime struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	Status     string       `json:"status"`
	CreatedAt  int64        `json:"created_at"`
	ReadyAt    int64        `json:"ready_at"`
	ExpiredAt  int64        `json:"expired_at"`
	ExecutedAt int64        `json:"executed_at"`
	Slots      []CrimeSlot  `json:"slots"`
	Rewards    *CrimeReward `json:"rewards"`
}

type CrimeSlot struct {
	Position string `json:"position"`
	// User is null for an empty slot, normally a plain player ID, but
	// has been observed as a nested object; keep it raw and extract.
	User            json.RawMessage  `json:"user"`
	ItemRequirement *ItemRequirement `json:"item_requirement"`
}

// ParticipantID extracts the assigned player ID from a slot, tolerating
// the composite shapes the feed occasionally produces. ok is false for
// empty slots and shapes no ID can be recovered from.
func (s CrimeSlot) ParticipantID() (int64, bool) {
	raw := []byte(s.User)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, true
	}

	// The nested shape mixes numeric and non-numeric fields, e.g.
	// {"id": 77, "name": "Bob"}; decode the object loosely and only
	// the candidate field strictly.
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err == nil {
		for _, field := range []string{"id", "user_id", "player_id"} {
			fieldRaw, ok := nested[field]
			if !ok {
				continue
			}
			var n json.Number
			if err := json.Unmarshal(fieldRaw, &n); err != nil {
				var s string
				if err := json.Unmarshal(fieldRaw, &s); err != nil {
					continue
				}
				n = json.Number(s)
			}
			if v, err := n.Int64(); err == nil {
				return v, true
			}
		}
	}

	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		var n json.Number = json.Number(quoted)
		if v, err := n.Int64(); err == nil {
			return v, true
		}
	}

	return 0, false
}

type ItemRequirement struct {
	ID int64 `json:"id"`
	// IsAvailable defaults to available when the feed omits it.
	IsAvailable *bool `json:"is_available"`
}

// Missing reports whether the required item is absent from the slot.
func (r *ItemRequirement) Missing() bool {
	return r != nil && r.ID != 0 && r.IsAvailable != nil && !*r.IsAvailable
}

type CrimeReward struct {
	Money   int64           `json:"money"`
	Respect int64           `json:"respect"`
	Items   json.RawMessage `json:"items"`
}

type ItemData struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	MarketValue int64  `json:"market_value"`
}

type UserDiscordResponse struct {
	Discord struct {
		UserID    int64  `json:"user_id"`
		DiscordID string `json:"discord_id"`
	} `json:"discord"`
}
