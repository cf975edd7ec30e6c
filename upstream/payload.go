package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
	"github.com/Stattrackrr/stattrackr-sub010/record"
)

// PropLine is one bookmaker's quoted line for one stat in a provider
// payload.
type PropLine struct {
	Bookmaker string  `json:"bookmaker"`
	Stat      string  `json:"stat"`
	Line      float64 `json:"line"`
	OverOdds  float64 `json:"overOdds"`
	UnderOdds float64 `json:"underOdds"`
}

// PlayerProps is the per-player block of a provider payload.
type PlayerProps struct {
	PlayerID string     `json:"playerId"`
	GameID   string     `json:"gameId"`
	GameDate string     `json:"gameDate"`
	Team     string     `json:"team"`
	Props    []PropLine `json:"props"`
}

// BulkOddsPayload is the cheap bulk snapshot: every player with open
// props for the day's slate.
type BulkOddsPayload struct {
	Sport   string        `json:"sport"`
	Date    string        `json:"date"`
	Players []PlayerProps `json:"players"`
}

// DecodeBulkOdds parses and validates a bulk odds data block. Malformed
// payloads are rejected here so they never reach the merge path.
func DecodeBulkOdds(data []byte) (*BulkOddsPayload, error) {
	var payload BulkOddsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.WrapPermanent(errors.ErrMalformedPayload, "upstream", "DecodeBulkOdds",
			fmt.Sprintf("json: %v", err))
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Validate rejects payloads that would corrupt cached records.
func (p *BulkOddsPayload) Validate() error {
	if p.Sport == "" {
		return errors.WrapPermanent(errors.ErrMalformedPayload, "upstream", "Validate", "missing sport")
	}
	for i, player := range p.Players {
		if err := player.Validate(); err != nil {
			return errors.WrapPermanent(err, "upstream", "Validate",
				fmt.Sprintf("player %d", i))
		}
	}
	return nil
}

// DecodePlayerProps parses and validates a per-player data block.
func DecodePlayerProps(data []byte) (*PlayerProps, error) {
	var payload PlayerProps
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.WrapPermanent(errors.ErrMalformedPayload, "upstream", "DecodePlayerProps",
			fmt.Sprintf("json: %v", err))
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Validate rejects player blocks without a stable identity or with
// unidentifiable prop lines.
func (p *PlayerProps) Validate() error {
	if p.PlayerID == "" {
		return errors.WrapPermanent(errors.ErrMalformedPayload, "upstream", "Validate", "missing playerId")
	}
	for i, prop := range p.Props {
		if prop.Bookmaker == "" || prop.Stat == "" {
			return errors.WrapPermanent(errors.ErrMalformedPayload, "upstream", "Validate",
				fmt.Sprintf("prop %d missing bookmaker or stat", i))
		}
	}
	return nil
}

// ToRecord converts a validated player block to an entity record. Leaf
// timestamps are left zero; the merge stamps them.
func (p *PlayerProps) ToRecord() *record.EntityRecord {
	leaves := make(map[string]record.LeafRecord, len(p.Props))
	for _, prop := range p.Props {
		leaves[record.LeafID(prop.Bookmaker, prop.Stat)] = record.LeafRecord{
			Line:      prop.Line,
			OverOdds:  prop.OverOdds,
			UnderOdds: prop.UnderOdds,
		}
	}
	return &record.EntityRecord{
		EntityID: p.PlayerID,
		GameID:   p.GameID,
		GameDate: p.GameDate,
		Team:     p.Team,
		Leaves:   leaves,
	}
}
