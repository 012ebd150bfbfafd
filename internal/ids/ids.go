// Package ids defines the opaque 128-bit identities shared by the
// registry and team packages.
//
// Keeping distinct Go types per entity kind — rather than passing
// uuid.UUID around everywhere — follows an arenas-plus-stable-indices
// discipline: a ServerID can never be mistaken for a ServerTeamID at
// compile time, even though both are backed by the same representation.
package ids

import "github.com/google/uuid"

type ServerID uuid.UUID
type ServerTeamID uuid.UUID
type MachineTeamID uuid.UUID

// MachineID is the zoneId itself — a plain string, not a UUID, since
// it is derived from locality rather than minted.
type MachineID string

func NewServerID() ServerID           { return ServerID(uuid.New()) }
func NewServerTeamID() ServerTeamID   { return ServerTeamID(uuid.New()) }
func NewMachineTeamID() MachineTeamID { return MachineTeamID(uuid.New()) }

func (id ServerID) String() string       { return uuid.UUID(id).String() }
func (id ServerTeamID) String() string   { return uuid.UUID(id).String() }
func (id MachineTeamID) String() string  { return uuid.UUID(id).String() }

func (id ServerID) IsZero() bool       { return id == ServerID{} }
func (id ServerTeamID) IsZero() bool   { return id == ServerTeamID{} }
func (id MachineTeamID) IsZero() bool  { return id == MachineTeamID{} }

// ParseServerID parses a canonical UUID string into a ServerID.
func ParseServerID(s string) (ServerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ServerID{}, err
	}
	return ServerID(u), nil
}
