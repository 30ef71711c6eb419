package registry

import "github.com/google/uuid"

// MembershipRegistry is the bounded user->room map the room service
// owns (max 2,000 entries), independent of the connection registry's
// per-connection CurrentRoom: this one survives a reconnect that replaces the
// connection handle but keeps the user's presence record intact until
// Leave is called explicitly.
type MembershipRegistry struct {
	bound *Bounded[uuid.UUID, uuid.UUID]
}

func NewMembershipRegistry() *MembershipRegistry {
	return &MembershipRegistry{bound: NewBounded[uuid.UUID, uuid.UUID](2000)}
}

func (m *MembershipRegistry) Get(userID uuid.UUID) (uuid.UUID, bool) {
	return m.bound.Get(userID)
}

func (m *MembershipRegistry) Set(userID, roomID uuid.UUID) {
	m.bound.Put(userID, roomID)
}

func (m *MembershipRegistry) Clear(userID uuid.UUID) {
	m.bound.Delete(userID)
}

func (m *MembershipRegistry) Stats() Stats { return m.bound.Stats() }
