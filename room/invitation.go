package room

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/xoserver/apperr"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/network"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
	InvitationExpired  InvitationStatus = "expired"
)

type Invitation struct {
	ID          string           `json:"id"`
	RoomID      string           `json:"roomId"`
	RoomCode    string           `json:"roomCode"`
	RoomName    string           `json:"roomName"`
	InviterID   string           `json:"inviterId"`
	InviteeID   string           `json:"inviteeId"`
	Status      InvitationStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	RespondedAt *time.Time       `json:"respondedAt,omitempty"`
}

type invitationPayload struct {
	Invitation Invitation `json:"invitation"`
}

type invitationResolvedPayload struct {
	Invitation Invitation `json:"invitation"`
	Room       *RoomView  `json:"room,omitempty"`
}

// expireIfStale marks a pending invitation past its deadline as expired.
// mu must be held.
func (r *Room) expireIfStale(inv *Invitation, now time.Time, out *outbox) bool {
	if inv.Status != InvitationPending || now.Before(inv.ExpiresAt) {
		return false
	}
	inv.Status = InvitationExpired
	t := now
	inv.RespondedAt = &t
	out.send([]string{inv.InviterID, inv.InviteeID}, network.MsgInvitationResolved, invitationResolvedPayload{Invitation: *inv})
	out.invitations = append(out.invitations, *inv)
	return true
}

// Invite offers inviteeID a seat in roomID.
func (m *Manager) Invite(roomID, inviterID, inviteeID string) (Invitation, error) {
	if inviteeID == "" || inviteeID == inviterID || inviteeID == AIUserID {
		return Invitation{}, apperr.Wrap(apperr.ErrInvalidInput, "cannot invite %q", inviteeID)
	}
	r, err := m.lookup(roomID, "")
	if err != nil {
		return Invitation{}, err
	}

	r.mu.Lock()
	if r.closed() {
		r.mu.Unlock()
		return Invitation{}, apperr.ErrRoomNotFound
	}
	if r.participant(inviterID) == nil {
		r.mu.Unlock()
		logger.Log.Warnw("invite from non-member", "room", roomID, "user", inviterID)
		return Invitation{}, apperr.Wrap(apperr.ErrNotAuthorized, "not a member of room %s", roomID)
	}
	if r.participant(inviteeID) != nil {
		r.mu.Unlock()
		return Invitation{}, apperr.ErrAlreadyMember
	}

	now := m.now()
	var out outbox
	for _, existing := range r.invitations {
		if existing.InviterID != inviterID || existing.InviteeID != inviteeID {
			continue
		}
		if r.expireIfStale(existing, now, &out) {
			continue
		}
		if existing.Status == InvitationPending {
			m.commit(r, &out)
			return Invitation{}, apperr.ErrDuplicatePending
		}
	}

	inv := &Invitation{
		ID:        uuid.NewString(),
		RoomID:    r.ID,
		RoomCode:  r.Code,
		RoomName:  r.Name,
		InviterID: inviterID,
		InviteeID: inviteeID,
		Status:    InvitationPending,
		CreatedAt: now,
		ExpiresAt: now.Add(m.opts.InvitationTTL),
	}
	r.invitations[inv.ID] = inv
	m.indexInvitation(inv.ID, r)

	out.send([]string{inviteeID}, network.MsgRoomInvitation, invitationPayload{Invitation: *inv})
	out.send([]string{inviterID}, network.MsgInvitationSent, invitationPayload{Invitation: *inv})
	out.invitations = append(out.invitations, *inv)
	result := *inv
	m.commit(r, &out)

	logger.Log.Infow("invitation created", "invitation", result.ID, "room", roomID, "inviter", inviterID, "invitee", inviteeID)
	return result, nil
}

// RespondInvitation accepts or rejects an invitation on behalf of its
// invitee. Accepting seats the invitee as a player when a seat is free and
// as a spectator otherwise.
func (m *Manager) RespondInvitation(invitationID, userID string, accept bool) (Invitation, *RoomView, error) {
	m.mutex.RLock()
	r, ok := m.invitationRooms[invitationID]
	m.mutex.RUnlock()
	if !ok {
		return Invitation{}, nil, apperr.ErrInvitationNotFound
	}

	r.mu.Lock()
	inv, ok := r.invitations[invitationID]
	if !ok || r.closed() {
		r.mu.Unlock()
		return Invitation{}, nil, apperr.ErrInvitationNotFound
	}
	if inv.InviteeID != userID {
		r.mu.Unlock()
		logger.Log.Warnw("invitation response from non-invitee", "invitation", invitationID, "user", userID)
		return Invitation{}, nil, apperr.ErrNotInvitee
	}
	if inv.Status != InvitationPending {
		r.mu.Unlock()
		return Invitation{}, nil, apperr.Wrap(apperr.ErrAlreadyResolved, "invitation is %s", inv.Status)
	}

	now := m.now()
	var out outbox
	if r.expireIfStale(inv, now, &out) {
		m.commit(r, &out)
		return Invitation{}, nil, apperr.ErrInvitationExpired
	}

	var view *RoomView
	if accept {
		// already seated by code or an earlier invitation: nothing to join
		if r.participant(userID) == nil {
			if err := m.joinLocked(r, userID, "", true, now, &out); err != nil {
				r.mu.Unlock()
				return Invitation{}, nil, err
			}
		}
		inv.Status = InvitationAccepted
		v := r.view()
		view = &v
	} else {
		inv.Status = InvitationRejected
	}
	t := now
	inv.RespondedAt = &t

	out.send([]string{inv.InviterID, inv.InviteeID}, network.MsgInvitationResolved, invitationResolvedPayload{Invitation: *inv, Room: view})
	out.invitations = append(out.invitations, *inv)
	result := *inv
	m.commit(r, &out)
	return result, view, nil
}

// ListInvitations returns the pending, unexpired invitations addressed to userID.
func (m *Manager) ListInvitations(userID string) []Invitation {
	now := m.now()
	var result []Invitation
	for _, r := range m.snapshotRooms() {
		r.mu.Lock()
		for _, inv := range r.invitations {
			if inv.InviteeID == userID && inv.Status == InvitationPending && now.Before(inv.ExpiresAt) {
				result = append(result, *inv)
			}
		}
		r.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
