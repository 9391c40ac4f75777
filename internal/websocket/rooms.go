package websocket

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go-chat-hub/pkg/chat"
)

const maxRoomNameLength = 128

var (
	ErrInvalidRoom      = errors.New("invalid room")
	ErrConnectionClosed = errors.New("connection is closing")
)

// NormalizeRoom trims name and checks it is usable as a room key.
func NormalizeRoom(name string) (string, error) {
	room := strings.TrimSpace(name)
	if room == "" {
		return "", fmt.Errorf("%w: name cannot be empty", ErrInvalidRoom)
	}
	if len(room) > maxRoomNameLength {
		return "", fmt.Errorf("%w: name longer than %d bytes", ErrInvalidRoom, maxRoomNameLength)
	}
	return room, nil
}

type memberSet map[string]struct{}

func (s memberSet) except(subjectID string) []string {
	out := make([]string, 0, len(s))
	for id := range s {
		if id != subjectID {
			out = append(out, id)
		}
	}
	return out
}

// Directory tracks room membership in both directions. Both indices change
// under the same lock; presence notifications go out after it is released.
type Directory struct {
	mu       sync.RWMutex
	members  map[string]memberSet // room -> subjects
	rooms    map[string]memberSet // subject -> rooms
	emails   map[string]string
	registry *Registry
}

func NewDirectory(registry *Registry) *Directory {
	return &Directory{
		members:  make(map[string]memberSet),
		rooms:    make(map[string]memberSet),
		emails:   make(map[string]string),
		registry: registry,
	}
}

// Join adds subjectID to room and tells the existing members. It reports
// false if the subject was already a member.
func (d *Directory) Join(subjectID, room string) bool {
	var email string
	if c, ok := d.registry.Lookup(subjectID); ok {
		email = c.Claims().Email
	}
	joined, _ := d.join(subjectID, room, email, nil)
	return joined
}

// JoinClient is Join for a connection. The membership is only added while c
// is still the registered, open connection for its subject.
func (d *Directory) JoinClient(c *Client, room string) (bool, error) {
	return d.join(c.SubjectID(), room, c.Claims().Email, func() bool {
		cur, ok := d.registry.Lookup(c.SubjectID())
		return ok && cur == c && !c.tornDown.Load()
	})
}

// join checks live, if set, under d.mu so it cannot interleave with Evict.
func (d *Directory) join(subjectID, room, email string, live func() bool) (bool, error) {
	d.mu.Lock()
	if live != nil && !live() {
		d.mu.Unlock()
		return false, ErrConnectionClosed
	}
	if _, ok := d.members[room][subjectID]; ok {
		d.mu.Unlock()
		return false, nil
	}
	if d.members[room] == nil {
		d.members[room] = make(memberSet)
	}
	if d.rooms[subjectID] == nil {
		d.rooms[subjectID] = make(memberSet)
	}
	d.members[room][subjectID] = struct{}{}
	d.rooms[subjectID][room] = struct{}{}
	if email != "" {
		d.emails[subjectID] = email
	} else {
		email = d.emails[subjectID]
	}
	recipients := d.members[room].except(subjectID)
	d.mu.Unlock()

	d.notify(recipients, chat.MessageTypeUserJoined, chat.PresencePayload{Room: room, SubjectID: subjectID, Email: email})
	return true, nil
}

// Leave removes subjectID from room and tells the remaining members. It is
// a no-op for non-members.
func (d *Directory) Leave(subjectID, room string) bool {
	d.mu.Lock()
	if _, ok := d.members[room][subjectID]; !ok {
		d.mu.Unlock()
		return false
	}
	email := d.emails[subjectID]
	recipients := d.remove(subjectID, room)
	d.mu.Unlock()

	d.notify(recipients, chat.MessageTypeUserLeft, chat.PresencePayload{Room: room, SubjectID: subjectID, Email: email})
	return true
}

type departure struct {
	room       string
	recipients []string
}

// LeaveAll removes subjectID from every room and returns the rooms it left.
func (d *Directory) LeaveAll(subjectID string) []string {
	d.mu.Lock()
	email, departures := d.leaveAll(subjectID)
	d.mu.Unlock()

	return d.depart(subjectID, email, departures)
}

// Evict drops c from the registry and, when c was still the registered
// connection, from every room. Both happen under d.mu, so a replacement
// connection for the same subject cannot join in between and lose its
// memberships.
func (d *Directory) Evict(c *Client) []string {
	d.mu.Lock()
	if !d.registry.RemoveClient(c) {
		d.mu.Unlock()
		return nil
	}
	email, departures := d.leaveAll(c.SubjectID())
	d.mu.Unlock()

	return d.depart(c.SubjectID(), email, departures)
}

// leaveAll clears every membership of subjectID. Callers hold d.mu.
func (d *Directory) leaveAll(subjectID string) (string, []departure) {
	email := d.emails[subjectID]
	rooms := make([]string, 0, len(d.rooms[subjectID]))
	for room := range d.rooms[subjectID] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	departures := make([]departure, 0, len(rooms))
	for _, room := range rooms {
		departures = append(departures, departure{room: room, recipients: d.remove(subjectID, room)})
	}
	return email, departures
}

func (d *Directory) depart(subjectID, email string, departures []departure) []string {
	rooms := make([]string, 0, len(departures))
	for _, dep := range departures {
		rooms = append(rooms, dep.room)
		d.notify(dep.recipients, chat.MessageTypeUserLeft, chat.PresencePayload{Room: dep.room, SubjectID: subjectID, Email: email})
	}
	return rooms
}

// remove updates both indices, pruning empty entries, and returns the
// members left in room. Callers hold d.mu.
func (d *Directory) remove(subjectID, room string) []string {
	delete(d.members[room], subjectID)
	delete(d.rooms[subjectID], room)

	remaining := d.members[room].except(subjectID)
	if len(d.members[room]) == 0 {
		delete(d.members, room)
	}
	if len(d.rooms[subjectID]) == 0 {
		delete(d.rooms, subjectID)
		delete(d.emails, subjectID)
	}
	return remaining
}

func (d *Directory) notify(recipients []string, t chat.MessageType, payload chat.PresencePayload) {
	if len(recipients) == 0 {
		return
	}
	env, err := chat.NewEnvelope(t, payload)
	if err != nil {
		return
	}
	frame, err := env.Encode()
	if err != nil {
		return
	}
	for _, id := range recipients {
		d.registry.sendFrame(id, frame)
	}
}

// Broadcast sends env to every member of room except excludeSubjectID and
// returns how many sends succeeded.
func (d *Directory) Broadcast(room string, env chat.Envelope, excludeSubjectID string) int {
	d.mu.RLock()
	recipients := d.members[room].except(excludeSubjectID)
	d.mu.RUnlock()

	frame, err := env.Encode()
	if err != nil {
		return 0
	}
	delivered := 0
	for _, id := range recipients {
		if d.registry.sendFrame(id, frame) {
			delivered++
		}
	}
	return delivered
}

// Members returns the subjects in room, sorted.
func (d *Directory) Members(room string) []string {
	d.mu.RLock()
	out := d.members[room].except("")
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

// RoomsOf returns the rooms subjectID belongs to, sorted.
func (d *Directory) RoomsOf(subjectID string) []string {
	d.mu.RLock()
	out := d.rooms[subjectID].except("")
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (d *Directory) IsMember(subjectID, room string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.members[room][subjectID]
	return ok
}

func (d *Directory) MemberCount(room string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.members[room])
}

func (d *Directory) RoomCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.members)
}

// Stats lists every room with its member count, sorted by name.
func (d *Directory) Stats() []chat.RoomStat {
	d.mu.RLock()
	stats := make([]chat.RoomStat, 0, len(d.members))
	for room, members := range d.members {
		stats = append(stats, chat.RoomStat{Room: room, MemberCount: len(members)})
	}
	d.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Room < stats[j].Room })
	return stats
}
