package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type NewsType string

const (
	AddedPost   NewsType = "ADDED_POST"
	AddedHobby  NewsType = "ADDED_HOBBY"
	AddedFriend NewsType = "ADDED_FRIEND"
)

func (t NewsType) Valid() bool {
	switch t {
	case AddedPost, AddedHobby, AddedFriend:
		return true
	}
	return false
}

type UserSummary struct {
	Id        int64   `json:"id"`
	FirstName string  `json:"first_name"`
	LastName  *string `json:"last_name"`
}

type HobbySummary struct {
	Id   int64  `json:"id"`
	Name string `json:"name"`
}

// UserRef is either a bare user id or, once populated, the user's summary.
// On the wire it is an integer or an object.
type UserRef struct {
	Id      int64
	Summary *UserSummary
}

func UserID(id int64) UserRef { return UserRef{Id: id} }

func UserRefOf(s UserSummary) UserRef { return UserRef{Id: s.Id, Summary: &s} }

func (r UserRef) Populated() bool { return r.Summary != nil }

func (r UserRef) MarshalJSON() ([]byte, error) {
	if r.Summary == nil {
		return json.Marshal(r.Id)
	}
	return json.Marshal(r.Summary)
}

func (r *UserRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var s UserSummary
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		r.Id, r.Summary = s.Id, &s
		return nil
	}
	r.Summary = nil
	return json.Unmarshal(b, &r.Id)
}

// HobbyRef is either a bare hobby id or the hobby's summary.
type HobbyRef struct {
	Id      int64
	Summary *HobbySummary
}

func HobbyID(id int64) HobbyRef { return HobbyRef{Id: id} }

func HobbyRefOf(s HobbySummary) HobbyRef { return HobbyRef{Id: s.Id, Summary: &s} }

func (r HobbyRef) Populated() bool { return r.Summary != nil }

func (r HobbyRef) MarshalJSON() ([]byte, error) {
	if r.Summary == nil {
		return json.Marshal(r.Id)
	}
	return json.Marshal(r.Summary)
}

func (r *HobbyRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var s HobbySummary
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		r.Id, r.Summary = s.Id, &s
		return nil
	}
	r.Summary = nil
	return json.Unmarshal(b, &r.Id)
}

// Payload is implemented only by the three payload variants below.
type Payload interface {
	Type() NewsType
	// Populated reports whether every reference field holds a summary.
	Populated() bool
	isPayload()
}

type AddedPostPayload struct {
	Author UserRef `json:"author"`
	Text   string  `json:"text"`
}

type AddedHobbyPayload struct {
	Author UserRef  `json:"author"`
	Hobby  HobbyRef `json:"hobby"`
}

type AddedFriendPayload struct {
	Author    UserRef `json:"author"`
	NewFriend UserRef `json:"new_friend"`
}

func (*AddedPostPayload) Type() NewsType   { return AddedPost }
func (*AddedHobbyPayload) Type() NewsType  { return AddedHobby }
func (*AddedFriendPayload) Type() NewsType { return AddedFriend }

func (p *AddedPostPayload) Populated() bool { return p.Author.Populated() }
func (p *AddedHobbyPayload) Populated() bool {
	return p.Author.Populated() && p.Hobby.Populated()
}
func (p *AddedFriendPayload) Populated() bool {
	return p.Author.Populated() && p.NewFriend.Populated()
}

func (*AddedPostPayload) isPayload()   {}
func (*AddedHobbyPayload) isPayload()  {}
func (*AddedFriendPayload) isPayload() {}

// Event is one social activity fact. Populated and Stored are flipped in place
// as the event moves through the pipeline.
type Event struct {
	Id        string   `json:"id"`
	AuthorId  int64    `json:"author_id"`
	Type      NewsType `json:"type"`
	Payload   Payload  `json:"payload"`
	Created   float64  `json:"created"`
	Populated bool     `json:"populated"`
	Stored    bool     `json:"stored"`
}

// FeedEntry is an event as held inside one follower's cached feed.
type FeedEntry = Event

type rawEvent struct {
	Id        string          `json:"id"`
	AuthorId  int64           `json:"author_id"`
	Type      NewsType        `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Created   float64         `json:"created"`
	Populated bool            `json:"populated"`
	Stored    bool            `json:"stored"`
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw rawEvent
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		Id:        raw.Id,
		AuthorId:  raw.AuthorId,
		Type:      raw.Type,
		Payload:   payload,
		Created:   raw.Created,
		Populated: raw.Populated,
		Stored:    raw.Stored,
	}
	return nil
}

// DecodePayload picks the payload variant from the type tag.
func DecodePayload(t NewsType, data []byte) (Payload, error) {
	var p Payload
	switch t {
	case AddedPost:
		p = &AddedPostPayload{}
	case AddedHobby:
		p = &AddedHobbyPayload{}
	case AddedFriend:
		p = &AddedFriendPayload{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, t)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return p, nil
}

func (e *Event) Validate() error {
	if e.Id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEvent)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if e.Payload == nil || e.Payload.Type() != e.Type {
		return fmt.Errorf("%w: payload does not match type %s", ErrInvalidEvent, e.Type)
	}
	return nil
}

func (e *Event) CreatedAt() time.Time {
	sec, frac := math.Modf(e.Created)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func NewEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func newEvent(payload Payload, author UserRef) *Event {
	return &Event{
		Id:       NewEventID(),
		AuthorId: author.Id,
		Type:     payload.Type(),
		Payload:  payload,
		Created:  Timestamp(time.Now()),
	}
}

func NewAddedPost(author UserRef, text string) *Event {
	return newEvent(&AddedPostPayload{Author: author, Text: text}, author)
}

func NewAddedHobby(author UserRef, hobbyId int64) *Event {
	return newEvent(&AddedHobbyPayload{Author: author, Hobby: HobbyID(hobbyId)}, author)
}

func NewAddedFriend(author UserRef, friendId int64) *Event {
	return newEvent(&AddedFriendPayload{Author: author, NewFriend: UserID(friendId)}, author)
}
