package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLookup() *stubLookup {
	last := "Lee"
	return &stubLookup{
		users: map[int64]models.UserSummary{
			42: {Id: 42, FirstName: "Ann"},
			43: {Id: 43, FirstName: "Bo", LastName: &last},
		},
		hobbies: map[int64]models.HobbySummary{3: {Id: 3, Name: "chess"}},
	}
}

func TestEnricher_AddedPost(t *testing.T) {
	out := &topic{}
	en := NewEnricher(newLookup(), out, zap.NewNop())
	ev := models.NewAddedPost(models.UserID(42), "hi")

	require.NoError(t, en.Handle(context.Background(), ev))

	got := out.events()
	require.Len(t, got, 1)
	assert.True(t, got[0].Populated)
	assert.JSONEq(t, `{"author":{"id":42,"first_name":"Ann","last_name":null},"text":"hi"}`, payloadJSON(t, got[0]))
}

func TestEnricher_ResolvesEveryReference(t *testing.T) {
	tests := []struct {
		name string
		ev   *models.Event
	}{
		{name: "hobby", ev: models.NewAddedHobby(models.UserID(42), 3)},
		{name: "friend", ev: models.NewAddedFriend(models.UserID(42), 43)},
		{name: "post", ev: models.NewAddedPost(models.UserID(43), "text")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &topic{}
			en := NewEnricher(newLookup(), out, zap.NewNop())

			require.NoError(t, en.Handle(context.Background(), tt.ev))

			got := out.events()
			require.Len(t, got, 1)
			assert.True(t, got[0].Populated)
			assert.True(t, got[0].Payload.Populated())
			assertNoBareIds(t, payloadJSON(t, got[0]))
		})
	}
}

func TestEnricher_PopulatedEventIsForwardedUnchanged(t *testing.T) {
	out := &topic{}
	lookup := newLookup()
	en := NewEnricher(lookup, out, zap.NewNop())
	ev := models.NewAddedPost(models.UserRefOf(models.UserSummary{Id: 42, FirstName: "Ann"}), "hi")
	ev.Populated = true

	require.NoError(t, en.Handle(context.Background(), ev))
	require.NoError(t, en.Handle(context.Background(), ev))

	assert.Zero(t, lookup.calls)
	assert.Len(t, out.events(), 2)
}

func TestEnricher_KeepsResolvedAuthor(t *testing.T) {
	out := &topic{}
	lookup := newLookup()
	en := NewEnricher(lookup, out, zap.NewNop())
	ev := models.NewAddedFriend(models.UserRefOf(models.UserSummary{Id: 42, FirstName: "Ann"}), 43)

	require.NoError(t, en.Handle(context.Background(), ev))
	assert.Equal(t, 1, lookup.calls)
}

func TestEnricher_MissingReference(t *testing.T) {
	out := &topic{}
	en := NewEnricher(newLookup(), out, zap.NewNop())

	err := en.Handle(context.Background(), models.NewAddedHobby(models.UserID(42), 99))
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, out.events())
}

func payloadJSON(t *testing.T, ev models.Event) string {
	t.Helper()
	data, err := json.Marshal(ev.Payload)
	require.NoError(t, err)
	return string(data)
}

func assertNoBareIds(t *testing.T, payload string) {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &fields))
	for name, raw := range fields {
		if name == "text" {
			continue
		}
		assert.Equal(t, byte('{'), raw[0], "field %s is not a summary", name)
	}
}
