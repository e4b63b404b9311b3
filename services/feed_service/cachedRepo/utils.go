package cachedrepo

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/golang/snappy"
)

func feedKey(userId int64) string {
	return fmt.Sprintf("feed:user:%d", userId)
}

func followersKey(userId int64) string {
	return fmt.Sprintf("followers:user:%d", userId)
}

func byCreatedAsc(a, b models.FeedEntry) int {
	return cmp.Compare(a.Created, b.Created)
}

func byCreatedDesc(a, b models.FeedEntry) int {
	return cmp.Compare(b.Created, a.Created)
}

// insertIntoFeed applies the feed window policy and returns the new feed
// sorted newest first. The input slice is never modified.
//
// A full feed (len >= maxSize) rejects events older than its oldest entry.
// Anything else is kept after dropping the oldest entries so that the result
// holds at most maxSize entries.
func insertIntoFeed(feed []models.FeedEntry, ev *models.Event, maxSize int) ([]models.FeedEntry, InsertResult) {
	for i := range feed {
		if feed[i].Id == ev.Id {
			return feed, Duplicate
		}
	}

	asc := slices.Clone(feed)
	slices.SortStableFunc(asc, byCreatedAsc)

	if len(asc) > 0 && len(asc) >= maxSize && ev.Created < asc[0].Created {
		return feed, Stale
	}
	if excess := len(asc) - (maxSize - 1); excess > 0 {
		asc = asc[excess:]
	}
	asc = append(asc, *ev)
	slices.SortStableFunc(asc, byCreatedDesc)
	return asc, Inserted
}

func encodeFeed(feed []models.FeedEntry) ([]byte, error) {
	data, err := json.Marshal(feed)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

func decodeFeed(data []byte) ([]models.FeedEntry, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, err
	}
	var feed []models.FeedEntry
	if err := json.Unmarshal(raw, &feed); err != nil {
		return nil, err
	}
	return feed, nil
}
