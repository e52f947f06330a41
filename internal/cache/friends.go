package cache

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/model"
)

// Friends returns the friend list.
func (c *Cache) Friends() []model.Friend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.friends)
}

// FriendRequests returns pending inbound friend requests.
func (c *Cache) FriendRequests() []model.FriendRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.requests)
}

// FriendSuggestions returns suggested profiles.
func (c *Cache) FriendSuggestions() []model.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.suggestions)
}

// MergeFriends merges a fetched friend list by id.
func (c *Cache) MergeFriends(friends []model.Friend) {
	c.mu.Lock()
	for _, f := range friends {
		c.putFriendLocked(f)
	}
	c.mu.Unlock()
	c.notify(KindFriendsChanged, Change{})
}

// AddFriend adds f, replacing any friend with the same id.
func (c *Cache) AddFriend(f model.Friend) {
	if f.ID == "" {
		return
	}
	c.mu.Lock()
	c.putFriendLocked(f)
	c.mu.Unlock()
	c.notify(KindFriendsChanged, Change{UserID: f.ID})
}

func (c *Cache) putFriendLocked(f model.Friend) {
	if f.ID == "" {
		return
	}
	i := slices.IndexFunc(c.friends, func(x model.Friend) bool { return x.ID == f.ID })
	if i >= 0 {
		c.friends[i] = f
		return
	}
	c.friends = append(c.friends, f)
}

// ReplaceFriendRequests sets the pending request list.
func (c *Cache) ReplaceFriendRequests(reqs []model.FriendRequest) {
	c.mu.Lock()
	c.requests = slices.Clone(reqs)
	c.mu.Unlock()
	c.notify(KindRequestsChanged, Change{})
}

// AddFriendRequest appends r unless a request with its id is already held.
func (c *Cache) AddFriendRequest(r model.FriendRequest) {
	if r.ID == "" {
		return
	}
	c.mu.Lock()
	if i := c.indexOfRequest(r.ID); i >= 0 {
		c.requests[i] = r
	} else {
		c.requests = append(c.requests, r)
	}
	c.mu.Unlock()
	c.notify(KindRequestsChanged, Change{UserID: r.From.ID})
}

// RemoveFriendRequest drops the request with id.
func (c *Cache) RemoveFriendRequest(id model.ID) {
	c.mu.Lock()
	i := c.indexOfRequest(id)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	c.requests = slices.Delete(c.requests, i, i+1)
	c.mu.Unlock()
	c.notify(KindRequestsChanged, Change{})
}

func (c *Cache) indexOfRequest(id model.ID) int {
	return slices.IndexFunc(c.requests, func(x model.FriendRequest) bool { return x.ID == id })
}

// ReplaceSuggestions sets the suggestion list.
func (c *Cache) ReplaceSuggestions(profiles []model.Profile) {
	c.mu.Lock()
	c.suggestions = slices.Clone(profiles)
	c.mu.Unlock()
	c.notify(KindSuggestionsChanged, Change{})
}

// RemoveSuggestion drops the suggested profile with userID.
func (c *Cache) RemoveSuggestion(userID model.ID) {
	c.mu.Lock()
	i := slices.IndexFunc(c.suggestions, func(p model.Profile) bool { return p.ID == userID })
	if i < 0 {
		c.mu.Unlock()
		return
	}
	c.suggestions = slices.Delete(c.suggestions, i, i+1)
	c.mu.Unlock()
	c.notify(KindSuggestionsChanged, Change{UserID: userID})
}
