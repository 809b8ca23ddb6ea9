package store

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// UploadChannelStore maps a guild to its clip upload channel. It is not persisted.
type UploadChannelStore struct {
	mu       sync.RWMutex
	channels map[snowflake.ID]snowflake.ID
}

// NewUploadChannelStore creates an empty store
func NewUploadChannelStore() *UploadChannelStore {
	return &UploadChannelStore{channels: make(map[snowflake.ID]snowflake.ID)}
}

// Get returns the upload channel of a guild
func (s *UploadChannelStore) Get(guildID snowflake.ID) (snowflake.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.channels[guildID]
	return id, ok
}

// Set designates channelID as the upload channel of a guild
func (s *UploadChannelStore) Set(guildID, channelID snowflake.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[guildID] = channelID
}

// Remove clears the upload channel of a guild
func (s *UploadChannelStore) Remove(guildID snowflake.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, guildID)
}
