package chatcache

import "sync"

const unknownMemberName = "Unknown"

// MemberDirectory resolves author ids carried by peer rows to profiles.
type MemberDirectory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemberDirectory seeds a directory with profiles.
func NewMemberDirectory(profiles ...Profile) *MemberDirectory {
	directory := &MemberDirectory{profiles: make(map[string]Profile, len(profiles))}
	directory.Set(profiles...)
	return directory
}

// Set adds or replaces profiles.
func (d *MemberDirectory) Set(profiles ...Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, profile := range profiles {
		d.profiles[profile.ID] = profile
	}
}

// Resolve returns the profile for id, or a placeholder carrying only the id.
func (d *MemberDirectory) Resolve(id string) Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if profile, ok := d.profiles[id]; ok {
		return profile
	}
	return Profile{ID: id, DisplayName: unknownMemberName}
}
