package offline

import (
	"fmt"

	"github.com/trezcool/masomo-sync/core"
)

// Profile is the set of stores one portal queues offline, and the lock its drains share.
type Profile struct {
	Name     string
	LockName string
	Stores   []string
}

var (
	TeacherProfile = Profile{
		Name:     "teacher",
		LockName: "teacher-offline-sync",
		Stores:   []string{"attendance", "assessments", "activities"},
	}

	CoordinatorProfile = Profile{
		Name:     "coordinator",
		LockName: "coordinator-offline-sync",
		Stores:   []string{"teachers", "classes", "attendance"},
	}

	profiles = map[string]Profile{
		TeacherProfile.Name:     TeacherProfile,
		CoordinatorProfile.Name: CoordinatorProfile,
	}
)

func ProfileByName(name string) (Profile, error) {
	p, ok := profiles[core.CleanString(name, true)]
	if !ok {
		return Profile{}, fmt.Errorf("unknown sync profile %q", name)
	}
	return p, nil
}

// Handlers registers every store of the profile, all submitted through s.
func (p Profile) Handlers(s Submitter, logger core.Logger) *Handlers {
	h := NewHandlers(logger)
	for _, store := range p.Stores {
		h.Register(store, SubmitterHandlers(s))
	}
	return h
}
