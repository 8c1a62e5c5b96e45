package lifecycle

import (
	"time"

	"tripsync/syncer"
)

// SessionFactory opens syncer sessions against repo. Plans created through it
// are owned by ownerID.
func SessionFactory(repo syncer.Repository, ch syncer.Channel, ownerID string, debounce time.Duration, shareBase string) SyncerFactory {
	return func(o SyncOptions) (Syncer, error) {
		s, err := syncer.NewSession(repo, ch, syncer.Options{
			ItineraryID: o.ItineraryID,
			OwnerID:     ownerID,
			Permission:  o.Permission,
			Debounce:    debounce,
			ShareBase:   shareBase,
			OnRemote:    o.OnRemote,
			OnPushed:    o.OnPushed,
			OnError:     o.OnError,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
