package storage

import (
	"context"
	"errors"

	"peerlink/models"
)

const watchLimit = 1000

// WatchMessages streams the conversation with one peer over one transport.
// The current rows are sent first, then a fresh snapshot after every write.
// The channel closes when ctx ends, the store closes, or a query fails.
func (s *Store) WatchMessages(ctx context.Context, transport models.Transport, peerID string) (<-chan []models.Message, error) {
	if err := validateTransport(transport); err != nil {
		return nil, err
	}
	if peerID == "" {
		return nil, errors.New("peer_id is required")
	}

	changed, cancel := s.subscribe()
	if changed == nil {
		return nil, errors.New("storage: store is closed")
	}

	out := make(chan []models.Message, 1)
	go func() {
		defer close(out)
		defer cancel()

		for {
			messages, err := s.GetMessages(transport, peerID, watchLimit, 0)
			if err != nil {
				return
			}
			select {
			case out <- messages:
			case <-ctx.Done():
				return
			}

			select {
			case _, ok := <-changed:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) subscribe() (<-chan struct{}, func()) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watchers == nil {
		return nil, func() {}
	}
	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch

	return ch, func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if existing, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(existing)
		}
	}
}

func (s *Store) notifyWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) closeWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.watchers = nil
}
