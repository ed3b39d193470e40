package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"peerlink/models"
)

const messageColumns = `message_id, peer_id, body, from_me, transport, status, created_at, updated_at`

// SaveMessage inserts a new message row and returns its ID. An empty
// MessageID is assigned a fresh UUID.
func (s *Store) SaveMessage(message models.Message) (string, error) {
	if strings.TrimSpace(message.PeerID) == "" {
		return "", errors.New("peer_id is required")
	}
	if err := validateTransport(message.Transport); err != nil {
		return "", err
	}
	if message.Status == "" {
		if message.FromMe {
			message.Status = models.StatusSending
		} else {
			message.Status = models.StatusSent
		}
	}
	if err := validateDeliveryStatus(message.Status); err != nil {
		return "", err
	}
	if message.MessageID == "" {
		message.MessageID = uuid.NewString()
	}
	if message.CreatedAt == 0 {
		message.CreatedAt = nowUnixMilli()
	}

	body, err := s.sealer.Seal([]byte(message.Body))
	if err != nil {
		return "", fmt.Errorf("seal message %q: %w", message.MessageID, err)
	}

	fromMe := 0
	if message.FromMe {
		fromMe = 1
	}

	_, err = s.db.Exec(
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID,
		message.PeerID,
		body,
		fromMe,
		string(message.Transport),
		string(message.Status),
		message.CreatedAt,
		message.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert message %q: %w", message.MessageID, err)
	}

	s.notifyWatchers()
	return message.MessageID, nil
}

// UpdateDeliveryStatus updates the status of a stored message.
func (s *Store) UpdateDeliveryStatus(messageID string, status models.DeliveryStatus) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	if err := validateDeliveryStatus(status); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE messages
		SET status = ?, updated_at = ?
		WHERE message_id = ?`,
		string(status),
		nowUnixMilli(),
		messageID,
	)
	if err != nil {
		return fmt.Errorf("update delivery status for message %q: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for update delivery status %q: %w", messageID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.notifyWatchers()
	return nil
}

// GetMessageByID fetches one message by message ID.
func (s *Store) GetMessageByID(messageID string) (*models.Message, error) {
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}

	row := s.db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`,
		messageID,
	)

	message, err := s.scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}
	return message, nil
}

// GetMessages returns the conversation with one peer over one transport,
// oldest first.
func (s *Store) GetMessages(transport models.Transport, peerID string, limit, offset int) ([]models.Message, error) {
	if err := validateTransport(transport); err != nil {
		return nil, err
	}
	if peerID == "" {
		return nil, errors.New("peer_id is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM messages
		WHERE transport = ? AND peer_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ? OFFSET ?`,
		string(transport), peerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages for peer %q: %w", peerID, err)
	}
	messages, err := collect(rows, func(row scanner) (models.Message, error) {
		message, err := s.scanMessage(row)
		if err != nil {
			return models.Message{}, err
		}
		return *message, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get messages for peer %q: %w", peerID, err)
	}
	return messages, nil
}

// GetPeers returns the distinct peers that have messages over a transport,
// most recently active first.
func (s *Store) GetPeers(transport models.Transport) ([]string, error) {
	if err := validateTransport(transport); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT peer_id FROM messages
		WHERE transport = ?
		GROUP BY peer_id
		ORDER BY MAX(created_at) DESC, peer_id ASC`,
		string(transport),
	)
	if err != nil {
		return nil, fmt.Errorf("get peers for transport %q: %w", transport, err)
	}
	peers, err := collect(rows, func(row scanner) (peerID string, err error) {
		err = row.Scan(&peerID)
		return peerID, err
	})
	if err != nil {
		return nil, fmt.Errorf("get peers for transport %q: %w", transport, err)
	}
	return peers, nil
}

// collect drains and closes rows through scan. It never returns a nil slice
// on success.
func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) scanMessage(row scanner) (*models.Message, error) {
	var (
		message   models.Message
		body      string
		fromMe    int
		transport string
		status    string
	)

	if err := row.Scan(
		&message.MessageID,
		&message.PeerID,
		&body,
		&fromMe,
		&transport,
		&status,
		&message.CreatedAt,
		&message.UpdatedAt,
	); err != nil {
		return nil, err
	}

	plain, err := s.sealer.Open(body)
	if err != nil {
		return nil, fmt.Errorf("open message %q: %w", message.MessageID, err)
	}
	message.Body = string(plain)
	message.FromMe = fromMe == 1
	message.Transport = models.Transport(transport)
	message.Status = models.DeliveryStatus(status)

	return &message, nil
}
