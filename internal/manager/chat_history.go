package manager

import (
	"context"

	"sessiond/internal/engine"
	"sessiond/internal/history"
	"sessiond/pkg/types"
)

// ownedChat returns the chat context owned solely by trackingID.
func (m *Manager) ownedChat(trackingID string) (*chatContext, error) {
	c, ok := m.current.(*chatContext)
	if !ok {
		return nil, ErrPrecondition("current context is " + string(m.current.kind()) + ", not chat")
	}
	if !c.members.Only(trackingID) {
		return nil, ErrPrecondition("chat context is not owned by " + trackingID)
	}
	return c, nil
}

// LoadChatHistory brings the chat context of trackingID to the history the
// caller refers to. Resolution order:
//
//  1. fp equals the fingerprint of the in-memory history: nothing to do.
//  2. the history store holds a history for fp: it is installed.
//  3. explicit is non-nil: it is installed and its fingerprint returned.
//  4. otherwise ("", false) is returned and nothing changes; the caller must
//     resend the full history.
func (m *Manager) LoadChatHistory(ctx context.Context, trackingID string, mf types.Manifest, fp string, explicit []engine.Turn) (string, bool, error) {
	c, err := m.ownedChat(trackingID)
	if err != nil {
		m.log.Error().Err(err).Str("tracking_id", trackingID).Msg("load chat history")
		return "", false, err
	}
	if fp != "" {
		if history.Fingerprint(c.session.History()) == fp {
			return fp, true, nil
		}
		turns, ok, err := m.history.Load(ctx, trackingID, mf, fp)
		if err != nil {
			m.log.Warn().Err(err).Str("tracking_id", trackingID).Msg("chat history lookup failed")
		}
		if ok {
			c.session.SetHistory(turns)
			return fp, true, nil
		}
	}
	if explicit != nil {
		c.session.SetHistory(explicit)
		return history.Fingerprint(explicit), true, nil
	}
	return "", false, nil
}

// SaveChatHistory persists the in-memory history of trackingID's chat and
// returns its fingerprint.
func (m *Manager) SaveChatHistory(ctx context.Context, trackingID string, mf types.Manifest) (string, error) {
	c, err := m.ownedChat(trackingID)
	if err != nil {
		m.log.Error().Err(err).Str("tracking_id", trackingID).Msg("save chat history")
		return "", err
	}
	return m.history.Save(ctx, trackingID, mf, c.session.History())
}

// ForgetChatHistory drops persisted histories of trackingID. Best effort.
func (m *Manager) ForgetChatHistory(ctx context.Context, trackingID string) {
	if err := m.history.Remove(ctx, trackingID); err != nil {
		m.log.Warn().Err(err).Str("tracking_id", trackingID).Msg("remove chat history failed")
	}
}
