package service

import (
	"context"

	"go.uber.org/zap"

	"dmcore/internal/domain"
	"dmcore/internal/security"
)

// DecryptionPipeline turns stored messages into caller-facing views.
// A message that fails to decrypt is replaced with UnavailableContent;
// Render itself never fails.
type DecryptionPipeline struct {
	keys   *security.KeyDeriver
	cipher *security.MessageCipher
	log    *zap.Logger
}

func NewDecryptionPipeline(keys *security.KeyDeriver, cipher *security.MessageCipher, log *zap.Logger) *DecryptionPipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &DecryptionPipeline{keys: keys, cipher: cipher, log: log}
}

// Render decrypts msgs, all of which belong to conv. The conversation key is
// derived at most once per call and dropped when Render returns.
func (p *DecryptionPipeline) Render(ctx context.Context, conv *domain.Conversation, msgs []*domain.Message) []*MessageResponse {
	out := make([]*MessageResponse, 0, len(msgs))

	var (
		key     security.Key
		keyErr  error
		derived bool
	)
	for _, m := range msgs {
		if !m.Encrypted {
			out = append(out, newMessageResponse(m, m.Content, false))
			continue
		}
		if !derived {
			key, keyErr = p.keys.Derive(conv.ParticipantA, conv.ParticipantB)
			derived = true
			if keyErr != nil {
				p.log.Error("derive conversation key",
					zap.String("conversation_id", conv.ID), zap.Error(keyErr))
			}
		}
		if keyErr != nil {
			out = append(out, newMessageResponse(m, UnavailableContent, true))
			continue
		}

		plain, err := p.cipher.Decrypt(m.Content, key)
		if err != nil {
			p.log.Warn("message decrypt failed",
				zap.String("conversation_id", conv.ID),
				zap.String("message_id", m.ID),
				zap.Error(err))
			out = append(out, newMessageResponse(m, UnavailableContent, true))
			continue
		}
		out = append(out, newMessageResponse(m, plain, false))
	}
	return out
}
