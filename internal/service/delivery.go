package service

import (
	"context"

	"github.com/google/uuid"
)

// BlockChecker reports whether userID has blocked otherID.
type BlockChecker interface {
	IsBlocked(ctx context.Context, userID, otherID uuid.UUID) (bool, error)
}

// BlockPolicy allows delivery unless the recipient has blocked the sender.
type BlockPolicy struct {
	checker BlockChecker
}

func NewBlockPolicy(checker BlockChecker) *BlockPolicy {
	return &BlockPolicy{checker: checker}
}

func (p *BlockPolicy) MayDeliver(ctx context.Context, senderID, recipientID uuid.UUID) (bool, error) {
	if senderID == recipientID {
		return true, nil
	}
	blocked, err := p.checker.IsBlocked(ctx, recipientID, senderID)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}
