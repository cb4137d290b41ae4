package services

import (
	"time"

	"github.com/welldanyogia/webrana-mailengine/internal/models"
)

// EventNotifier is told about stored messages and finished syncs so live
// clients can refresh. Implementations must not block.
type EventNotifier interface {
	MessageStored(msg *models.EmailMessage)
	SyncCompleted(accountID uint, messageCount, newMessages int, at time.Time)
}

type nopNotifier struct{}

func (nopNotifier) MessageStored(*models.EmailMessage) {}
func (nopNotifier) SyncCompleted(uint, int, int, time.Time) {}
