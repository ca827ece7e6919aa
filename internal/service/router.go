package service

import "handyhub_push/internal/model"

// Route maps a notification to its in-app destination. It is pure: the
// same record always yields the same target, and unknown types yield none.
func Route(record model.NotificationRecord) (model.NavigationTarget, bool) {
	switch record.Type {
	case model.NotificationTypeBooking, model.NotificationTypeCompletion, model.NotificationTypeBackjob:
		return model.NavigationTarget{Screen: model.ScreenActiveJobs}, true

	case model.NotificationTypeMessage:
		// Fail closed: a chat screen without a conversation is broken.
		conversationID, ok := model.PayloadString(record.Payload, model.PayloadKeyConversationID)
		if !ok {
			return model.NavigationTarget{}, false
		}
		return model.NavigationTarget{
			Screen: model.ScreenChat,
			Params: map[string]string{model.PayloadKeyConversationID: conversationID},
		}, true

	case model.NotificationTypeVerification, model.NotificationTypeCertificate:
		return model.NavigationTarget{Screen: model.ScreenProfile}, true

	default:
		return model.NavigationTarget{}, false
	}
}
