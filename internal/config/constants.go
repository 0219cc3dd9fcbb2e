package config

const (
	// AttachmentPreview replaces empty text in messageNotification.
	AttachmentPreview = "Sent an attachment"

	// PresenceKeyPrefix namespaces the Redis presence mirror.
	PresenceKeyPrefix = "presence:"

	// Notification types produced by the realtime core.
	NotificationAppointmentReminder = "appointment_reminder"
	NotificationPrescriptionReady   = "prescription_ready"

	ReminderSoonMessage     = "Your appointment is starting in 15 minutes"
	ReminderNowMessage      = "Your appointment is starting in 5 minutes"
	PrescriptionReadyNotice = "Your prescription is ready for download"
)
